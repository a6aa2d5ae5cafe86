// Package config loads store-wide tuning parameters and wires the
// optional periodic-checkpoint scheduler on top of them.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the tuning knobs for a store instance: page geometry,
// buffer pool sizing, and the checkpoint cadence used by Scheduler.
type Config struct {
	PageSize       int    `yaml:"page_size"`
	Alignment      int    `yaml:"alignment"`
	BufferPoolSize int    `yaml:"buffer_pool_size"`
	DataDir        string `yaml:"data_dir"`
	WALPath        string `yaml:"wal_path"`

	Checkpoint CheckpointConfig `yaml:"checkpoint"`
}

// CheckpointConfig configures the optional periodic checkpoint scheduler.
// It is opt-in: a zero value disables it.
type CheckpointConfig struct {
	// Enabled turns on the cron-driven checkpoint loop.
	Enabled bool `yaml:"enabled"`
	// Schedule is a robfig/cron/v3 expression, e.g. "0 */5 * * * *" for
	// every 5 minutes (seconds field included).
	Schedule string `yaml:"schedule"`
	// CoalesceWindowMillis bounds how close together two manually
	// triggered checkpoint requests can be before they're merged into
	// one actual checkpoint.
	CoalesceWindowMillis int `yaml:"coalesce_window_millis"`
}

// Default returns the configuration the store uses when no file is
// supplied: a 4KiB page aligned to the common 4KiB logical sector size, a
// 1024-page buffer pool, and checkpoint scheduling disabled.
func Default() Config {
	return Config{
		PageSize:       4096,
		Alignment:      4096,
		BufferPoolSize: 1024,
		DataDir:        ".",
		WALPath:        "store.wal",
		Checkpoint: CheckpointConfig{
			Enabled:              false,
			Schedule:             "0 */5 * * * *",
			CoalesceWindowMillis: 500,
		},
	}
}

// Load reads a YAML configuration file, applying it on top of Default so
// that an omitted field keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}
