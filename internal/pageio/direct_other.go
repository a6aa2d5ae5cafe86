//go:build !linux && !darwin

package pageio

import "os"

// openDirect falls back to a plain buffered file on platforms without a
// direct-I/O facility we know how to request. AlignedBlockWriter still
// fsyncs on every Flush/Close, so writes are durable, just not
// cache-bypassing.
func openDirect(path string, alignment int) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
}
