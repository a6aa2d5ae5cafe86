//go:build linux

package pageio

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens path for append-only writing with O_DIRECT, bypassing
// the page cache. alignment is passed through for callers that need to
// round buffer sizes; the open call itself does not depend on it on Linux.
func openDirect(path string, alignment int) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_DIRECT, 0644)
	if err != nil {
		// Some filesystems (tmpfs, overlayfs) reject O_DIRECT outright.
		// Fall back to a buffered file; every Flush/Close still fsyncs.
		if err == unix.EINVAL {
			return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
