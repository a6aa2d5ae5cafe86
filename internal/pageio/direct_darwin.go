//go:build darwin

package pageio

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens path normally and then asks the kernel to bypass the
// unified buffer cache for this file descriptor via F_NOCACHE, which is
// Darwin's equivalent of O_DIRECT.
func openDirect(path string, alignment int) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_NOCACHE, 1); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
