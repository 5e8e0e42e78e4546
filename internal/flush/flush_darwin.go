//go:build darwin

package flush

import (
	"os"

	"golang.org/x/sys/unix"
)

// File syncs f. With full set, F_FULLFSYNC pushes past the drive cache.
func File(f *os.File, full bool) error {
	if full {
		_, err := unix.FcntlInt(f.Fd(), unix.F_FULLFSYNC, 0)
		return err
	}
	return unix.Fsync(int(f.Fd()))
}
