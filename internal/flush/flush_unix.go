//go:build linux || freebsd

package flush

import (
	"os"

	"golang.org/x/sys/unix"
)

// File syncs the data of f. full is ignored; fdatasync is sufficient here.
func File(f *os.File, _ bool) error {
	return unix.Fdatasync(int(f.Fd()))
}
