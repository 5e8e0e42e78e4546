//go:build windows

package flush

import (
	"os"

	"golang.org/x/sys/windows"
)

// File flushes f with FlushFileBuffers. full is ignored.
func File(f *os.File, _ bool) error {
	return windows.FlushFileBuffers(windows.Handle(f.Fd()))
}
