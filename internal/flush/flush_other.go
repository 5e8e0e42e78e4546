//go:build !linux && !freebsd && !darwin && !windows

package flush

import "os"

// File falls back to (*os.File).Sync.
func File(f *os.File, _ bool) error {
	return f.Sync()
}
