//go:build windows

package mmfile

import "os"

// Map reads the whole file; persistence files are read once per restore.
func Map(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, noop, nil
}

func noop() error { return nil }
