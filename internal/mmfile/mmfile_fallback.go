//go:build !unix && !windows

// Package mmfile maps cxmalloc persistence files read-only for restore and inspection.
package mmfile

import "os"

// Map reads the entire file when mmap is not available.
func Map(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, noop, nil
}

func noop() error { return nil }
