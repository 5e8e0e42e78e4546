//go:build unix

// Package mmfile maps cxmalloc persistence files read-only for restore and inspection.
package mmfile

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Map maps the file at path into memory and returns its contents with a release func.
func Map(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close() // mapping keeps pages alive

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()
	if size == 0 {
		return []byte{}, noop, nil
	}
	if size > int64(^uint(0)>>1) {
		return nil, nil, fmt.Errorf("mmfile: %s too large to map (%d bytes)", path, size)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmfile: map %s: %w", path, err)
	}
	released := false
	release := func() error {
		if released {
			return nil
		}
		released = true
		err := syscall.Munmap(data)
		if errors.Is(err, syscall.EINVAL) {
			return nil
		}
		return err
	}
	return data, release, nil
}

func noop() error { return nil }
