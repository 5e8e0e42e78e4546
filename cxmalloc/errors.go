package cxmalloc

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory indicates block data or an oversized line could not be created.
	ErrOutOfMemory = errors.New("cxmalloc: out of memory")

	// ErrCorruption indicates allocator state or persisted files failed a consistency check.
	ErrCorruption = errors.New("cxmalloc: corruption")

	// ErrCapacity indicates an allocator reached its block limit.
	ErrCapacity = errors.New("cxmalloc: allocator capacity exceeded")

	// ErrFilesystem indicates a persistence file could not be read or written.
	ErrFilesystem = errors.New("cxmalloc: filesystem error")

	// ErrReaderActive indicates a structural change was skipped because the
	// family or allocator is in a readonly section.
	ErrReaderActive = errors.New("cxmalloc: skipped, reader active")

	// ErrDoubleFree indicates a discard of a line that holds no reference.
	ErrDoubleFree = errors.New("cxmalloc: line already free")

	// ErrStaleHandle indicates a handle whose line has been freed or reused.
	ErrStaleHandle = errors.New("cxmalloc: stale handle")

	// ErrTooLarge indicates a size above the largest class with oversized lines disabled.
	ErrTooLarge = errors.New("cxmalloc: size exceeds largest allocator")

	// ErrRenewSkipped indicates Renew left the line in place.
	ErrRenewSkipped = errors.New("cxmalloc: renew skipped")

	// ErrNoSerializer indicates persistence of active lines without a LineSerializer.
	ErrNoSerializer = errors.New("cxmalloc: no line serializer")

	// ErrClosed indicates use of a closed family.
	ErrClosed = errors.New("cxmalloc: family closed")

	// ErrNoLine indicates a lookup matched no active line.
	ErrNoLine = errors.New("cxmalloc: no such line")

	// ErrInvalidDescriptor indicates an unusable family descriptor.
	ErrInvalidDescriptor = errors.New("cxmalloc: invalid descriptor")
)

// CorruptionError describes a failed consistency check. Aidx and Bidx are -1
// when not applicable.
type CorruptionError struct {
	File     string
	Aidx     int
	Bidx     int
	Field    string
	Expected any
	Actual   any
	Cause    error
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	loc := ""
	if e.File != "" {
		loc = " in " + e.File
	}
	msg := fmt.Sprintf("cxmalloc: corruption%s (aidx=%d bidx=%d): %s", loc, e.Aidx, e.Bidx, e.Field)
	if e.Expected != nil || e.Actual != nil {
		msg += fmt.Sprintf(": expected %v, got %v", e.Expected, e.Actual)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns ErrCorruption and the underlying cause.
func (e *CorruptionError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrCorruption, e.Cause}
	}
	return []error{ErrCorruption}
}

// PersistError describes a failed persistence file operation.
type PersistError struct {
	Op    string // "create", "write", "read", "sync", "rename", "remove", "mkdir"
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("cxmalloc: %s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns ErrFilesystem and the underlying cause.
func (e *PersistError) Unwrap() []error {
	return []error{ErrFilesystem, e.Cause}
}

func corrupt(file string, aidx, bidx int, field string, expected, actual any) error {
	return &CorruptionError{File: file, Aidx: aidx, Bidx: bidx, Field: field, Expected: expected, Actual: actual}
}
