package format

import "errors"

var (
	// ErrSignatureMismatch indicates a start or end marker had an unexpected value.
	ErrSignatureMismatch = errors.New("format: marker mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrBadMarker indicates an object or list marker QWORD was not recognized.
	ErrBadMarker = errors.New("format: unrecognized marker")
)
