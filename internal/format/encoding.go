package format

import "encoding/binary"

// Binary encoding utilities for little-endian integers.
//
// Every persisted cxmalloc structure is a sequence of little-endian QWORDs.
// Line heads mix narrower fields inside their QWORDs, so 16/24/32-bit helpers
// are provided as well.

// PutU16 writes a uint16 value to the buffer at the specified offset in little-endian format.
func PutU16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:off+2], v)
}

// PutU24 writes the low 24 bits of v at the specified offset in little-endian format.
func PutU24(b []byte, off int, v uint32) {
	_ = b[off+2]
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
}

// PutU32 writes a uint32 value to the buffer at the specified offset in little-endian format.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// PutI32 writes an int32 value to the buffer at the specified offset in little-endian format.
func PutI32(b []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(b[off:off+4], uint32(v))
}

// PutU64 writes a uint64 value to the buffer at the specified offset in little-endian format.
func PutU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// ReadU16 reads a uint16 value from the buffer at the specified offset in little-endian format.
func ReadU16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off : off+2])
}

// ReadU24 reads a 24-bit unsigned value at the specified offset in little-endian format.
func ReadU24(b []byte, off int) uint32 {
	_ = b[off+2]
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16
}

// ReadU32 reads a uint32 value from the buffer at the specified offset in little-endian format.
func ReadU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// ReadI32 reads an int32 value from the buffer at the specified offset in little-endian format.
func ReadI32(b []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(b[off : off+4]))
}

// ReadU64 reads a uint64 value from the buffer at the specified offset in little-endian format.
func ReadU64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}

// BytesToQWords copies src into dst QWORDs, zero padding the tail of the last QWORD.
// Returns the number of QWORDs touched.
func BytesToQWords(dst []uint64, src []byte) int {
	n := QWordCount(len(src))
	for i := 0; i < n; i++ {
		var tmp [8]byte
		copy(tmp[:], src[i*8:])
		dst[i] = binary.LittleEndian.Uint64(tmp[:])
	}
	return n
}

// QWordsToBytes copies QWORDs into dst bytes, truncating at len(dst).
func QWordsToBytes(dst []byte, src []uint64) {
	for i, q := range src {
		off := i * 8
		if off >= len(dst) {
			return
		}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], q)
		copy(dst[off:], tmp[:])
	}
}

// QWordCount returns the number of QWORDs needed to hold n bytes.
func QWordCount(n int) int {
	return (n + 7) / 8
}
