package format

import (
	"fmt"
	"path/filepath"
)

// File name templates under a family's persistence directory.

// FamilyFile returns the family binary state path.
func FamilyFile(dir string, minLen, maxLen uint32) string {
	return filepath.Join(dir, fmt.Sprintf("aset_[%d-%d].dat", minLen, maxLen))
}

// FamilyReport returns the human-readable family summary path.
func FamilyReport(dir string, minLen, maxLen uint32) string {
	return filepath.Join(dir, fmt.Sprintf("aset_[%d-%d].adoc", minLen, maxLen))
}

// AllocatorFile returns the allocator binary state path.
func AllocatorFile(dir string, aidx uint16) string {
	return filepath.Join(dir, fmt.Sprintf("ax_%04x.dat", aidx))
}

// BlockBaseFile returns the fixed-size line record path of a block.
func BlockBaseFile(dir string, aidx, bidx uint16) string {
	return filepath.Join(dir, fmt.Sprintf("bx_%04x%04x.bas", aidx, bidx))
}

// BlockExtFile returns the variable-size line data path of a block.
func BlockExtFile(dir string, aidx, bidx uint16) string {
	return filepath.Join(dir, fmt.Sprintf("bx_%04x%04x.ext", aidx, bidx))
}

// EncodeName renders a string as a QWORD byte length followed by NUL padded QWORDs.
// At least one NUL terminator is always present.
func EncodeName(s string) []uint64 {
	b := append([]byte(s), 0)
	q := make([]uint64, 1+QWordCount(len(b)))
	q[0] = uint64(len(s))
	BytesToQWords(q[1:], b)
	return q
}

// NameQWords returns the number of payload QWORDs following the length QWORD.
func NameQWords(n uint64) int {
	return QWordCount(int(n) + 1)
}

// DecodeName parses the payload QWORDs of an encoded name of length n.
func DecodeName(n uint64, q []uint64) string {
	b := make([]byte, len(q)*8)
	QWordsToBytes(b, q)
	if int(n) > len(b) {
		n = uint64(len(b))
	}
	return string(b[:n])
}
