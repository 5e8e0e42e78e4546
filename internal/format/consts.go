// Package format houses the low-level codecs for the cxmalloc persistence
// files: the family, allocator and block records, their markers, and the
// 32-byte line head. The goal is to keep encoding bit-exact and free of
// allocator state so the live engine and the offline inspector share it.
package format

var (
	// StartFile opens every family, allocator and block file.
	// Layout (QWORDs):
	//   0x00  FFFFFFFFFFFFFFFF
	//   0x08  FFFFFFFFFFFFFFFF
	//   0x10  FFFFFFFFFFFFFFFF
	//   0x18  A110C00000000000
	StartFile = [4]uint64{
		0xFFFFFFFFFFFFFFFF,
		0xFFFFFFFFFFFFFFFF,
		0xFFFFFFFFFFFFFFFF,
		0xA110C00000000000,
	}

	// EndFile closes every family, allocator and block file.
	EndFile = [4]uint64{
		0xA110C00000000000,
		0xFFFFFFFFFFFFFFFF,
		0xFFFFFFFFFFFFFFFF,
		0xFFFFFFFFFFFFFFFF,
	}
)

const (
	// ObjectSeparator is the first QWORD of every object marker triple.
	ObjectSeparator uint64 = 0x5555555500000000
	// ObjectActive tags a line slot holding a live line.
	ObjectActive uint64 = 0xAAAAAAAA00000000
	// ObjectIdle tags a free line slot.
	ObjectIdle uint64 = 0x1111111100000000

	// NoAIDX marks an absent allocator in the family allocator list.
	NoAIDX uint64 = 0xAAAAAAAA00000000
	// EndAllocators terminates the family allocator list.
	EndAllocators uint64 = 0xEEEEEEEEAAAAAAAA
	// NoBIDX marks an absent block index (and terminates block info lists).
	NoBIDX uint64 = 0xBBBBBBBB00000000
	// NoBlockData replaces the line records of a block without data (a hole).
	NoBlockData uint64 = 0xDDDDDDDD00000000
)

const (
	// HeaderQWords is the size of every file header in QWORDs (1024 bytes).
	HeaderQWords = 128

	// HeaderSize is the size of every file header in bytes.
	HeaderSize = HeaderQWords * 8

	// MarkerQWords is the size of a block info or object marker triple.
	MarkerQWords = 3

	// ShapeQWords is the size of an encoded datashape.
	ShapeQWords = 8

	// LineHeadSize is the size of the line head preceding every line's object and array.
	LineHeadSize = 32

	// MaxBlocks is the number of block slots per allocator (16-bit block index).
	MaxBlocks = 1 << 16

	// OversizedBIDX is the block index stamped on standalone oversized lines.
	OversizedBIDX = 0xFFFF

	// MaxLineOffset is the largest line offset the 24-bit field can hold.
	MaxLineOffset = 1<<24 - 1
)
