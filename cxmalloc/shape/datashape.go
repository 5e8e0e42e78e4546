package shape

import (
	"fmt"

	"github.com/joshuapare/cxmalloc/internal/format"
)

// LineShape is the in-memory geometry of one line.
type LineShape struct {
	AWidth   uint32 // array length in units
	UnitSize uint32
	Chunks   uint32 // 32-byte chunks covering header and array
	Pad      uint32 // bytes padding the line to a cache line multiple
	QWords   uint32 // QWORDs of array plus pad
}

// BlockShape is the in-memory geometry of one block.
type BlockShape struct {
	Chunks uint64 // 32-byte chunks in the block budget
	Pad    uint64 // bytes padding the lines to a page multiple
	Quant  uint64 // lines per block
}

// Serialized holds the persisted byte sizes of each line region.
type Serialized struct {
	MetaSize uint32
	ObjSize  uint32
	UnitSize uint32
}

// Datashape describes line and block geometry for one allocator.
type Datashape struct {
	Line       LineShape
	Block      BlockShape
	Serialized Serialized
}

// Stride returns the distance in bytes between consecutive lines of a block.
func (s Datashape) Stride(headerBytes uint32) int {
	return int(headerBytes) + 8*int(s.Line.QWords)
}

// ArrayBytes returns the byte length of a line's array region.
func (s Datashape) ArrayBytes() int {
	return int(s.Line.AWidth) * int(s.Line.UnitSize)
}

// MetaQWords returns the serialized QWORDs of a line's metaflex.
func (s Datashape) MetaQWords() int { return format.QWordCount(int(s.Serialized.MetaSize)) }

// ObjectQWords returns the serialized QWORDs of a line's object header.
func (s Datashape) ObjectQWords() int { return format.QWordCount(int(s.Serialized.ObjSize)) }

// ArrayQWords returns the serialized QWORDs of a line's array.
func (s Datashape) ArrayQWords() int {
	return format.QWordCount(int(s.Serialized.UnitSize) * int(s.Line.AWidth))
}

// LineQWords returns the serialized QWORDs of one line record in a block base file.
func (s Datashape) LineQWords() int {
	return s.MetaQWords() + s.ObjectQWords() + s.ArrayQWords()
}

// Encode renders the datashape as the 8 QWORDs echoed in allocator files.
func (s Datashape) Encode() [format.ShapeQWords]uint64 {
	return [format.ShapeQWords]uint64{
		uint64(s.Line.AWidth) | uint64(s.Line.UnitSize)<<32,
		uint64(s.Line.Chunks) | uint64(s.Line.Pad)<<32,
		uint64(s.Line.QWords),
		s.Block.Chunks,
		s.Block.Pad,
		s.Block.Quant,
		uint64(s.Serialized.MetaSize) | uint64(s.Serialized.ObjSize)<<32,
		uint64(s.Serialized.UnitSize),
	}
}

// Decode parses an encoded datashape.
func Decode(q [format.ShapeQWords]uint64) Datashape {
	return Datashape{
		Line: LineShape{
			AWidth:   uint32(q[0]),
			UnitSize: uint32(q[0] >> 32),
			Chunks:   uint32(q[1]),
			Pad:      uint32(q[1] >> 32),
			QWords:   uint32(q[2]),
		},
		Block: BlockShape{Chunks: q[3], Pad: q[4], Quant: q[5]},
		Serialized: Serialized{
			MetaSize: uint32(q[6]),
			ObjSize:  uint32(q[6] >> 32),
			UnitSize: uint32(q[7]),
		},
	}
}

func (s Datashape) String() string {
	return fmt.Sprintf("awidth=%d unit=%d chunks=%d pad=%d qwords=%d | block chunks=%d pad=%d quant=%d | ser meta=%d obj=%d unit=%d",
		s.Line.AWidth, s.Line.UnitSize, s.Line.Chunks, s.Line.Pad, s.Line.QWords,
		s.Block.Chunks, s.Block.Pad, s.Block.Quant,
		s.Serialized.MetaSize, s.Serialized.ObjSize, s.Serialized.UnitSize)
}
