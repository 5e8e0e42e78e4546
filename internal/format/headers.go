package format

import "fmt"

// FamilyHeader is the 1024-byte header of an aset_[min-max].dat file.
//
// Layout (QWORD index):
//
//	0..3   StartFile
//	4      size (number of allocators)
//	5..7   reserved
//	8      meta serialized size
//	9      object size
//	10     object serialized size
//	11     unit size
//	12     unit serialized size
//	13     block size
//	14     line limit
//	15     subdue
//	16     allow oversized
//	17     max allocators
//	18..   reserved
type FamilyHeader struct {
	Size             uint64
	MetaSerialized   uint64
	ObjectSize       uint64
	ObjectSerialized uint64
	UnitSize         uint64
	UnitSerialized   uint64
	BlockSize        uint64
	LineLimit        uint64
	Subdue           uint64
	AllowOversized   uint64
	MaxAllocators    uint64
}

// Encode renders the header as 128 QWORDs.
func (h *FamilyHeader) Encode() []uint64 {
	q := make([]uint64, HeaderQWords)
	copy(q[0:4], StartFile[:])
	q[4] = h.Size
	q[8] = h.MetaSerialized
	q[9] = h.ObjectSize
	q[10] = h.ObjectSerialized
	q[11] = h.UnitSize
	q[12] = h.UnitSerialized
	q[13] = h.BlockSize
	q[14] = h.LineLimit
	q[15] = h.Subdue
	q[16] = h.AllowOversized
	q[17] = h.MaxAllocators
	return q
}

// DecodeFamilyHeader parses 128 QWORDs, verifying the start marker.
func DecodeFamilyHeader(q []uint64) (FamilyHeader, error) {
	if len(q) < HeaderQWords {
		return FamilyHeader{}, ErrTruncated
	}
	if err := ExpectStart(q); err != nil {
		return FamilyHeader{}, err
	}
	return FamilyHeader{
		Size:             q[4],
		MetaSerialized:   q[8],
		ObjectSize:       q[9],
		ObjectSerialized: q[10],
		UnitSize:         q[11],
		UnitSerialized:   q[12],
		BlockSize:        q[13],
		LineLimit:        q[14],
		Subdue:           q[15],
		AllowOversized:   q[16],
		MaxAllocators:    q[17],
	}, nil
}

// Fields lists the descriptor echo fields in file order, for compatibility checks.
func (h *FamilyHeader) Fields() []Field {
	return []Field{
		{"size", h.Size},
		{"meta_ser_sz", h.MetaSerialized},
		{"obj_sz", h.ObjectSize},
		{"obj_ser_sz", h.ObjectSerialized},
		{"unit_sz", h.UnitSize},
		{"unit_ser_sz", h.UnitSerialized},
		{"param_block_sz", h.BlockSize},
		{"param_line_limit", h.LineLimit},
		{"param_subdue", h.Subdue},
		{"param_ovsz", h.AllowOversized},
		{"param_max_alloc", h.MaxAllocators},
	}
}

// Field is a named header QWORD.
type Field struct {
	Name  string
	Value uint64
}

// AllocatorHeader is the 1024-byte header of an ax_<aidx>.dat file.
//
// Layout (QWORD index):
//
//	0..3   StartFile
//	4..7   reserved
//	8      aidx
//	9      number of blocks (space)
//	10     head bidx (or NoBIDX)
//	11     last re-use bidx (or NoBIDX)
//	12     last hole bidx (or NoBIDX)
//	13..15 reserved
//	16..23 datashape
type AllocatorHeader struct {
	AIDX          uint64
	NumBlocks     uint64
	HeadBIDX      uint64
	LastReuseBIDX uint64
	LastHoleBIDX  uint64
	Shape         [ShapeQWords]uint64
}

// Encode renders the header as 128 QWORDs.
func (h *AllocatorHeader) Encode() []uint64 {
	q := make([]uint64, HeaderQWords)
	copy(q[0:4], StartFile[:])
	q[8] = h.AIDX
	q[9] = h.NumBlocks
	q[10] = h.HeadBIDX
	q[11] = h.LastReuseBIDX
	q[12] = h.LastHoleBIDX
	copy(q[16:24], h.Shape[:])
	return q
}

// DecodeAllocatorHeader parses 128 QWORDs, verifying the start marker.
func DecodeAllocatorHeader(q []uint64) (AllocatorHeader, error) {
	if len(q) < HeaderQWords {
		return AllocatorHeader{}, ErrTruncated
	}
	if err := ExpectStart(q); err != nil {
		return AllocatorHeader{}, err
	}
	h := AllocatorHeader{
		AIDX:          q[8],
		NumBlocks:     q[9],
		HeadBIDX:      q[10],
		LastReuseBIDX: q[11],
		LastHoleBIDX:  q[12],
	}
	copy(h.Shape[:], q[16:24])
	return h, nil
}

// BlockHeader is the 1024-byte header shared by a block's .bas and .ext files.
//
// Layout (QWORD index):
//
//	0..3   StartFile
//	4..7   reserved
//	8      bidx
//	9      quant (lines per block)
//	10     number of active lines
//	11     1 if block data is allocated
type BlockHeader struct {
	BIDX      uint64
	Quant     uint64
	NActive   uint64
	Allocated uint64
}

// Encode renders the header as 128 QWORDs.
func (h *BlockHeader) Encode() []uint64 {
	q := make([]uint64, HeaderQWords)
	copy(q[0:4], StartFile[:])
	q[8] = h.BIDX
	q[9] = h.Quant
	q[10] = h.NActive
	q[11] = h.Allocated
	return q
}

// DecodeBlockHeader parses 128 QWORDs, verifying the start marker.
func DecodeBlockHeader(q []uint64) (BlockHeader, error) {
	if len(q) < HeaderQWords {
		return BlockHeader{}, ErrTruncated
	}
	if err := ExpectStart(q); err != nil {
		return BlockHeader{}, err
	}
	return BlockHeader{
		BIDX:      q[8],
		Quant:     q[9],
		NActive:   q[10],
		Allocated: q[11],
	}, nil
}

// BlockInfo is the (bidx, n_active, allocated) triple of an allocator file.
type BlockInfo struct {
	BIDX      uint64
	NActive   uint64
	Allocated uint64
}

// EndBlockInfo terminates the index list and the chain list.
var EndBlockInfo = BlockInfo{BIDX: NoBIDX}

// Encode renders the triple.
func (b BlockInfo) Encode() [MarkerQWords]uint64 {
	return [MarkerQWords]uint64{b.BIDX, b.NActive, b.Allocated}
}

// DecodeBlockInfo parses a triple.
func DecodeBlockInfo(q []uint64) BlockInfo {
	return BlockInfo{BIDX: q[0], NActive: q[1], Allocated: q[2]}
}

// IsEnd reports whether the triple is the list terminator.
func (b BlockInfo) IsEnd() bool {
	return b.BIDX == NoBIDX
}

// ObjectMarker precedes every line record in a .bas file and every active
// line's variable data in the matching .ext file.
type ObjectMarker struct {
	Separator uint64
	Number    uint64
	Active    uint64
}

// NewObjectMarker builds the marker for slot n.
func NewObjectMarker(n uint64, active bool) ObjectMarker {
	m := ObjectMarker{Separator: ObjectSeparator, Number: n, Active: ObjectIdle}
	if active {
		m.Active = ObjectActive
	}
	return m
}

// Encode renders the marker triple.
func (m ObjectMarker) Encode() [MarkerQWords]uint64 {
	return [MarkerQWords]uint64{m.Separator, m.Number, m.Active}
}

// DecodeObjectMarker parses a triple.
func DecodeObjectMarker(q []uint64) ObjectMarker {
	return ObjectMarker{Separator: q[0], Number: q[1], Active: q[2]}
}

// Validate checks the separator and the expected slot number.
func (m ObjectMarker) Validate(n uint64) error {
	if m.Separator != ObjectSeparator {
		return fmt.Errorf("%w: separator 0x%016x at object %d", ErrBadMarker, m.Separator, n)
	}
	if m.Number != n {
		return fmt.Errorf("%w: object number %d, expected %d", ErrBadMarker, m.Number, n)
	}
	return nil
}

// IsActive reports whether the marker tags an active line.
func (m ObjectMarker) IsActive() bool {
	return m.Active == ObjectActive
}

// ExpectStart verifies the first four QWORDs are the start marker.
func ExpectStart(q []uint64) error {
	if len(q) < 4 {
		return ErrTruncated
	}
	for i, v := range StartFile {
		if q[i] != v {
			return fmt.Errorf("%w: start qword %d = 0x%016x", ErrSignatureMismatch, i, q[i])
		}
	}
	return nil
}

// ExpectEnd verifies four QWORDs are the end marker.
func ExpectEnd(q []uint64) error {
	if len(q) < 4 {
		return ErrTruncated
	}
	for i, v := range EndFile {
		if q[i] != v {
			return fmt.Errorf("%w: end qword %d = 0x%016x", ErrSignatureMismatch, i, q[i])
		}
	}
	return nil
}
