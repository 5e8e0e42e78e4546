// Package shape computes the quantized size ladder of an allocator family
// and the per-allocator datashape (line and block geometry).
//
// Line sizes grow in 2^S equal steps per power-of-two range, where S is the
// family's subdue exponent. With S=2, 8-byte units and a 32-byte header the
// ladder starts 4, 12, 20, 28, 36, 44, 52, 60, 76 units (64, 128, 192, 256,
// 320, 384, 448, 512, 640 bytes including the header). Every line is a whole number of
// 64-byte cache lines.
package shape

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/joshuapare/cxmalloc/internal/format"
)

var (
	// ErrInvalidConfig indicates unusable calculator parameters.
	ErrInvalidConfig = errors.New("shape: invalid configuration")
	// ErrRoundTrip indicates AIDX(Length(aidx)) != aidx.
	ErrRoundTrip = errors.New("shape: size class round trip failed")
	// ErrNoLines indicates a block too small to hold a single line.
	ErrNoLines = errors.New("shape: block holds no lines")
)

// MaxSubdue bounds the growth exponent.
const MaxSubdue = 8

// Config holds the family parameters the ladder depends on.
type Config struct {
	ObjectSize uint32 // bytes of object header after the 32-byte line head
	UnitSize   uint32 // bytes per array unit, a power of two
	Subdue     uint32
	BlockSize  uint64
	Serialized Serialized
}

// Calculator maps between line lengths and allocator indices.
type Calculator struct {
	header    uint64
	unitOrder uint
	unitSize  uint64
	subdue    uint
	rmin      uint
	block     uint64
	ser       Serialized
}

// HeaderBytes returns the power of two that holds a line head plus objSize bytes.
func HeaderBytes(objSize uint32) uint32 {
	return 1 << (1 + format.ILog2(uint64(format.LineHeadSize)+uint64(objSize)-1))
}

// New validates cfg and returns a Calculator.
func New(cfg Config) (*Calculator, error) {
	if cfg.UnitSize == 0 || cfg.UnitSize&(cfg.UnitSize-1) != 0 {
		return nil, fmt.Errorf("%w: unit size %d is not a power of two", ErrInvalidConfig, cfg.UnitSize)
	}
	if cfg.UnitSize > format.CacheLine {
		return nil, fmt.Errorf("%w: unit size %d exceeds %d", ErrInvalidConfig, cfg.UnitSize, format.CacheLine)
	}
	if cfg.ObjectSize > format.CacheLine-format.LineHeadSize {
		return nil, fmt.Errorf("%w: object size %d exceeds %d", ErrInvalidConfig, cfg.ObjectSize, format.CacheLine-format.LineHeadSize)
	}
	if cfg.Subdue > MaxSubdue {
		return nil, fmt.Errorf("%w: subdue %d exceeds %d", ErrInvalidConfig, cfg.Subdue, MaxSubdue)
	}
	if cfg.BlockSize < format.PageSize {
		return nil, fmt.Errorf("%w: block size %d below page size", ErrInvalidConfig, cfg.BlockSize)
	}
	return &Calculator{
		header:    uint64(HeaderBytes(cfg.ObjectSize)),
		unitOrder: uint(bits.TrailingZeros32(cfg.UnitSize)),
		unitSize:  uint64(cfg.UnitSize),
		subdue:    uint(cfg.Subdue),
		rmin:      6 + uint(cfg.Subdue),
		block:     uint64(format.AlignDownPage(int(cfg.BlockSize))),
		ser:       cfg.Serialized,
	}, nil
}

// HeaderBytes returns the per-line header bytes (line head plus object).
func (c *Calculator) HeaderBytes() uint32 { return uint32(c.header) }

// UnitOrder returns log2 of the unit size.
func (c *Calculator) UnitOrder() uint { return c.unitOrder }

// AIDX returns the allocator index serving a line of size units, and the
// allocated length of that class in units.
func (c *Calculator) AIDX(size uint32) (aidx uint32, alength uint32) {
	b := uint64(size) << c.unitOrder
	if b <= format.CacheLine-c.header {
		// fits in the cache line shared with the header
		return 0, uint32((format.CacheLine - c.header) >> c.unitOrder)
	}
	b += c.header
	var q, a uint64
	if b > 1<<c.rmin {
		r := format.ILog2(b - 1)
		q = 1 << (r - c.subdue)
		a = (uint64(r-c.rmin+1) << c.subdue) + ((b - 1 - (1 << r)) >> (r - c.subdue))
	} else {
		q = format.CacheLine
		a = (b - 1) >> 6
	}
	rounded := (b + q - 1) &^ (q - 1)
	return uint32(a), uint32((rounded - c.header) >> c.unitOrder)
}

// LineBytes returns the total bytes (header included) of a line in class aidx.
func (c *Calculator) LineBytes(aidx uint32) uint64 {
	a := uint64(aidx) + 1
	if a > 1<<c.subdue {
		r := uint(a>>c.subdue) + c.rmin - 1
		return (1 << r) + ((a & (1<<c.subdue - 1)) << (r - c.subdue))
	}
	return a << 6
}

// Length returns the line length in units of class aidx.
func (c *Calculator) Length(aidx uint32) uint32 {
	return uint32((c.LineBytes(aidx) - c.header) >> c.unitOrder)
}

// MaxClasses returns the largest aidx count whose line lengths fit in uint32.
func (c *Calculator) MaxClasses() uint32 {
	limit := uint64(1)<<32 - 1
	var n uint32
	for n < 1<<16 {
		r := uint(uint64(n+1)>>c.subdue) + c.rmin - 1
		if r >= 62 || (c.LineBytes(n)-c.header)>>c.unitOrder > limit {
			break
		}
		n++
	}
	return n
}

// SizeBounds returns the smallest and largest line size (units) served by
// the class that serves size.
func (c *Calculator) SizeBounds(size uint32) (low, high uint32) {
	aidx, high := c.AIDX(size)
	if aidx > 0 {
		low = c.Length(aidx-1) + 1
	}
	return low, high
}

// Compute returns the datashape of class aidx.
func (c *Calculator) Compute(aidx uint32) (Datashape, error) {
	awidth := c.Length(aidx)
	if got, _ := c.AIDX(awidth); got != aidx {
		return Datashape{}, fmt.Errorf("%w: aidx %d -> length %d -> aidx %d", ErrRoundTrip, aidx, awidth, got)
	}
	var s Datashape
	s.Line.AWidth = awidth
	s.Line.UnitSize = uint32(c.unitSize)

	lineBytes := c.header + uint64(awidth)*c.unitSize
	s.Line.Chunks = uint32((lineBytes-1)/format.LineChunk + 1)
	s.Line.Pad = uint32(format.PadTo(int(lineBytes), format.CacheLine))
	s.Line.QWords = uint32((uint64(awidth)*c.unitSize + uint64(s.Line.Pad)) / 8)

	s.Block.Chunks = c.block / format.LineChunk
	quant := c.block / (lineBytes + uint64(s.Line.Pad))
	if quant > format.MaxLineOffset+1 {
		quant = format.MaxLineOffset + 1
	}
	s.Block.Quant = quant
	total := (c.header + 8*uint64(s.Line.QWords)) * quant
	s.Block.Pad = uint64(format.PadTo(int(total%format.PageSize), format.PageSize))

	s.Serialized = c.ser
	if quant < 1 {
		return Datashape{}, fmt.Errorf("%w: aidx %d line %d bytes, block %d bytes", ErrNoLines, aidx, lineBytes, c.block)
	}
	return s, nil
}
