package shape

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCalc(t *testing.T, obj, unit, subdue uint32) *Calculator {
	t.Helper()
	c, err := New(Config{ObjectSize: obj, UnitSize: unit, Subdue: subdue, BlockSize: 1 << 20})
	require.NoError(t, err)
	return c
}

func Test_HeaderBytes(t *testing.T) {
	assert.Equal(t, uint32(32), HeaderBytes(0))
	assert.Equal(t, uint32(64), HeaderBytes(1))
	assert.Equal(t, uint32(64), HeaderBytes(32))
}

func Test_Ladder_Subdue2(t *testing.T) {
	c := newCalc(t, 0, 8, 2)

	want := []uint32{4, 12, 20, 28, 36, 44, 52, 60, 76}
	for aidx, length := range want {
		assert.Equal(t, length, c.Length(uint32(aidx)), "aidx %d", aidx)
	}
	assert.Equal(t, uint64(448), c.LineBytes(6))
	assert.Equal(t, uint64(512), c.LineBytes(7))

	aidx, alength := c.AIDX(36)
	assert.Equal(t, uint32(4), aidx)
	assert.Equal(t, uint32(36), alength)

	aidx, alength = c.AIDX(0)
	assert.Equal(t, uint32(0), aidx)
	assert.Equal(t, uint32(4), alength)

	aidx, alength = c.AIDX(29)
	assert.Equal(t, uint32(4), aidx)
	assert.Equal(t, uint32(36), alength)
}

func Test_SizeBounds(t *testing.T) {
	c := newCalc(t, 0, 8, 2)
	low, high := c.SizeBounds(30)
	assert.Equal(t, uint32(29), low)
	assert.Equal(t, uint32(36), high)

	low, high = c.SizeBounds(1)
	assert.Equal(t, uint32(0), low)
	assert.Equal(t, uint32(4), high)
}

// Test_Ladder_Properties checks the round trip, strict growth and covering
// properties across a grid of family parameters, up to the last class whose
// length fits in uint32.
func Test_Ladder_Properties(t *testing.T) {
	for _, obj := range []uint32{0, 8, 32} {
		for _, unit := range []uint32{1, 2, 4, 8, 16} {
			for subdue := uint32(0); subdue <= 4; subdue++ {
				c := newCalc(t, obj, unit, subdue)
				prev := uint32(0)
				top := min(uint32(120), c.MaxClasses())
				require.Greater(t, top, uint32(1))
				for aidx := uint32(0); aidx < top; aidx++ {
					l := c.Length(aidx)
					got, alength := c.AIDX(l)
					require.Equal(t, aidx, got, "obj=%d unit=%d S=%d aidx=%d", obj, unit, subdue, aidx)
					require.Equal(t, l, alength)
					if aidx > 0 {
						require.Greater(t, l, prev, "length must grow (aidx %d)", aidx)
					}
					require.Zero(t, c.LineBytes(aidx)%64, "lines are cache line multiples")
					prev = l
				}

				rng := rand.New(rand.NewSource(42))
				for i := 0; i < 500; i++ {
					x := uint32(rng.Intn(int(prev)))
					aidx, alength := c.AIDX(x)
					require.GreaterOrEqual(t, c.Length(aidx), x)
					require.Equal(t, c.Length(aidx), alength)
					if aidx > 0 {
						require.Less(t, c.Length(aidx-1), x, "class %d is the smallest fit for %d", aidx, x)
					}
				}
			}
		}
	}
}

func Test_Compute(t *testing.T) {
	c := newCalc(t, 0, 8, 2)

	s, err := c.Compute(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), s.Line.AWidth)
	assert.Equal(t, uint32(2), s.Line.Chunks)
	assert.Equal(t, uint32(0), s.Line.Pad)
	assert.Equal(t, uint32(4), s.Line.QWords)
	assert.Equal(t, uint64(32768), s.Block.Chunks)
	assert.Equal(t, uint64(16384), s.Block.Quant)
	assert.Equal(t, uint64(0), s.Block.Pad)
	assert.Equal(t, 64, s.Stride(c.HeaderBytes()))

	s, err = c.Compute(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(3276), s.Block.Quant)
	assert.Equal(t, uint64(256), s.Block.Pad)
	assert.Equal(t, 320, s.Stride(c.HeaderBytes()))
}

func Test_Compute_NoLines(t *testing.T) {
	c, err := New(Config{UnitSize: 8, Subdue: 0, BlockSize: 4096})
	require.NoError(t, err)
	// aidx 7 with S=0 is 8192 bytes per line
	_, err = c.Compute(7)
	require.True(t, errors.Is(err, ErrNoLines))
}

func Test_New_Invalid(t *testing.T) {
	_, err := New(Config{UnitSize: 12, BlockSize: 1 << 20})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{UnitSize: 8, ObjectSize: 40, BlockSize: 1 << 20})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{UnitSize: 8, BlockSize: 100})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func Test_Datashape_Encode(t *testing.T) {
	c, err := New(Config{UnitSize: 8, Subdue: 2, BlockSize: 1 << 20, Serialized: Serialized{MetaSize: 16, ObjSize: 0, UnitSize: 8}})
	require.NoError(t, err)
	s, err := c.Compute(5)
	require.NoError(t, err)

	q := s.Encode()
	assert.Equal(t, uint64(s.Line.AWidth)|8<<32, q[0])
	assert.Equal(t, s.Block.Quant, q[5])
	assert.Equal(t, s, Decode(q))

	// meta 16 bytes + array 44 units of 8 bytes
	assert.Equal(t, 2+0+44, s.LineQWords())
}

func Test_MaxClasses(t *testing.T) {
	c := newCalc(t, 0, 8, 2)
	n := c.MaxClasses()
	require.Greater(t, n, uint32(100))
	require.Less(t, n, uint32(1<<16))
	top := c.LineBytes(n - 1)
	require.LessOrEqual(t, (top-uint64(c.HeaderBytes()))>>c.UnitOrder(), uint64(1<<32-1))
}
