package linehead

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Head_Layout(t *testing.T) {
	h := Head(make([]byte, 64))
	h.Init(0x0102, 0x0304, 0x050607, 44)
	h.SetMeta(Metaflex{M1: 0x1111, M2: 0x2222})
	h.SetFlags(Active | Modified)
	h.SetRefCount(3)

	assert.Equal(t, byte(0x18), h[16])
	assert.Equal(t, []byte{0x07, 0x06, 0x05}, []byte(h[17:20]))
	assert.Equal(t, []byte{0x04, 0x03}, []byte(h[20:22]))
	assert.Equal(t, []byte{0x02, 0x01}, []byte(h[22:24]))
	assert.Equal(t, []byte{3, 0, 0, 0}, []byte(h[24:28]))
	assert.Equal(t, []byte{44, 0, 0, 0}, []byte(h[28:32]))

	assert.Equal(t, uint16(0x0102), h.AIDX())
	assert.Equal(t, uint16(0x0304), h.BIDX())
	assert.Equal(t, uint32(0x050607), h.Offset())
	assert.Equal(t, uint32(44), h.Size())
	assert.Equal(t, Metaflex{M1: 0x1111, M2: 0x2222}, h.Meta())
}

func Test_Head_Address(t *testing.T) {
	h := Head(make([]byte, Size))
	h.Init(7, 513, 1000, 4)
	addr := h.Address()
	require.Equal(t, Address(7, 513, 1000), addr)

	aidx, bidx, off := SplitAddress(addr)
	assert.Equal(t, uint16(7), aidx)
	assert.Equal(t, uint16(513), bidx)
	assert.Equal(t, uint32(1000), off)
	assert.Less(t, addr, uint64(1)<<56)
}

func Test_Flags(t *testing.T) {
	h := Head(make([]byte, Size))
	h.Set(Active | Modified)
	assert.True(t, h.Flags().Has(Active))
	h.Clear(Active)
	assert.False(t, h.Flags().Has(Active))
	assert.True(t, h.Flags().Has(Modified))

	assert.Equal(t, Flags(0x01), Oversized)
	assert.Equal(t, Flags(0x02), Invalid)
	assert.Equal(t, Flags(0x04), Check)
	assert.Equal(t, Flags(0x08), Active)
	assert.Equal(t, Flags(0x10), Modified)
	assert.Equal(t, "ovsz|act|mod", (Oversized | Active | Modified).String())
	assert.Equal(t, "-", Flags(0).String())
}

func Test_RefCount(t *testing.T) {
	h := Head(make([]byte, Size))
	assert.Equal(t, int32(1), h.AddRefCount(1))
	assert.Equal(t, int32(2), h.AddRefCount(1))
	assert.Equal(t, int32(-1), h.AddRefCount(-3))
}
