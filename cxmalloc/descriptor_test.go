package cxmalloc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
)

const descriptorYAML = `
name: graph-nodes
meta:
  init_m1: 255
  serialized_size: 8
object:
  size: 16
  serialized_size: 12
unit:
  size: 16
  serialized_size: 10
parameter:
  block_size: 65536
  subdue: 3
  allow_oversized: true
persist:
  path: /var/lib/graph
`

func Test_Descriptor_Parse(t *testing.T) {
	d, err := ParseDescriptor([]byte(descriptorYAML))
	require.NoError(t, err)
	assert.Equal(t, "graph-nodes", d.Name)
	assert.Equal(t, linehead.Metaflex{M1: 255}, d.Meta.Init)
	assert.Equal(t, uint32(8), d.Meta.SerializedSize)
	assert.Equal(t, uint32(16), d.Object.Size)
	assert.Equal(t, uint32(10), d.Unit.SerializedSize)
	assert.Equal(t, uint64(65536), d.Parameter.BlockSize)
	assert.Equal(t, uint32(3), d.Parameter.Subdue)
	assert.True(t, d.Parameter.AllowOversized)
	assert.Equal(t, uint32(DefaultMaxAllocators), d.Parameter.MaxAllocators, "missing fields keep defaults")
	assert.Equal(t, uint32(DefaultLineLimit), d.Parameter.LineLimit)
	assert.Equal(t, "/var/lib/graph", d.Persist.Path)
	assert.Nil(t, d.Serializer)

	out, err := EncodeDescriptor(d)
	require.NoError(t, err)
	back, err := ParseDescriptor(out)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func Test_Descriptor_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "family.yaml")
	require.NoError(t, os.WriteFile(path, []byte(descriptorYAML), 0o644))
	d, err := LoadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, "graph-nodes", d.Name)

	_, err = LoadDescriptor(filepath.Join(t.TempDir(), "absent.yaml"))
	var pe *PersistError
	require.ErrorAs(t, err, &pe)
	require.ErrorIs(t, err, ErrFilesystem)
}

func Test_Descriptor_Invalid(t *testing.T) {
	for name, mutate := range map[string]func(*Descriptor){
		"empty name":       func(d *Descriptor) { d.Name = "" },
		"meta too wide":    func(d *Descriptor) { d.Meta.SerializedSize = 24 },
		"object overflow":  func(d *Descriptor) { d.Object.SerializedSize = 4 },
		"unit overflow":    func(d *Descriptor) { d.Unit.SerializedSize = 16 },
		"unit not pow2":    func(d *Descriptor) { d.Unit.Size, d.Unit.SerializedSize = 12, 12 },
		"no allocators":    func(d *Descriptor) { d.Parameter.MaxAllocators = 0 },
		"small block":      func(d *Descriptor) { d.Parameter.BlockSize = 512 },
		"zero line limit":  func(d *Descriptor) { d.Parameter.LineLimit = 0 },
		"object too large": func(d *Descriptor) { d.Object.Size = 40 },
	} {
		t.Run(name, func(t *testing.T) {
			d := DefaultDescriptor("bad")
			mutate(&d)
			_, err := NewFamily(d)
			require.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}

	_, err := ParseDescriptor([]byte("name: [unterminated"))
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func Test_Descriptor_ObjectHeader(t *testing.T) {
	d := testDescriptor("object")
	d.Object = ObjectParams{Size: 16, SerializedSize: 16}
	f := newTestFamily(t, d)
	ln := mustNew(t, f, 1)
	assert.Len(t, ln.Object(), 16)
	copy(ln.Object(), "object-header-16")

	got, err := f.Resolve(ln.Handle())
	require.NoError(t, err)
	assert.Equal(t, []byte("object-header-16"), got.Object())
}
