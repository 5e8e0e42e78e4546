package inspect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cxmalloc/cxmalloc"
	"github.com/joshuapare/cxmalloc/cxmalloc/diag"
	"github.com/joshuapare/cxmalloc/internal/format"
)

// persisted writes a family with 5 small lines and a 2-block chain of
// 1024-byte lines whose first block is a hole.
func persisted(t *testing.T) (string, *cxmalloc.Family) {
	t.Helper()
	d := cxmalloc.DefaultDescriptor("inspect")
	d.Parameter.BlockSize = 4096
	d.Parameter.MaxAllocators = 16
	d.Serializer = cxmalloc.RawSerializer{}
	d.Persist.Path = t.TempDir()
	f, err := cxmalloc.NewFamily(d)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	faker := gofakeit.New(11)
	for i := 0; i < 5; i++ {
		ln, err := f.New(1)
		require.NoError(t, err)
		copy(ln.Array(), faker.LetterN(32))
	}
	var big []cxmalloc.Handle
	for i := 0; i < 6; i++ {
		ln, err := f.New(124)
		require.NoError(t, err)
		copy(ln.Array(), faker.Paragraph(1, 2, 10, " "))
		big = append(big, ln.Handle())
	}
	for _, h := range big[:4] {
		_, err := f.Discard(h)
		require.NoError(t, err)
	}
	_, err = f.BulkSerialize(context.Background(), true)
	require.NoError(t, err)
	return d.Persist.Path, f
}

func Test_Inspect_CleanFamily(t *testing.T) {
	dir, f := persisted(t)
	fams, err := Dir(dir)
	require.NoError(t, err)
	require.Len(t, fams, 1)
	fam := fams[0]

	assert.True(t, fam.Report.Empty(), "%v", fam.Report.Diagnostics)
	assert.Equal(t, "inspect", fam.Name)
	assert.Equal(t, f.MinLength(), fam.MinLength)
	assert.Equal(t, f.MaxLength(), fam.MaxLength)
	assert.Equal(t, uint64(f.Size()), fam.Header.Size)
	assert.Equal(t, int(f.Active()), fam.Active())

	require.Len(t, fam.Allocators, 2)
	big := fam.Allocators[1]
	assert.Equal(t, 11, big.Aidx)
	assert.Equal(t, 1, big.Head)
	assert.Equal(t, 0, big.LastHole)
	assert.Equal(t, []int{0}, big.Chain)
	require.Len(t, big.Blocks, 2)
	assert.Equal(t, "hole", big.Blocks[0].Tag)
	assert.False(t, big.Blocks[0].Allocated)
	assert.Equal(t, "head", big.Blocks[1].Tag)
	assert.Equal(t, 2, big.Blocks[1].Active)
	assert.NotZero(t, big.Blocks[1].Digest)

	assert.Equal(t, []Bin{{Length: 4, Count: 5}, {Length: 124, Count: 2}}, fam.Histogram())
}

func Test_Inspect_DigestStable(t *testing.T) {
	dir, f := persisted(t)
	first, err := Open(f.FamilyPath(dir))
	require.NoError(t, err)
	_, err = f.BulkSerialize(context.Background(), true)
	require.NoError(t, err)
	second, err := Open(f.FamilyPath(dir))
	require.NoError(t, err)
	for i, a := range first.Allocators {
		for j, b := range a.Blocks {
			assert.Equal(t, b.Digest, second.Allocators[i].Blocks[j].Digest, "aidx %d bidx %d", a.Aidx, b.Bidx)
		}
	}
}

func Test_Inspect_MissingExtMarker(t *testing.T) {
	dir, f := persisted(t)
	path := format.BlockExtFile(dir, 0, 0)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// separator of the first ext record
	clear(data[format.HeaderSize : format.HeaderSize+8])
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fam, err := Open(f.FamilyPath(dir))
	require.NoError(t, err)
	require.Equal(t, 1, fam.Report.Count(diag.SevError))
	d := fam.Report.Diagnostics[0]
	assert.Equal(t, path, d.File)
	assert.Equal(t, diag.CatStructure, d.Category)
	assert.Equal(t, 7, fam.Active(), "base markers still count the line")
}

func Test_Inspect_TruncatedAllocator(t *testing.T) {
	dir, f := persisted(t)
	path := format.AllocatorFile(dir, 11)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:format.HeaderSize+8], 0o644))

	fam, err := Open(f.FamilyPath(dir))
	require.NoError(t, err)
	assert.Equal(t, diag.SevCritical, fam.Report.Worst())
}

func Test_Inspect_NoFamily(t *testing.T) {
	_, err := Dir(t.TempDir())
	require.ErrorIs(t, err, ErrNoFamily)

	bogus := filepath.Join(t.TempDir(), "notes.dat")
	require.NoError(t, os.WriteFile(bogus, []byte("x"), 0o644))
	_, err = Open(bogus)
	require.Error(t, err)
}
