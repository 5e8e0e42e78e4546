package cxmalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
)

func Test_Sweep_ReadonlyLeak(t *testing.T) {
	f := newTestFamily(t, testDescriptor("readonly"))
	keep := mustNew(t, f, 1)
	ln := mustNew(t, f, 1)

	f.SetReadonly()
	require.True(t, f.IsReadonly())
	_, err := f.New(1)
	require.ErrorIs(t, err, ErrReaderActive)
	_, err = f.New(bigLine)
	require.ErrorIs(t, err, ErrReaderActive, "no allocator is created while readonly")

	n, err := f.Discard(ln.Handle())
	require.ErrorIs(t, err, ErrReaderActive)
	assert.Zero(t, n)
	assert.True(t, ln.Flags().Has(linehead.Active), "line leaks while readonly")
	_, err = f.Sweep(nil)
	require.ErrorIs(t, err, ErrReaderActive)

	require.NoError(t, f.ClearReadonly())
	require.ErrorIs(t, f.ClearReadonly(), ErrNotReadonly)
	assert.False(t, f.IsReadonly())

	_, err = f.Check()
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce, "leaked line fails the refcount check")
	require.ErrorIs(t, err, ErrCorruption)

	_, err = f.Discard(ln.Handle())
	require.ErrorIs(t, err, ErrDoubleFree, "leaked line holds no reference")

	var named []string
	fixes, err := f.Sweep(func(l Line) string {
		named = append(named, l.Handle().String())
		return "leaked"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fixes)
	assert.Len(t, named, 1)
	assert.Equal(t, int64(1), f.Active())
	requireConsistent(t, f)

	_, err = f.Resolve(ln.Handle())
	require.ErrorIs(t, err, ErrStaleHandle)
	_, err = f.Resolve(keep.Handle())
	require.NoError(t, err)
}

func Test_Sweep_Repairs(t *testing.T) {
	f := newTestFamily(t, testDescriptor("sweep"))
	a := mustNew(t, f, 1)
	b := mustNew(t, f, 1)
	c := mustNew(t, f, 1)

	// act flag lost on a referenced line
	a.Head().Clear(linehead.Active)
	// refcount dropped without returning the slot
	b.Head().SetRefCount(0)

	rep, err := f.Diagnose()
	require.NoError(t, err)
	assert.False(t, rep.Empty())

	fixes, err := f.Sweep(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, fixes)
	assert.True(t, a.Flags().Has(linehead.Active))
	assert.False(t, b.Flags().Has(linehead.Active))
	assert.Equal(t, int64(2), f.Active())
	requireConsistent(t, f)
	_, err = f.Resolve(c.Handle())
	require.NoError(t, err)
}

func Test_Sweep_OwnershipConflict(t *testing.T) {
	f := newTestFamily(t, testDescriptor("conflict"))
	ln := mustNew(t, f, 1)
	free := mustNew(t, f, 1)
	require.Equal(t, 0, mustDiscard(t, f, free.Handle()))

	// a free slot claims a reference
	free.Head().SetRefCount(1)
	_, err := f.Sweep(nil)
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int(ln.Handle().Bidx), ce.Bidx)
	assert.True(t, ln.Flags().Has(linehead.Active), "failed block is left untouched")
}
