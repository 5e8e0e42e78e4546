package cxmalloc

import (
	"context"
	"os"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
	"github.com/joshuapare/cxmalloc/internal/format"
)

func persistDescriptor(t *testing.T, name string) Descriptor {
	t.Helper()
	d := testDescriptor(name)
	d.Persist.Path = t.TempDir()
	return d
}

// populate builds the persistence fixture: class 0 holds one block with
// three lines; the bigLine class holds a hole at bidx 0 and the head at
// bidx 1 with two lines. Payloads are keyed by line address.
func populate(t *testing.T, f *Family, seed int64) map[uint64][]byte {
	t.Helper()
	faker := gofakeit.New(seed)
	payloads := map[uint64][]byte{}
	write := func(ln Line) {
		p := []byte(faker.Sentence(8))
		copy(ln.Array(), p)
		ln.SetMeta(linehead.Metaflex{M1: faker.Uint64(), M2: faker.Uint64()})
		payloads[ln.Address()] = append([]byte(nil), ln.Array()...)
	}
	for i := 0; i < 3; i++ {
		write(mustNew(t, f, 1))
	}
	var big []Line
	for i := 0; i < 6; i++ {
		big = append(big, mustNew(t, f, bigLine))
	}
	for _, ln := range big[:4] {
		mustDiscard(t, f, ln.Handle())
	}
	for _, ln := range big[4:] {
		write(ln)
	}
	return payloads
}

// chainOf lists the bidx of every chained block, head first.
func chainOf(a *allocator) []int {
	var out []int
	for b := a.head; b != nil; b = b.next {
		out = append(out, int(b.bidx))
	}
	return out
}

func freeSlots(b *block) []int {
	var out []int
	b.reg.freeSet().Each(func(i int) bool {
		out = append(out, i)
		return true
	})
	return out
}

// requireSameTopology compares chains, tails and free registers.
func requireSameTopology(t *testing.T, want, got *allocator) {
	t.Helper()
	require.Len(t, got.blocks, len(want.blocks))
	assert.Equal(t, chainOf(want), chainOf(got), "chain order")
	assert.Equal(t, want.bidxOf(want.head), got.bidxOf(got.head), "head")
	assert.Equal(t, want.bidxOf(want.lastReuse), got.bidxOf(got.lastReuse), "last re-use")
	assert.Equal(t, want.bidxOf(want.lastHole), got.bidxOf(got.lastHole), "last hole")
	for i, wb := range want.blocks {
		gb := got.blocks[i]
		require.Equal(t, wb.hasData(), gb.hasData(), "bidx %d data", i)
		assert.Equal(t, wb.tag, gb.tag, "bidx %d tag", i)
		if wb.hasData() {
			assert.Equal(t, wb.available, gb.available, "bidx %d available", i)
			assert.Equal(t, freeSlots(wb), freeSlots(gb), "bidx %d free slots", i)
		}
	}
}

func Test_Persist_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d := persistDescriptor(t, "roundtrip")
	f := newTestFamily(t, d)
	payloads := populate(t, f, 7)

	big := alloc(t, f, bigLine)
	require.Len(t, big.blocks, 2)
	require.False(t, big.blocks[0].hasData(), "block 0 is a hole")
	requireConsistent(t, f)

	n, err := f.BulkSerialize(ctx, true)
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.False(t, f.IsReadonly())
	assert.FileExists(t, f.FamilyPath(d.Persist.Path))
	assert.FileExists(t, f.ReportPath(d.Persist.Path))
	assert.FileExists(t, format.BlockBaseFile(d.Persist.Path, 11, 0))
	assert.FileExists(t, format.BlockExtFile(d.Persist.Path, 11, 1))

	g := newTestFamily(t, d)
	gb := alloc(t, g, bigLine)
	require.Len(t, gb.blocks, 2)
	assert.False(t, gb.blocks[0].hasData())
	assert.Equal(t, tagHole, gb.blocks[0].tag)
	assert.Same(t, gb.blocks[1], gb.head)
	assert.Same(t, gb.blocks[0], gb.lastHole)
	assert.Zero(t, g.Active(), "lines are loaded by RestoreObjects")

	restored, err := g.RestoreObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payloads)), restored)
	assert.Equal(t, f.Stats().Allocators, g.Stats().Allocators)

	for addr, want := range payloads {
		orig, err := f.LineAt(addr)
		require.NoError(t, err)
		got, err := g.LineAt(addr)
		require.NoError(t, err, "line %x", addr)
		assert.Equal(t, want, got.Array())
		assert.Equal(t, orig.Meta(), got.Meta())
		n, err := g.RefCount(got.Handle())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	total, err := g.Check()
	require.NoError(t, err)
	assert.Equal(t, int64(len(payloads)), total)
	requireConsistent(t, g)
	requireSameTopology(t, alloc(t, f, 1), alloc(t, g, 1))
	requireSameTopology(t, alloc(t, f, bigLine), alloc(t, g, bigLine))

	next0, next1 := mustNew(t, f, 1), mustNew(t, g, 1)
	assert.Equal(t, next0.Address(), next1.Address(), "registers issue the same next slot")
	mustDiscard(t, f, next0.Handle())
	mustDiscard(t, g, next1.Handle())

	again, err := g.RestoreObjects(ctx)
	require.NoError(t, err)
	assert.Zero(t, again, "blocks holding lines are not reloaded")

	// The restored family keeps allocating where the original left off.
	ln := mustNew(t, g, bigLine)
	assert.Equal(t, uint16(1), ln.Handle().Bidx)
}

func Test_Persist_Incremental(t *testing.T) {
	ctx := context.Background()
	d := persistDescriptor(t, "incremental")
	f := newTestFamily(t, d)
	populate(t, f, 3)

	full, err := f.BulkSerialize(ctx, true)
	require.NoError(t, err)
	idle, err := f.BulkSerialize(ctx, false)
	require.NoError(t, err)
	assert.Less(t, idle, full, "unchanged blocks are skipped")

	ln, err := f.LineByOffset(0)
	require.NoError(t, err)
	ln.Touch()
	touched, err := f.BulkSerialize(ctx, false)
	require.NoError(t, err)
	assert.Greater(t, touched, idle)
	assert.Less(t, touched, full)

	require.NoError(t, os.Remove(format.BlockBaseFile(d.Persist.Path, 0, 0)))
	missing, err := f.BulkSerialize(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, touched, missing, "a missing block file is rewritten")
}

func Test_Persist_IncrementalKeepsPayloadWrites(t *testing.T) {
	ctx := context.Background()
	d := persistDescriptor(t, "payload")
	f := newTestFamily(t, d)
	ln := mustNew(t, f, 1)
	copy(ln.Array(), "old")
	obj := mustNew(t, f, bigLine)
	copy(obj.Array(), "first")
	_, err := f.BulkSerialize(ctx, true)
	require.NoError(t, err)

	copy(ln.Array(), "new")
	copy(obj.Array(), "second")
	_, err = f.BulkSerialize(ctx, false)
	require.NoError(t, err)

	g := newTestFamily(t, d)
	_, err = g.RestoreObjects(ctx)
	require.NoError(t, err)
	assert.False(t, alloc(t, g, 1).blocks[0].needsPersist(), "restored blocks match their files")
	got, err := g.LineAt(ln.Address())
	require.NoError(t, err)
	assert.Equal(t, "new", string(got.Array()[:3]))
	got, err = g.LineAt(obj.Address())
	require.NoError(t, err)
	assert.Equal(t, "second", string(got.Array()[:6]))
}

func Test_Persist_StaleBlockFilesRemoved(t *testing.T) {
	ctx := context.Background()
	d := persistDescriptor(t, "stale")
	f := newTestFamily(t, d)
	var big []Line
	for i := 0; i < 6; i++ {
		big = append(big, mustNew(t, f, bigLine))
	}
	_, err := f.BulkSerialize(ctx, true)
	require.NoError(t, err)
	require.FileExists(t, format.BlockBaseFile(d.Persist.Path, 11, 1))

	for _, ln := range big {
		mustDiscard(t, f, ln.Handle())
	}
	assert.Empty(t, alloc(t, f, bigLine).blocks)
	_, err = f.BulkSerialize(ctx, false)
	require.NoError(t, err)
	for bidx := uint16(0); bidx < 2; bidx++ {
		assert.NoFileExists(t, format.BlockBaseFile(d.Persist.Path, 11, bidx))
		assert.NoFileExists(t, format.BlockExtFile(d.Persist.Path, 11, bidx))
	}

	g := newTestFamily(t, d)
	assert.Empty(t, alloc(t, g, bigLine).blocks)
	n, err := g.RestoreObjects(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func Test_Persist_NoSerializer(t *testing.T) {
	d := persistDescriptor(t, "noser")
	d.Serializer = nil
	f := newTestFamily(t, d)
	mustNew(t, f, 1)
	_, err := f.BulkSerialize(context.Background(), true)
	require.ErrorIs(t, err, ErrNoSerializer)
	assert.False(t, f.IsReadonly())

	_, err = newTestFamily(t, testDescriptor("nopath")).BulkSerialize(context.Background(), true)
	require.ErrorIs(t, err, ErrFilesystem)
}

func Test_Persist_DescriptorMismatch(t *testing.T) {
	d := persistDescriptor(t, "echo")
	f := newTestFamily(t, d)
	populate(t, f, 1)
	_, err := f.BulkSerialize(context.Background(), true)
	require.NoError(t, err)

	changed := d
	changed.Meta.SerializedSize = 8
	_, err = NewFamily(changed)
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Field, "descriptor echo")

	renamed := d
	renamed.Name = "other"
	_, err = NewFamily(renamed)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "family name", ce.Field)
}

func Test_Persist_CorruptShapeEcho(t *testing.T) {
	d := persistDescriptor(t, "shape")
	f := newTestFamily(t, d)
	populate(t, f, 2)
	_, err := f.BulkSerialize(context.Background(), true)
	require.NoError(t, err)

	path := format.AllocatorFile(d.Persist.Path, 11)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// first datashape QWORD starts at byte 128
	data[128] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = NewFamily(d)
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, ErrCorruption)
	assert.Equal(t, "datashape echo", ce.Field)
	assert.Equal(t, path, ce.File)
}

func Test_Persist_CorruptLineDigest(t *testing.T) {
	ctx := context.Background()
	d := persistDescriptor(t, "digest")
	f := newTestFamily(t, d)
	populate(t, f, 5)
	_, err := f.BulkSerialize(ctx, true)
	require.NoError(t, err)

	path := format.BlockBaseFile(d.Persist.Path, 0, 0)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// slot 0 record: header, marker, then meta and array QWORDs
	off := format.HeaderSize + 8*format.MarkerQWords + 16
	data[off] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0o644))

	g := newTestFamily(t, d)
	_, err = g.RestoreObjects(ctx)
	require.ErrorIs(t, err, ErrCorruption)

	b := alloc(t, g, 1).blocks[0]
	assert.Equal(t, b.capacity, b.available, "failed block is left idle")
	assert.Len(t, freeSlots(b), b.capacity)
	assert.Zero(t, b.active.Count())
	ln := mustNew(t, g, 1)
	assert.Equal(t, uint16(0), ln.Handle().Bidx)
	assert.Equal(t, uint32(0), ln.Handle().Offset)
	requireConsistent(t, g)
}

func Test_Persist_MissingAllocatorFile(t *testing.T) {
	ctx := context.Background()
	d := persistDescriptor(t, "missing")
	f := newTestFamily(t, d)
	payloads := populate(t, f, 9)
	_, err := f.BulkSerialize(ctx, true)
	require.NoError(t, err)
	require.NoError(t, os.Remove(format.AllocatorFile(d.Persist.Path, 0)))

	g := newTestFamily(t, d)
	assert.Empty(t, alloc(t, g, 1).blocks)
	n, err := g.RestoreObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payloads)-3), n, "only the bigLine class is restored")
}
