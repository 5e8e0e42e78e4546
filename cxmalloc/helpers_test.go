package cxmalloc

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// bigLine is the length of class 11 with 8-byte units. Its 1024-byte lines
// fill a 4096-byte block with exactly 4 lines.
const bigLine = 124

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testDescriptor uses 4 KiB blocks so chains form after a few lines.
func testDescriptor(name string) Descriptor {
	d := DefaultDescriptor(name)
	d.Parameter.BlockSize = 4096
	d.Parameter.MaxAllocators = 16
	d.Serializer = RawSerializer{}
	return d
}

func newTestFamily(t testing.TB, d Descriptor, opts ...Option) *Family {
	t.Helper()
	f, err := NewFamily(d, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func mustNew(t testing.TB, f *Family, size uint32) Line {
	t.Helper()
	ln, err := f.New(size)
	require.NoError(t, err)
	return ln
}

func mustDiscard(t testing.TB, f *Family, h Handle) int {
	t.Helper()
	n, err := f.Discard(h)
	require.NoError(t, err)
	return n
}

// alloc returns the allocator serving size.
func alloc(t testing.TB, f *Family, size uint32) *allocator {
	t.Helper()
	aidx, _ := f.calc.AIDX(size)
	a := f.allocators[aidx].Load()
	require.NotNil(t, a, "allocator for size %d", size)
	return a
}

// requireConsistent checks chains and refcount bookkeeping.
func requireConsistent(t testing.TB, f *Family) {
	t.Helper()
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		a.mu.Lock()
		err := a.checkChains()
		a.mu.Unlock()
		require.NoError(t, err, "aidx %d", i)
	}
	_, err := f.Check()
	require.NoError(t, err)
}

func newRand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }
