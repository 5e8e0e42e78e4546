package bitvec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Vec_Basic(t *testing.T) {
	v := New(130)
	assert.Equal(t, 130, v.Len())
	v.Set(0)
	v.Set(64)
	v.Set(129)
	assert.True(t, v.Test(64))
	assert.False(t, v.Test(63))
	assert.Equal(t, 3, v.Count())

	assert.Equal(t, 0, v.Next(0))
	assert.Equal(t, 64, v.Next(1))
	assert.Equal(t, 129, v.Next(65))
	assert.Equal(t, -1, v.Next(130))

	assert.Equal(t, 64, v.Nth(1))
	assert.Equal(t, 129, v.Nth(2))
	assert.Equal(t, -1, v.Nth(3))

	v.Clear(64)
	assert.Equal(t, 129, v.Next(1))
	v.Reset()
	assert.Zero(t, v.Count())
	assert.Equal(t, -1, v.Next(0))
}

func Test_Vec_Random(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	v := New(1000)
	ref := make(map[int]bool)
	for i := 0; i < 5000; i++ {
		k := rng.Intn(1000)
		if rng.Intn(2) == 0 {
			v.Set(k)
			ref[k] = true
		} else {
			v.Clear(k)
			delete(ref, k)
		}
	}
	require.Equal(t, len(ref), v.Count())

	var seen []int
	v.Each(func(i int) bool {
		seen = append(seen, i)
		return true
	})
	require.Len(t, seen, len(ref))
	for n, i := range seen {
		require.True(t, ref[i])
		require.Equal(t, i, v.Nth(n))
		if n > 0 {
			require.Equal(t, i, v.Next(seen[n-1]+1))
		}
	}
}

func Test_Vec_EachStops(t *testing.T) {
	v := New(10)
	for i := 0; i < 10; i++ {
		v.Set(i)
	}
	n := 0
	v.Each(func(int) bool {
		n++
		return n < 3
	})
	assert.Equal(t, 3, n)
}
