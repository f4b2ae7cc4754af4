package alloc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundSize(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{1, 16},
		{16, 16},
		{17, 32},
		{100, 112},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundSize(tt.in), "RoundSize(%d)", tt.in)
	}
}

func TestAllocator_ForSizeSharesClass(t *testing.T) {
	a := New()
	p1 := a.ForSize(20)
	p2 := a.ForSize(32)
	p3 := a.ForSize(33)

	require.Same(t, p1, p2)
	require.NotSame(t, p1, p3)
	require.Equal(t, 32, p1.Size())
	require.NoError(t, a.Fini())
}

func TestPool_AllocFreeRecycles(t *testing.T) {
	for _, system := range []bool{false, true} {
		t.Run(map[bool]string{false: "pooled", true: "system"}[system], func(t *testing.T) {
			a := New(WithSystemAllocator(system), WithDebug(true))
			p := a.ForSize(24)

			b := p.Alloc()
			require.Len(t, b, 32)
			for i := range b {
				b[i] = 0xFF
			}
			p.Free(b)

			c := p.Alloc()
			for _, v := range c {
				require.Zero(t, v, "recycled blocks are zeroed")
			}
			d := p.Dup(c)
			require.Equal(t, c, d)

			p.Free(c)
			p.Free(d)
			require.NoError(t, a.Fini())
		})
	}
}

func TestAllocator_FiniReportsLeaks(t *testing.T) {
	a := New(WithDebug(true))
	_ = a.Alloc(10)
	_ = a.Alloc(10)
	b := a.Alloc(100)
	a.Free(b)

	err := a.Fini()
	var leak LeakError
	require.True(t, errors.As(err, &leak))
	require.Len(t, leak.Leaks, 1)
	assert.Equal(t, int64(2), leak.Leaks[0].Outstanding)
	assert.Equal(t, 16, leak.Leaks[0].Size)
}

func TestAllocator_Realloc(t *testing.T) {
	a := New(WithDebug(true))
	b := a.Alloc(8)
	copy(b, []byte("abcdefgh"))

	b = a.Realloc(b, 40)
	require.Len(t, b, 40)
	assert.Equal(t, "abcdefgh", string(b[:8]))

	b = a.Realloc(b, 0)
	require.Nil(t, b)
	require.NoError(t, a.Fini())
}

func TestAllocator_LargeBypassesPooling(t *testing.T) {
	a := New(WithDebug(true))
	b := a.Alloc(MaxBlockSize + 1)
	require.Len(t, b, MaxBlockSize+1)
	a.Free(b)
	for _, s := range a.Stats() {
		assert.Zero(t, s.Chunks, "size %d should not carve chunks", s.Size)
	}
	require.NoError(t, a.Fini())
}

func TestPool_DoubleFreePanics(t *testing.T) {
	a := New()
	p := a.ForSize(16)
	b := p.Alloc()
	p.Free(b)
	require.Panics(t, func() { p.Free(b) })
}

func TestAllocator_FiniTwicePanics(t *testing.T) {
	a := New()
	require.NoError(t, a.Fini())
	require.Panics(t, func() { _ = a.Fini() })
}

func TestSlab(t *testing.T) {
	type rec struct {
		a, b int64
	}
	for _, system := range []bool{false, true} {
		s := NewSlab[rec](New(WithSystemAllocator(system)))
		handles := make([]int32, 0, 200)
		for i := 0; i < 200; i++ {
			h, r := s.New()
			r.a = int64(i)
			handles = append(handles, h)
		}
		require.Equal(t, 200, s.Len())
		require.NotContains(t, handles, int32(0))

		first := s.Get(handles[10])
		s.Free(handles[5])
		require.Equal(t, int64(10), first.a, "pointers stay stable")

		h, r := s.New()
		require.Equal(t, handles[5], h)
		require.Zero(t, r.a)
		require.Panics(t, func() { s.Get(0) })
	}
}
