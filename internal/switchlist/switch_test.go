package switchlist

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(s *Switch, value uint64) []uint32 {
	return slices.Collect(s.Elements(value))
}

func TestSwitch_SetGet(t *testing.T) {
	s := New()
	require.True(t, s.Set(5, 100))
	require.False(t, s.Set(5, 100), "unchanged value is a no-op")
	require.Equal(t, uint64(100), s.Get(5))
	require.Equal(t, None, s.Get(6))
	require.Equal(t, None, s.Get(1<<20), "unallocated page reads as None")

	require.True(t, s.Set(5, 200))
	assert.Empty(t, collect(s, 100))
	assert.Equal(t, []uint32{5}, collect(s, 200))
}

func TestSwitch_HeadInsertion(t *testing.T) {
	s := New()
	for _, e := range []uint32{1, 2, 3} {
		s.Set(e, 7)
	}
	require.Equal(t, []uint32{3, 2, 1}, collect(s, 7))
	require.Equal(t, 3, s.Count(7))

	tests := []struct {
		name   string
		remove uint32
		want   []uint32
	}{
		{"head", 3, []uint32{2, 1}},
		{"tail", 1, []uint32{2}},
		{"last", 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, s.Remove(tt.remove))
			assert.Equal(t, tt.want, collect(s, 7))
		})
	}
	_, ok := s.First(7)
	require.False(t, ok)
	require.Zero(t, s.Count(7))
}

func TestSwitch_Exclusivity(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	s := New()
	const elems = 10000
	values := []uint64{None, 1, 2, 3, 4}
	current := make(map[uint32]uint64)

	for n := 0; n < 20000; n++ {
		e := uint32(r.Intn(elems))
		v := values[r.Intn(len(values))]
		s.Set(e, v)
		current[e] = v
		require.Equal(t, v, s.Get(e))
	}

	seen := make(map[uint32]uint64)
	for _, v := range values[1:] {
		for e := range s.Elements(v) {
			prev, dup := seen[e]
			require.False(t, dup, "element %d in lists %d and %d", e, prev, v)
			seen[e] = v
		}
	}
	for e, v := range current {
		if v == None {
			require.NotContains(t, seen, e)
			continue
		}
		require.Equal(t, v, seen[e])
	}
}
