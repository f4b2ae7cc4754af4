package loom

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedChildren(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	rel := w.New()
	require.NoError(t, w.Add(rel, OrderedChildren))
	parent := w.New()

	kids := make([]ID, 4)
	for i := range kids {
		kids[i] = w.New()
		if i%2 == 1 {
			require.NoError(t, pos.Add(w, kids[i]))
		}
		require.NoError(t, w.Add(kids[i], Pair(rel, parent)))
	}
	assert.Equal(t, kids, slices.Collect(w.Children(rel, parent)), "insertion order across archetypes")

	// changing archetype keeps the position
	require.NoError(t, pos.Add(w, kids[0]))
	assert.Equal(t, kids, slices.Collect(w.Children(rel, parent)))

	order := []ID{kids[3], kids[1], kids[0], kids[2]}
	require.NoError(t, w.ReorderChildren(rel, parent, order))
	assert.Equal(t, order, slices.Collect(w.Children(rel, parent)))
	assert.Equal(t, order, w.Components().OrderedChildren(rel, parent))

	require.NoError(t, w.Remove(kids[1], Pair(rel, parent)))
	assert.Equal(t, []ID{kids[3], kids[0], kids[2]}, slices.Collect(w.Children(rel, parent)))

	late := w.New()
	require.NoError(t, w.Add(late, Pair(rel, parent)))
	assert.Equal(t, []ID{kids[3], kids[0], kids[2], late}, slices.Collect(w.Children(rel, parent)))
}

func TestReorderChildren_Mismatch(t *testing.T) {
	w := newTestWorld(t)
	rel := w.New()
	require.NoError(t, w.Add(rel, OrderedChildren))
	parent := w.New()
	a, b, c := w.New(), w.New(), w.New()
	for _, e := range []ID{a, b, c} {
		require.NoError(t, w.Add(e, Pair(rel, parent)))
	}

	tests := []struct {
		name  string
		order []ID
	}{
		{"short", []ID{a, b}},
		{"long", []ID{a, b, c, c}},
		{"duplicate", []ID{a, a, b}},
		{"stranger", []ID{a, b, parent}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, w.ReorderChildren(rel, parent, tt.order), ErrArgumentMismatch)
			assert.Equal(t, []ID{a, b, c}, slices.Collect(w.Children(rel, parent)))
		})
	}

	require.NoError(t, w.ReorderChildren(rel, w.New(), nil))
	require.ErrorIs(t, w.ReorderChildren(rel, w.New(), []ID{a}), ErrArgumentMismatch)
}

func TestOrderedChildren_EnabledLater(t *testing.T) {
	w := newTestWorld(t)
	parent := w.New()
	kids := []ID{w.New(), w.New()}
	for _, k := range kids {
		require.NoError(t, w.Add(k, Pair(ChildOf, parent)))
	}
	require.ErrorIs(t, w.ReorderChildren(ChildOf, parent, []ID{kids[1], kids[0]}), ErrInvalidOperation)

	require.NoError(t, w.Add(ChildOf, OrderedChildren))
	assert.Equal(t, kids, slices.Collect(w.Children(ChildOf, parent)))
	require.NoError(t, w.ReorderChildren(ChildOf, parent, []ID{kids[1], kids[0]}))
	assert.Equal(t, []ID{kids[1], kids[0]}, slices.Collect(w.Children(ChildOf, parent)))
}
