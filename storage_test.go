package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchetypeCreation(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	vel := mustComponent[Velocity](t, w)
	tag := mustComponent[Tag](t, w)
	rel := w.New()

	tests := []struct {
		name        string
		ids         []ID
		wantColumns int
	}{
		{"single component", []ID{pos.ID()}, 1},
		{"two components", []ID{pos.ID(), vel.ID()}, 2},
		{"tag only", []ID{tag.ID()}, 0},
		{"component and tag", []ID{vel.ID(), tag.ID()}, 1},
		{"ChildOf pair is a tag", []ID{Pair(ChildOf, pos.ID())}, 0},
		{"pair takes the target's type", []ID{Pair(rel, pos.ID())}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := w.New()
			for _, id := range tt.ids {
				require.NoError(t, w.Add(e, id))
			}
			r := w.entities.get(e)
			require.NotNil(t, r.table)
			a := r.table
			assert.Len(t, a.typ, len(tt.ids))
			assert.Len(t, a.columns, tt.wantColumns)
			assert.Equal(t, e, a.entities[r.row])

			// the same set in another order lands in the same archetype
			other := w.New()
			for i := len(tt.ids) - 1; i >= 0; i-- {
				require.NoError(t, w.Add(other, tt.ids[i]))
			}
			assert.Same(t, a, w.entities.get(other).table)
		})
	}
}

func TestArchetypeEdgesAreCached(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	root := w.archetypes.root
	a := w.archetypeWith(root, pos.ID())
	assert.Same(t, a, root.addEdges[pos.ID()])
	assert.Same(t, root, w.archetypeWithout(a, pos.ID()))
	assert.Same(t, root, a.removeEdges[pos.ID()])
	assert.Same(t, a, w.archetypeWith(a, pos.ID()), "adding an owned id keeps the archetype")
}

func TestEntityDestruction(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)

	var entities []ID
	for i := range 10 {
		e := w.New()
		require.NoError(t, pos.Set(w, e, Position{X: float64(i)}))
		entities = append(entities, e)
	}
	for i := 0; i < len(entities); i += 2 {
		require.NoError(t, w.Delete(entities[i]))
	}
	for i, e := range entities {
		if i%2 == 0 {
			assert.False(t, w.IsAlive(e))
			assert.ErrorIs(t, w.Delete(e), ErrNotAlive)
			continue
		}
		require.True(t, w.IsAlive(e))
		assert.Equal(t, float64(i), pos.Get(w, e).X, "swap-remove keeps values with their entity")
	}
}

func TestStorageLocking(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	vel := mustComponent[Velocity](t, w)
	e := w.New()
	require.NoError(t, pos.Set(w, e, Position{}))

	q, err := w.Query(QueryDesc{Terms: []Term{{ID: pos.ID()}}})
	require.NoError(t, err)
	it := q.Iter()
	require.True(t, it.Next())

	assert.PanicsWithValue(t, LockedStorageError{Archetype: it.Archetype()}, func() {
		_ = w.Add(e, vel.ID())
	})
	it.Fini()
	assert.False(t, vel.Has(w, e))
	assert.Equal(t, int32(0), w.entities.get(e).table.lock)
}

func TestStorageLocking_DeferredDuringIteration(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	vel := mustComponent[Velocity](t, w)
	for range 3 {
		require.NoError(t, pos.Set(w, w.New(), Position{}))
	}
	q, err := w.Query(QueryDesc{Terms: []Term{{ID: pos.ID()}}})
	require.NoError(t, err)

	err = q.Each(func(it *Iter, row int) {
		require.NoError(t, vel.Set(w, it.Entity(row), Velocity{X: 2}))
	})
	require.NoError(t, err)

	both, err := w.Query(QueryDesc{Terms: []Term{{ID: pos.ID()}, {ID: vel.ID()}}})
	require.NoError(t, err)
	assert.Equal(t, 3, both.Count())
}

func TestEntityTransfer(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	vel := mustComponent[Velocity](t, w)
	hp := mustComponent[Health](t, w)

	tests := []struct {
		name   string
		start  []ID
		add    []ID
		remove []ID
		want   []ID
	}{
		{"add one", []ID{pos.ID()}, []ID{vel.ID()}, nil, []ID{pos.ID(), vel.ID()}},
		{"remove one", []ID{pos.ID(), vel.ID()}, nil, []ID{vel.ID()}, []ID{pos.ID()}},
		{"swap", []ID{pos.ID(), vel.ID()}, []ID{hp.ID()}, []ID{pos.ID()}, []ID{vel.ID(), hp.ID()}},
		{"remove missing", []ID{pos.ID()}, nil, []ID{hp.ID()}, []ID{pos.ID()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := w.New()
			for _, id := range tt.start {
				require.NoError(t, w.Add(e, id))
			}
			for _, id := range tt.add {
				require.NoError(t, w.Add(e, id))
			}
			for _, id := range tt.remove {
				require.NoError(t, w.Remove(e, id))
			}
			assert.ElementsMatch(t, tt.want, w.Type(e))
		})
	}
}

func TestComponentAccessAfterTransfer(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	vel := mustComponent[Velocity](t, w)
	hp := mustComponent[Health](t, w)

	e := w.New()
	require.NoError(t, pos.Set(w, e, Position{X: 1, Y: 2}))
	require.NoError(t, vel.Set(w, e, Velocity{X: 3, Y: 4}))
	require.NoError(t, hp.Set(w, e, Health{Current: 5, Max: 6}))
	require.NoError(t, w.Remove(e, vel.ID()))

	assert.Equal(t, Position{X: 1, Y: 2}, *pos.Get(w, e))
	assert.Equal(t, Health{Current: 5, Max: 6}, *hp.Get(w, e))
	assert.Nil(t, vel.Get(w, e))
}

func TestDeleteEmptyTables(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	vel := mustComponent[Velocity](t, w)
	// drop what registration left behind
	w.DeleteEmptyTables()
	assert.Zero(t, w.DeleteEmptyTables())

	e := w.New()
	require.NoError(t, pos.Set(w, e, Position{}))
	require.NoError(t, vel.Set(w, e, Velocity{}))
	before := len(w.archetypes.asSlice)

	// [Position] emptied when e moved on, [Position, Velocity] on delete
	require.NoError(t, w.Delete(e))
	assert.Equal(t, 2, w.DeleteEmptyTables())
	assert.Len(t, w.archetypes.asSlice, before-2)

	// edges to deleted archetypes are gone, so the tables are rebuilt
	e = w.New()
	require.NoError(t, pos.Set(w, e, Position{X: 7}))
	assert.Equal(t, float64(7), pos.Get(w, e).X)
}
