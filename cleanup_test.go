package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteCascades(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	root := w.New()
	child := w.New()
	require.NoError(t, w.Add(child, Pair(ChildOf, root)))
	require.NoError(t, pos.Set(w, child, Position{X: 1}))
	grandchild := w.New()
	require.NoError(t, w.Add(grandchild, Pair(ChildOf, child)))
	sibling := w.New()
	require.NoError(t, pos.Add(w, sibling))

	require.NoError(t, w.Delete(root))
	for _, e := range []ID{root, child, grandchild} {
		assert.False(t, w.IsAlive(e))
	}
	assert.True(t, w.IsAlive(sibling))
	_, ok := w.Components().Get(Pair(ChildOf, root))
	assert.False(t, ok)
	_, ok = w.Components().Get(Pair(ChildOf, child))
	assert.False(t, ok)
}

func TestDeleteTargetRemovesPairs(t *testing.T) {
	w := newTestWorld(t)
	likes := w.New()
	tgt, other := w.New(), w.New()
	fans := make([]ID, 3)
	for i := range fans {
		fans[i] = w.New()
		require.NoError(t, w.Add(fans[i], Pair(likes, tgt)))
		require.NoError(t, w.Add(fans[i], Pair(likes, other)))
	}

	require.NoError(t, w.Delete(tgt))
	for _, e := range fans {
		require.True(t, w.IsAlive(e))
		assert.False(t, w.Has(e, Pair(likes, tgt)))
		assert.True(t, w.Has(e, Pair(likes, other)))
	}
	_, ok := w.Components().Get(Pair(likes, tgt))
	assert.False(t, ok)
	_, ok = w.Components().Get(Pair(Wildcard, tgt))
	assert.False(t, ok)
}

func TestDeleteRelationship(t *testing.T) {
	w := newTestWorld(t)
	likes := w.New()
	a, b := w.New(), w.New()
	e := w.New()
	require.NoError(t, w.Add(e, Pair(likes, a)))
	require.NoError(t, w.Add(e, Pair(likes, b)))
	require.NoError(t, w.Add(e, Prefab))

	require.NoError(t, w.Delete(likes))
	assert.Equal(t, []ID{Prefab}, w.Type(e))
	_, ok := w.Components().Get(Pair(likes, Wildcard))
	assert.False(t, ok)
}

func TestDeleteComponent(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	vel := mustComponent[Velocity](t, w)
	sparse := mustComponent[Health](t, w, Sparse)
	e := w.New()
	require.NoError(t, pos.Set(w, e, Position{X: 1}))
	require.NoError(t, vel.Set(w, e, Velocity{Y: 2}))
	require.NoError(t, sparse.Set(w, e, Health{Current: 1}))

	require.NoError(t, w.Delete(pos.ID()))
	require.NoError(t, w.Delete(sparse.ID()))
	assert.True(t, w.IsAlive(e))
	assert.Equal(t, []ID{vel.ID()}, w.Type(e))
	assert.Equal(t, Velocity{Y: 2}, *vel.Get(w, e))
	_, ok := w.Components().Get(pos.ID())
	assert.False(t, ok)

	again := mustComponent[Position](t, w)
	assert.NotEqual(t, pos.ID(), again.ID())
	require.NoError(t, again.Set(w, e, Position{X: 3}))
	assert.Equal(t, float64(3), again.Get(w, e).X)
}

func TestDeleteWithObserver(t *testing.T) {
	w := newTestWorld(t)
	parent := w.New()
	kids := []ID{w.New(), w.New()}
	for _, k := range kids {
		require.NoError(t, w.Add(k, Pair(ChildOf, parent)))
	}
	var removed []ID
	_, err := w.Observe(OnRemove, Pair(ChildOf, Wildcard), func(ev Event) {
		removed = append(removed, ev.Entity)
	})
	require.NoError(t, err)

	require.NoError(t, w.Delete(parent))
	assert.ElementsMatch(t, kids, removed)
}
