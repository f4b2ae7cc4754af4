package loom

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredReplayOrder(t *testing.T) {
	w := newTestWorld(t)
	tag := mustComponent[Tag](t, w)
	pos := mustComponent[Position](t, w)
	e := w.New()

	require.True(t, w.DeferBegin())
	require.NoError(t, tag.Add(w, e))
	require.NoError(t, pos.Set(w, e, Position{X: 1}))
	require.NoError(t, tag.Remove(w, e))
	assert.False(t, pos.Has(w, e), "nothing is applied while deferred")
	assert.Equal(t, 3, w.Stage(0).Pending())
	require.NoError(t, w.DeferEnd())

	assert.False(t, tag.Has(w, e))
	require.True(t, pos.Has(w, e))
	assert.Equal(t, Position{X: 1}, *pos.Get(w, e))
	assert.Equal(t, 0, w.Stage(0).Pending())
}

func TestDeferNesting(t *testing.T) {
	w := newTestWorld(t)
	tag := mustComponent[Tag](t, w)
	e := w.New()

	assert.True(t, w.DeferBegin())
	assert.False(t, w.DeferBegin())
	require.NoError(t, tag.Add(w, e))
	require.NoError(t, w.DeferEnd())
	assert.True(t, w.IsDeferred())
	assert.False(t, tag.Has(w, e))
	require.NoError(t, w.DeferEnd())
	assert.False(t, w.IsDeferred())
	assert.True(t, tag.Has(w, e))

	require.ErrorIs(t, w.DeferEnd(), ErrInvalidOperation)
}

func TestDeferredOperations(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	tag := mustComponent[Tag](t, w)

	tests := []struct {
		name  string
		setup func(t *testing.T) ID
		check func(t *testing.T, e ID)
	}{
		{
			name: "new entity",
			setup: func(t *testing.T) ID {
				e := w.New()
				assert.True(t, w.IsAlive(e))
				require.NoError(t, tag.Add(w, e))
				return e
			},
			check: func(t *testing.T, e ID) {
				assert.True(t, tag.Has(w, e))
			},
		},
		{
			name: "ensure writes through the queued copy",
			setup: func(t *testing.T) ID {
				e := w.New()
				p, err := pos.Ensure(w, e)
				require.NoError(t, err)
				p.Y = 7
				return e
			},
			check: func(t *testing.T, e ID) {
				assert.Equal(t, Position{Y: 7}, *pos.Get(w, e))
			},
		},
		{
			name: "ensure sees the pending set",
			setup: func(t *testing.T) ID {
				e := w.New()
				require.NoError(t, pos.Set(w, e, Position{X: 2}))
				p, err := pos.Ensure(w, e)
				require.NoError(t, err)
				assert.Equal(t, float64(2), p.X)
				p.Y = 3
				return e
			},
			check: func(t *testing.T, e ID) {
				assert.Equal(t, Position{X: 2, Y: 3}, *pos.Get(w, e))
			},
		},
		{
			name: "emplace",
			setup: func(t *testing.T) ID {
				e := w.New()
				ptr, err := w.Emplace(e, pos.ID())
				require.NoError(t, err)
				(*Position)(ptr).X = 9
				return e
			},
			check: func(t *testing.T, e ID) {
				assert.Equal(t, Position{X: 9}, *pos.Get(w, e))
			},
		},
		{
			name: "delete drops later work",
			setup: func(t *testing.T) ID {
				e := w.New()
				require.NoError(t, tag.Add(w, e))
				require.NoError(t, w.Delete(e))
				require.NoError(t, pos.Set(w, e, Position{X: 1}))
				return e
			},
			check: func(t *testing.T, e ID) {
				assert.False(t, w.IsAlive(e))
			},
		},
		{
			name: "clear resets earlier adds",
			setup: func(t *testing.T) ID {
				e := w.New()
				require.NoError(t, tag.Add(w, e))
				require.NoError(t, w.Clear(e))
				require.NoError(t, pos.Add(w, e))
				return e
			},
			check: func(t *testing.T, e ID) {
				assert.Equal(t, []ID{pos.ID()}, w.Type(e))
			},
		},
		{
			name: "disable",
			setup: func(t *testing.T) ID {
				e := w.New()
				require.NoError(t, w.Enable(e, false))
				return e
			},
			check: func(t *testing.T, e ID) {
				assert.True(t, w.Has(e, Disabled))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w.DeferBegin()
			e := tt.setup(t)
			require.NoError(t, w.DeferEnd())
			tt.check(t, e)
		})
	}
}

func TestDeferredErrors(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	e := w.New()

	w.DeferBegin()
	require.NoError(t, w.EnableComponent(e, pos.ID(), false))
	err := w.DeferEnd()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.False(t, w.IsDeferred())
}

func TestDeferredDeadIDs(t *testing.T) {
	tests := []struct {
		name string
		// prepare returns an id that is deleted while deferred and the
		// operation that uses it on e afterwards
		prepare func(t *testing.T, w *World) (ID, func(e ID) error)
	}{
		{
			name: "pair target",
			prepare: func(t *testing.T, w *World) (ID, func(e ID) error) {
				rel, tgt := w.New(), w.New()
				return tgt, func(e ID) error { return w.Add(e, Pair(rel, tgt)) }
			},
		},
		{
			name: "relationship",
			prepare: func(t *testing.T, w *World) (ID, func(e ID) error) {
				rel, tgt := w.New(), w.New()
				return rel, func(e ID) error { return w.Add(e, Pair(rel, tgt)) }
			},
		},
		{
			name: "component",
			prepare: func(t *testing.T, w *World) (ID, func(e ID) error) {
				pos := mustComponent[Position](t, w)
				return pos.ID(), func(e ID) error { return pos.Set(w, e, Position{X: 1}) }
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorld(t)
			dead, use := tt.prepare(t, w)
			e := w.New()

			w.DeferBegin()
			require.NoError(t, w.Delete(dead))
			require.NoError(t, use(e))
			require.NoError(t, w.DeferEnd())

			assert.False(t, w.IsAlive(dead))
			assert.Empty(t, w.Type(e), "nothing refers to the deleted id")

			// the recycled index must not pick up the dropped operation
			n := w.New()
			require.Equal(t, dead.Index(), n.Index())
			assert.Empty(t, w.Type(e))
		})
	}
}

func TestSuspendResume(t *testing.T) {
	w := newTestWorld(t)
	tag := mustComponent[Tag](t, w)
	pos := mustComponent[Position](t, w)
	s := w.Stage(0)
	e := w.New()

	require.ErrorIs(t, s.Suspend(), ErrInvalidOperation)
	require.ErrorIs(t, s.Resume(), ErrInvalidOperation)

	w.DeferBegin()
	require.NoError(t, tag.Add(w, e))
	require.NoError(t, s.Suspend())
	assert.False(t, w.IsDeferred())
	require.NoError(t, pos.Add(w, e))
	assert.True(t, pos.Has(w, e), "suspended stages apply at once")
	assert.False(t, tag.Has(w, e), "queued commands stay queued")
	require.NoError(t, s.Resume())
	assert.True(t, w.IsDeferred())
	require.NoError(t, w.DeferEnd())
	assert.True(t, tag.Has(w, e))
}

func TestPurge(t *testing.T) {
	w := newTestWorld(t)
	pos := mustComponent[Position](t, w)
	e := w.New()

	w.DeferBegin()
	require.NoError(t, pos.Set(w, e, Position{X: 1}))
	assert.Equal(t, 1, w.Stage(0).Pending())
	w.Stage(0).Purge()
	assert.Equal(t, 0, w.Stage(0).Pending())
	require.NoError(t, w.DeferEnd())
	assert.False(t, pos.Has(w, e))
}

func TestReadonly(t *testing.T) {
	w := newTestWorld(t)
	tag := mustComponent[Tag](t, w)
	e := w.New()

	require.NoError(t, w.ReadonlyBegin())
	assert.True(t, w.IsReadonly())
	require.ErrorIs(t, w.ReadonlyBegin(), ErrInvalidOperation)
	require.ErrorIs(t, w.Stage(0).Suspend(), ErrInvalidOperation)
	require.NoError(t, tag.Add(w.Stage(0), e))
	assert.False(t, tag.Has(w, e))
	require.NoError(t, w.ReadonlyEnd())
	assert.False(t, w.IsReadonly())
	assert.True(t, tag.Has(w, e))
	require.ErrorIs(t, w.ReadonlyEnd(), ErrInvalidOperation)
}

func TestParallel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stages = 4
	w := newTestWorld(t, WithConfig(cfg))
	pos := mustComponent[Position](t, w)
	tag := mustComponent[Tag](t, w)
	require.Equal(t, 4, w.StageCount())

	created := make([][]ID, w.StageCount())
	err := w.Parallel(context.Background(), func(_ context.Context, s *Stage) error {
		for range 25 {
			e := s.New()
			if err := pos.Set(s, e, Position{X: float64(s.Index())}); err != nil {
				return err
			}
			if err := tag.Add(s, e); err != nil {
				return err
			}
			created[s.Index()] = append(created[s.Index()], e)
		}
		return nil
	})
	require.NoError(t, err)
	assert.False(t, w.IsReadonly())

	seen := make(map[ID]struct{})
	for i, ids := range created {
		require.Len(t, ids, 25)
		for _, e := range ids {
			seen[e] = struct{}{}
			require.True(t, tag.Has(w, e))
			assert.Equal(t, float64(i), pos.Get(w, e).X)
		}
	}
	assert.Len(t, seen, 100, "stages never hand out the same id")
}

func TestParallel_Error(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stages = 2
	w := newTestWorld(t, WithConfig(cfg))
	boom := errors.New("boom")

	err := w.Parallel(context.Background(), func(_ context.Context, s *Stage) error {
		if s.Index() == 1 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, w.IsReadonly())
	assert.False(t, w.Stage(0).IsDeferred())
}
