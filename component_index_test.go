package loom

import (
	"reflect"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentIndex_EnsureRelease(t *testing.T) {
	w := newTestWorld(t)
	ci := w.Components()
	e := w.New()

	r, err := ci.Ensure(e)
	require.NoError(t, err)
	assert.Equal(t, e, r.ID())
	assert.Equal(t, 1, r.RefCount())

	require.NoError(t, ci.Claim(r))
	assert.Equal(t, 2, r.RefCount())
	require.NoError(t, ci.Release(r))
	require.NoError(t, ci.Release(r))
	_, ok := ci.Get(e)
	assert.False(t, ok, "record is freed at zero")
}

func TestComponentIndex_InvalidRecords(t *testing.T) {
	w := newTestWorld(t)
	ci := w.Components()
	other := newTestWorld(t)

	freed, err := ci.Ensure(w.New())
	require.NoError(t, err)
	require.NoError(t, ci.Release(freed))
	// the freed slot is handed to the next record
	live, err := ci.Ensure(w.New())
	require.NoError(t, err)
	foreign, err := other.Components().Ensure(other.New())
	require.NoError(t, err)

	tests := []struct {
		name string
		r    Record
	}{
		{"zero", Record{}},
		{"freed", freed},
		{"other world", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, ci.Claim(tt.r), ErrInvalidParameter)
			require.ErrorIs(t, ci.Release(tt.r), ErrInvalidParameter)
			assert.Equal(t, 1, live.RefCount())
		})
	}
	require.NoError(t, ci.Release(live))
	require.NoError(t, other.Components().Release(foreign))
}

func TestComponentIndex_EnsureInvalid(t *testing.T) {
	w := newTestWorld(t)
	ci := w.Components()
	tests := []struct {
		name string
		id   ID
	}{
		{"zero", 0},
		{"dead entity", 5000},
		{"empty pair slot", PairFlag | ID(ChildOf)<<32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ci.Ensure(tt.id)
			require.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestComponentIndex_PairRecordsChain(t *testing.T) {
	w := newTestWorld(t)
	ci := w.Components()
	rel, tgt := w.New(), w.New()

	r, err := ci.Ensure(Pair(rel, tgt))
	require.NoError(t, err)
	first, ok := ci.Get(Pair(rel, Wildcard))
	require.True(t, ok)
	second, ok := ci.Get(Pair(Wildcard, tgt))
	require.True(t, ok)
	assert.Equal(t, 1, first.RefCount())
	assert.Equal(t, 1, second.RefCount())

	ids := func(seq func(func(Record) bool)) []ID {
		var out []ID
		for rec := range seq {
			out = append(out, rec.ID())
		}
		return out
	}
	assert.Equal(t, []ID{Pair(rel, tgt)}, ids(ci.Relationships(rel)))
	assert.Equal(t, []ID{Pair(rel, tgt)}, ids(ci.Targets(tgt)))
	assert.Empty(t, ids(ci.TraversableTo(tgt)), "rel is not traversable")

	require.NoError(t, ci.Release(r))
	_, ok = ci.Get(Pair(rel, tgt))
	assert.False(t, ok)
	_, ok = ci.Get(Pair(rel, Wildcard))
	assert.False(t, ok, "wildcard records are released with their last pair")
	_, ok = ci.Get(Pair(Wildcard, tgt))
	assert.False(t, ok)
}

func TestComponentIndex_RefCountFollowsTables(t *testing.T) {
	w := newTestWorld(t)
	ci := w.Components()
	pos := mustComponent[Position](t, w)
	vel := mustComponent[Velocity](t, w)

	rec, ok := ci.Get(pos.ID())
	require.True(t, ok)
	base := rec.RefCount()
	assert.Equal(t, 0, rec.TableCount())

	a, b := w.New(), w.New()
	require.NoError(t, pos.Set(w, a, Position{}))
	require.NoError(t, pos.Set(w, b, Position{}))
	require.NoError(t, vel.Set(w, b, Velocity{}))
	assert.Equal(t, 2, rec.TableCount())
	assert.Equal(t, base+2, rec.RefCount())

	require.NoError(t, w.Delete(a))
	require.NoError(t, w.Delete(b))
	assert.Equal(t, 2, ci.ReleaseTables(pos.ID()))
	assert.Equal(t, 0, rec.TableCount())
	assert.Equal(t, base, rec.RefCount())
}

func TestComponentIndex_FreeWithCachedTablesPanics(t *testing.T) {
	w := newTestWorld(t)
	ci := w.Components()
	pos := mustComponent[Position](t, w)
	require.NoError(t, pos.Set(w, w.New(), Position{}))

	rec, ok := ci.Get(pos.ID())
	require.True(t, ok)
	assert.Panics(t, func() {
		for range rec.RefCount() {
			_ = ci.Release(rec)
		}
	})
	// the index is inconsistent after the panic
	w.finished = true
}

func TestComponentIndex_SetTypeInfo(t *testing.T) {
	w := newTestWorld(t)
	ci := w.Components()
	posInfo := TypeInfoOf(reflect.TypeFor[Position]())

	tests := []struct {
		name    string
		setup   func() ID
		ti      *TypeInfo
		wantErr error
	}{
		{
			name:  "fresh id",
			setup: func() ID { return w.New() },
			ti:    posInfo,
		},
		{
			name: "same info twice",
			setup: func() ID {
				e := w.New()
				require.NoError(t, ci.SetTypeInfo(e, posInfo))
				return e
			},
			ti: posInfo,
		},
		{
			name: "different info",
			setup: func() ID {
				e := w.New()
				require.NoError(t, ci.SetTypeInfo(e, posInfo))
				return e
			},
			ti:      TypeInfoOf(reflect.TypeFor[Velocity]()),
			wantErr: ErrTypeInfoFinalized,
		},
		{
			name: "already stored as tag",
			setup: func() ID {
				c := w.New()
				require.NoError(t, w.Add(w.New(), c))
				return c
			},
			ti:      posInfo,
			wantErr: ErrInvalidOperation,
		},
		{
			name:    "nil info",
			setup:   func() ID { return w.New() },
			wantErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.setup()
			err := ci.SetTypeInfo(id, tt.ti)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			rec, ok := ci.Get(id)
			require.True(t, ok)
			assert.Same(t, tt.ti, rec.TypeInfo())
		})
	}
}

func TestComponentIndex_TraversableDepth(t *testing.T) {
	w := newTestWorld(t)
	ci := w.Components()
	p, c, gc := w.New(), w.New(), w.New()

	// build the chain bottom up so depths have to be recomputed
	require.NoError(t, w.Add(gc, Pair(ChildOf, c)))
	require.NoError(t, w.Add(c, Pair(ChildOf, p)))

	rc, ok := ci.Get(Pair(ChildOf, c))
	require.True(t, ok)
	rp, ok := ci.Get(Pair(ChildOf, p))
	require.True(t, ok)
	assert.Equal(t, 1, rp.Depth())
	assert.Equal(t, 2, rc.Depth())
	assert.Equal(t, 0, w.Depth(ChildOf, p))
	assert.Equal(t, 1, w.Depth(ChildOf, c))
	assert.Equal(t, 2, w.Depth(ChildOf, gc))

	var trav []ID
	for rec := range ci.TraversableTo(c) {
		trav = append(trav, rec.ID())
	}
	assert.Equal(t, []ID{Pair(ChildOf, c)}, trav)
}

func TestComponentIndex_NameIndexAndOrderedChildren(t *testing.T) {
	w := newTestWorld(t)
	ci := w.Components()
	rel := w.New()
	require.NoError(t, w.Add(rel, OrderedChildren))
	parent := w.New()
	a, b := w.New(), w.New()
	require.NoError(t, w.Add(b, Pair(rel, parent)))
	require.NoError(t, w.Add(a, Pair(rel, parent)))
	assert.Equal(t, []ID{b, a}, ci.OrderedChildren(rel, parent))
	assert.Nil(t, ci.OrderedChildren(ChildOf, parent))

	child := w.New()
	require.NoError(t, w.Add(child, Pair(ChildOf, parent)))
	require.NoError(t, w.SetName(child, "arm"))
	names := map[string]ID{}
	for name, id := range ci.NameIndex(ChildOf, parent) {
		names[name] = id
	}
	assert.Equal(t, map[string]ID{"arm": child}, names)

	require.NoError(t, w.SetName(parent, "body"))
	var roots []string
	for name := range ci.NameIndex(ChildOf, 0) {
		roots = append(roots, name)
	}
	assert.True(t, slices.Contains(roots, "body"))
}
