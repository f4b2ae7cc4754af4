package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// descendants walks every entity up its rel chain and collects the ones
// that reach root.
func descendants(w *World, rel, root ID) []ID {
	var out []ID
	for _, a := range w.archetypes.asSlice {
		for _, e := range a.entities {
			for p := w.Target(e, rel, 0); p != 0; p = w.Target(p, rel, 0) {
				if p == root {
					out = append(out, e)
					break
				}
			}
		}
	}
	return out
}

// travEntities lists the entities of the cached archetypes. Archetypes may
// be cached while empty.
func travEntities(t *testing.T, c *travCache) []ID {
	t.Helper()
	var out []ID
	tables := map[uint32]bool{}
	for _, en := range c.entries {
		require.False(t, tables[en.table.ID()], "archetype %d cached twice", en.table.ID())
		tables[en.table.ID()] = true
		out = append(out, en.table.entities...)
	}
	return out
}

func TestTravDown(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T, w *World) ID
	}{
		{
			name: "flat",
			build: func(t *testing.T, w *World) ID {
				pos := mustComponent[Position](t, w)
				p := w.New()
				for i := range 3 {
					c := w.New()
					require.NoError(t, w.Add(c, Pair(ChildOf, p)))
					if i > 0 {
						require.NoError(t, pos.Add(w, c))
					}
				}
				return p
			},
		},
		{
			name: "chain with other relationships",
			build: func(t *testing.T, w *World) ID {
				likes := w.New()
				tag := mustComponent[Tag](t, w)
				a := w.New()
				b := w.New()
				require.NoError(t, w.Add(b, Pair(ChildOf, a)))
				c := w.New()
				require.NoError(t, w.Add(c, Pair(ChildOf, b)))
				require.NoError(t, tag.Add(w, c))
				d := w.New()
				require.NoError(t, w.Add(d, Pair(ChildOf, c)))

				fan := w.New()
				require.NoError(t, w.Add(fan, Pair(likes, b)))
				other := w.New()
				require.NoError(t, w.Add(other, Pair(ChildOf, fan)))
				return a
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorld(t)
			root := tt.build(t, w)

			var c travCache
			w.travDown(&c, ChildOf, root)
			want := descendants(w, ChildOf, root)
			require.NotEmpty(t, want)
			assert.ElementsMatch(t, want, travEntities(t, &c))
			for _, en := range c.entries {
				assert.Equal(t, root, en.src)
			}

			// same key, same build
			n := len(c.entries)
			w.travDown(&c, ChildOf, root)
			assert.Len(t, c.entries, n)
		})
	}
}

func TestTravDown_KeyChange(t *testing.T) {
	w := newTestWorld(t)
	a, b := w.New(), w.New()
	ca := w.New()
	require.NoError(t, w.Add(ca, Pair(ChildOf, a)))
	cb := w.New()
	require.NoError(t, w.Add(cb, Pair(ChildOf, b)))
	require.NoError(t, w.Add(cb, Prefab))

	var c travCache
	w.travDown(&c, ChildOf, a)
	assert.Equal(t, []ID{ca}, travEntities(t, &c))

	w.travDown(&c, ChildOf, b)
	assert.Equal(t, []ID{cb}, travEntities(t, &c), "rebuilt for the new anchor")

	w.travDown(&c, IsA, b)
	assert.Empty(t, c.entries)
}
