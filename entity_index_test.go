package loom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestEntityIndex_NewAndRecycle(t *testing.T) {
	x := newEntityIndex(4)
	a := x.newID()
	b := x.newID()
	require.Equal(t, ID(1), a)
	require.Equal(t, ID(2), b)
	require.Equal(t, 2, x.count())

	require.True(t, x.remove(a))
	assert.False(t, x.isAlive(a))
	assert.False(t, x.remove(a), "double remove")
	assert.Equal(t, 1, x.count())

	c := x.newID()
	assert.Equal(t, a.Index(), c.Index(), "index is recycled")
	assert.Equal(t, uint16(1), c.Generation())
	assert.True(t, x.isAlive(c))
	assert.False(t, x.isAlive(a), "stale generation stays dead")
	assert.Equal(t, c, x.current(a.Index()))
}

func TestEntityIndex_MakeAlive(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(x *entityIndex) ID
		wantErr bool
	}{
		{
			name:  "unused index",
			setup: func(x *entityIndex) ID { return ID(5000) },
		},
		{
			name: "already alive",
			setup: func(x *entityIndex) ID {
				return x.newID()
			},
		},
		{
			name: "alive with other generation",
			setup: func(x *entityIndex) ID {
				return x.newID().withGeneration(3)
			},
			wantErr: true,
		},
		{
			name: "recycled with explicit generation",
			setup: func(x *entityIndex) ID {
				e := x.newID()
				x.remove(e)
				return e.withGeneration(7)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newEntityIndex(0)
			id := tt.setup(x)
			err := x.makeAlive(id)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, x.isAlive(id))
			assert.Equal(t, id, x.current(id.Index()))
		})
	}
}

func TestEntityIndex_MakeAliveRaisesMaxIndex(t *testing.T) {
	x := newEntityIndex(0)
	require.NoError(t, x.makeAlive(ID(10)))
	assert.Equal(t, ID(11), x.newID())
}

func TestEntityIndex_PagesSpanLargeIndices(t *testing.T) {
	x := newEntityIndex(0)
	id := ID(3*entityPageSize + 17)
	require.NoError(t, x.makeAlive(id))
	r := x.get(id)
	require.NotNil(t, r)
	assert.Nil(t, x.get(ID(2*entityPageSize)))
}

func TestWorld_GetAlive(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()
	require.NoError(t, w.Delete(e))
	e2 := w.New()
	require.Equal(t, e.Index(), e2.Index())
	assert.Equal(t, e2, w.GetAlive(e.Index()))
	assert.False(t, w.IsAlive(e))
	assert.True(t, w.IsAlive(e2))
	assert.Equal(t, ID(0), w.GetAlive(999999))
}

func TestEntityIndex_SharedConcurrentUse(t *testing.T) {
	x := newEntityIndex(4)
	known := make([]ID, 100)
	for i := range known {
		known[i] = x.newID()
	}
	x.setShared(true)

	const workers, perWorker = 4, 3000
	created := make([][]ID, workers)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			for range perWorker {
				created[i] = append(created[i], x.newID())
				for _, e := range known[:10] {
					if !x.isAlive(e) || x.current(e.Index()) != e {
						return fmt.Errorf("%s lost while creating", e)
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	x.setShared(false)

	seen := make(map[ID]struct{})
	for _, ids := range created {
		for _, e := range ids {
			require.True(t, x.isAlive(e))
			seen[e] = struct{}{}
		}
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, len(known)+workers*perWorker, x.count())
}
