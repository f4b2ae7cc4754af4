package loom

import "sync"

const entityPageBits = 12

const (
	entityPageSize = 1 << entityPageBits
	entityPageMask = entityPageSize - 1
)

type entityFlags uint32

const (
	// entityTraversable is set once an entity is the target of a pair whose
	// relationship is traversable.
	entityTraversable entityFlags = 1 << iota
	entityDeleting
)

type entityRecord struct {
	table *archetype
	row   int32
	dense int32
	flags entityFlags
}

type entityPage [entityPageSize]entityRecord

// entityIndex maps entity indices to their location. Ids in dense[:alive]
// are alive; ids in dense[alive:] are recycled with a bumped generation.
// While shared is set, stages create ids concurrently and lookups take the
// read lock.
type entityIndex struct {
	mu       sync.RWMutex
	shared   bool
	pages    []*entityPage
	dense    []ID
	alive    int
	maxIndex uint32
}

func newEntityIndex(capacity int) *entityIndex {
	return &entityIndex{
		dense: make([]ID, 1, capacity+1),
	}
}

func (x *entityIndex) record(index uint32, create bool) *entityRecord {
	p := int(index >> entityPageBits)
	if p >= len(x.pages) {
		if !create {
			return nil
		}
		grown := make([]*entityPage, p+1)
		copy(grown, x.pages)
		x.pages = grown
	}
	page := x.pages[p]
	if page == nil {
		if !create {
			return nil
		}
		page = new(entityPage)
		x.pages[p] = page
	}
	return &page[index&entityPageMask]
}

// newID returns a fresh or recycled id. Safe for concurrent use by stages.
func (x *entityIndex) newID() ID {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.alive+1 < len(x.dense) {
		x.alive++
		return x.dense[x.alive]
	}
	x.maxIndex++
	id := ID(x.maxIndex)
	r := x.record(x.maxIndex, true)
	x.dense = append(x.dense, id)
	x.alive++
	r.dense = int32(x.alive)
	r.table = nil
	r.row = 0
	return id
}

// makeAlive forces id alive with exactly its generation.
func (x *entityIndex) makeAlive(id ID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	index := id.Index()
	r := x.record(index, true)
	if r.dense == 0 {
		x.dense = append(x.dense, id)
		r.dense = int32(len(x.dense) - 1)
		if index > x.maxIndex {
			x.maxIndex = index
		}
	}
	cur := x.dense[r.dense]
	if int(r.dense) <= x.alive {
		if cur != id {
			return invalidOp("make alive", "%s is alive with another generation", cur)
		}
		return nil
	}
	x.dense[r.dense] = id
	x.swapDense(int(r.dense), x.alive+1)
	x.alive++
	return nil
}

func (x *entityIndex) swapDense(a, b int) {
	if a == b {
		return
	}
	ida, idb := x.dense[a], x.dense[b]
	x.dense[a], x.dense[b] = idb, ida
	x.record(ida.Index(), false).dense = int32(b)
	x.record(idb.Index(), false).dense = int32(a)
}

// remove kills id and bumps the generation its index is recycled with.
func (x *entityIndex) remove(id ID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := x.lookup(id)
	if r == nil {
		return false
	}
	pos := int(r.dense)
	x.swapDense(pos, x.alive)
	x.dense[x.alive] = id.withGeneration(id.Generation() + 1)
	x.alive--
	r.table = nil
	r.row = 0
	r.flags = 0
	return true
}

// setShared switches locked lookups on or off. It must not be called
// while stages run.
func (x *entityIndex) setShared(shared bool) {
	x.mu.Lock()
	x.shared = shared
	x.mu.Unlock()
}

func (x *entityIndex) recordOf(id ID) *entityRecord {
	if x.shared {
		x.mu.RLock()
		defer x.mu.RUnlock()
	}
	return x.lookup(id)
}

func (x *entityIndex) lookup(id ID) *entityRecord {
	if id == 0 || id.IsPair() {
		return nil
	}
	r := x.record(id.Index(), false)
	if r == nil || r.dense == 0 || int(r.dense) > x.alive {
		return nil
	}
	if x.dense[r.dense] != id {
		return nil
	}
	return r
}

// get returns the record of an alive id, or nil.
func (x *entityIndex) get(id ID) *entityRecord {
	return x.recordOf(id)
}

func (x *entityIndex) isAlive(id ID) bool {
	return x.recordOf(id) != nil
}

// current returns the alive id for an index, or 0.
func (x *entityIndex) current(index uint32) ID {
	if x.shared {
		x.mu.RLock()
		defer x.mu.RUnlock()
	}
	r := x.record(index, false)
	if r == nil || r.dense == 0 || int(r.dense) > x.alive {
		return 0
	}
	return x.dense[r.dense]
}

// reserve makes sure new ids start above index.
func (x *entityIndex) reserve(index uint32) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.maxIndex < index {
		x.maxIndex = index
	}
}

func (x *entityIndex) count() int {
	if x.shared {
		x.mu.RLock()
		defer x.mu.RUnlock()
	}
	return x.alive
}
