package loom

import (
	"iter"
	"unsafe"
)

// Mutator is implemented by World and Stage. World methods run on stage 0;
// a Stage queues its calls while deferred.
type Mutator interface {
	New() ID
	MakeAlive(e ID) error
	Add(e, id ID) error
	Remove(e, id ID) error
	Set(e, id ID, value []byte) error
	Ensure(e, id ID) (unsafe.Pointer, error)
	Emplace(e, id ID) (unsafe.Pointer, error)
	Modified(e, id ID) error
	Clear(e ID) error
	Delete(e ID) error
	Enable(e ID, enabled bool) error
	EnableComponent(e, id ID, enabled bool) error
	Emit(event, e ID, ids ...ID) error
	SetName(e ID, name string) error
	DeferBegin() bool
	DeferEnd() error
	IsDeferred() bool

	stage() *Stage
}

var (
	_ Mutator = (*World)(nil)
	_ Mutator = (*Stage)(nil)
)

// ComponentIndex gives access to the per-id records of a world.
type ComponentIndex struct {
	w *World
}

// Record is a handle to the index entry of one id. It stays valid while
// the id is claimed or stored in an archetype.
type Record struct {
	w  *World
	id ID
	cr *componentRecord
}

// Ensure returns the record of id, creating it, and claims it. Every
// Ensure or Claim must be paired with a Release.
func (c *ComponentIndex) Ensure(id ID) (Record, error) {
	if id == 0 {
		return Record{}, invalidParam("id", "zero id")
	}
	if id.IsPair() {
		if id.First() == 0 || id.Second() == 0 {
			return Record{}, invalidParam("id", "%s has an empty slot", id)
		}
	} else if !c.w.entities.isAlive(c.w.entities.current(id.Index())) {
		return Record{}, invalidParam("id", "%s is not alive", id)
	}
	return c.record(c.w.index.ensure(id)), nil
}

// Get returns the record of id without claiming it.
func (c *ComponentIndex) Get(id ID) (Record, bool) {
	cr := c.w.index.get(id)
	if cr == nil {
		return Record{}, false
	}
	return c.record(cr), true
}

func (c *ComponentIndex) record(cr *componentRecord) Record {
	return Record{w: c.w, id: cr.id, cr: cr}
}

// check rejects zero records, records of another world, and records that
// were freed since they were handed out.
func (c *ComponentIndex) check(r Record) error {
	if r.cr == nil {
		return invalidParam("record", "zero record")
	}
	if r.w != c.w {
		return invalidParam("record", "record of %s belongs to another world", r.id)
	}
	if c.w.index.get(r.id) != r.cr {
		return invalidParam("record", "record of %s was freed", r.id)
	}
	return nil
}

func (c *ComponentIndex) Claim(r Record) error {
	if err := c.check(r); err != nil {
		return err
	}
	c.w.index.claim(r.cr)
	return nil
}

// Release drops a claim. The record is freed when nothing references it;
// freeing a record still cached by archetypes panics.
func (c *ComponentIndex) Release(r Record) error {
	if err := c.check(r); err != nil {
		return err
	}
	c.w.index.release(r.cr)
	return nil
}

// SetTypeInfo attaches type info to an id. It fails once the id has type
// info or is stored in an archetype.
func (c *ComponentIndex) SetTypeInfo(id ID, ti *TypeInfo) error {
	if ti == nil {
		return invalidParam("type info", "nil type info for %s", id)
	}
	r, err := c.Ensure(id)
	if err != nil {
		return err
	}
	defer c.w.index.release(r.cr)
	had := r.cr.ti != nil
	if err := c.w.index.setTypeInfo(r.cr, ti); err != nil {
		return err
	}
	if !had {
		// registered type info holds its own claim
		c.w.index.claim(r.cr)
	}
	return nil
}

// Relationships yields the pair records (rel, x) in use.
func (c *ComponentIndex) Relationships(rel ID) iter.Seq[Record] {
	return c.records(Pair(rel, Wildcard), chainFirst)
}

// Targets yields the pair records (x, tgt) in use.
func (c *ComponentIndex) Targets(tgt ID) iter.Seq[Record] {
	return c.records(Pair(Wildcard, tgt), chainSecond)
}

// TraversableTo yields the pair records (x, tgt) whose relationship is
// traversable.
func (c *ComponentIndex) TraversableTo(tgt ID) iter.Seq[Record] {
	return c.records(Pair(Wildcard, tgt), chainTrav)
}

func (c *ComponentIndex) records(wildcard ID, kind chainKind) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for cr := range c.w.index.chain(c.w.index.get(wildcard), kind) {
			if !yield(c.record(cr)) {
				return
			}
		}
	}
}

// NameIndex yields the named children of parent under rel. A zero parent
// yields the root scope.
func (c *ComponentIndex) NameIndex(rel, parent ID) iter.Seq2[string, ID] {
	return func(yield func(string, ID) bool) {
		x := c.w.rootNames
		if parent != 0 {
			cr := c.w.index.get(Pair(rel, parent))
			if cr == nil || cr.pair == nil || cr.pair.names == nil {
				return
			}
			x = cr.pair.names
		}
		for name, id := range x.All() {
			if !yield(name, ID(id)) {
				return
			}
		}
	}
}

// OrderedChildren returns a copy of the child vector of (rel, parent), or
// nil when rel does not keep order.
func (c *ComponentIndex) OrderedChildren(rel, parent ID) []ID {
	cr := c.w.index.get(Pair(rel, parent))
	if cr == nil || cr.pair == nil || cr.pair.ordered == nil {
		return nil
	}
	return append([]ID(nil), cr.pair.ordered.ids...)
}

// ReleaseTables deletes the empty archetypes that hold id.
func (c *ComponentIndex) ReleaseTables(id ID) int {
	cr := c.w.index.get(id)
	if cr == nil {
		return 0
	}
	return c.w.index.releaseTables(cr)
}

func (r Record) Valid() bool {
	return r.cr != nil
}

func (r Record) ID() ID {
	return r.id
}

func (r Record) RefCount() int {
	return int(r.cr.refcount)
}

// TableCount returns the number of archetypes holding the id.
func (r Record) TableCount() int {
	return len(r.cr.cache.list)
}

// TypeInfo returns nil for tags.
func (r Record) TypeInfo() *TypeInfo {
	return r.cr.ti
}

// Depth is the depth of the target in the hierarchy of a traversable
// relationship. It is zero for other records.
func (r Record) Depth() int {
	if r.cr.pair == nil {
		return 0
	}
	return int(r.cr.pair.depth)
}

// IsSparse reports whether values of the id live outside archetypes.
func (r Record) IsSparse() bool {
	return r.cr.sparse != nil
}
