package loom

import (
	"iter"

	"github.com/TheBitDrifter/loom/internal/alloc"
	"github.com/TheBitDrifter/loom/internal/log"
	"github.com/TheBitDrifter/loom/internal/nameindex"
	"github.com/TheBitDrifter/loom/internal/switchlist"
)

// loRecords is the number of plain ids resolved through an array instead of
// the map.
const loRecords = 1024

type recordFlags uint32

const (
	recordTraversable recordFlags = 1 << iota
	recordTransitive
	recordExclusive
	recordOrdered
	recordSparse
	recordUnion
	recordCanToggle
	recordDeleteWithTarget
	recordWildcard
)

type chainKind int

const (
	chainFirst chainKind = iota
	chainSecond
	chainTrav
	chainCount
)

// tableRecord locates an id inside one archetype. For wildcard records
// index is the first match and count the number of matches.
type tableRecord struct {
	table  *archetype
	cr     *componentRecord
	index  int16
	count  int16
	column int16
}

type tableCache struct {
	index map[archetypeID]int32
	list  []*tableRecord
}

func (c *tableCache) insert(tr *tableRecord) {
	if c.index == nil {
		c.index = make(map[archetypeID]int32)
	}
	c.index[tr.table.id] = int32(len(c.list))
	c.list = append(c.list, tr)
}

func (c *tableCache) remove(a *archetype) {
	i, ok := c.index[a.id]
	if !ok {
		return
	}
	last := len(c.list) - 1
	if int(i) != last {
		moved := c.list[last]
		c.list[i] = moved
		c.index[moved.table.id] = i
	}
	c.list[last] = nil
	c.list = c.list[:last]
	delete(c.index, a.id)
}

func (c *tableCache) get(a *archetype) *tableRecord {
	i, ok := c.index[a.id]
	if !ok {
		return nil
	}
	return c.list[i]
}

type chainLink struct {
	prev, next int32
}

// pairExt holds the data only non-wildcard pairs carry.
type pairExt struct {
	links   [chainCount]chainLink
	names   *nameindex.Index
	ordered *orderedChildren
	depth   int32
	reach   reachableCache
}

type componentRecord struct {
	handle   int32
	id       ID
	flags    recordFlags
	refcount int32
	ti       *TypeInfo
	cache    tableCache
	sparse   *sparseSet
	union    *switchlist.Switch
	pair     *pairExt
	// heads of the chains of wildcard records.
	heads [chainCount]int32
	// firstParent is (R, *), secondParent is (*, X).
	firstParent  int32
	secondParent int32
}

type componentIndex struct {
	w    *World
	slab *alloc.Slab[componentRecord]
	lo   []int32
	hi   map[ID]int32
}

func newComponentIndex(w *World) *componentIndex {
	return &componentIndex{
		w:    w,
		slab: alloc.NewSlab[componentRecord](w.alloc),
		lo:   make([]int32, loRecords),
		hi:   make(map[ID]int32),
	}
}

func (ci *componentIndex) handleOf(id ID) int32 {
	if !id.IsPair() && id < loRecords {
		return ci.lo[id]
	}
	return ci.hi[id]
}

func (ci *componentIndex) setHandle(id ID, h int32) {
	if !id.IsPair() && id < loRecords {
		ci.lo[id] = h
		return
	}
	if h == 0 {
		delete(ci.hi, id)
		return
	}
	ci.hi[id] = h
}

func (ci *componentIndex) byHandle(h int32) *componentRecord {
	if h == 0 {
		return nil
	}
	return ci.slab.Get(h)
}

// get returns the record for id, or nil.
func (ci *componentIndex) get(id ID) *componentRecord {
	return ci.byHandle(ci.handleOf(id))
}

// ensure returns the record for id, creating it, and claims it.
func (ci *componentIndex) ensure(id ID) *componentRecord {
	cr := ci.get(id)
	if cr == nil {
		cr = ci.create(id)
	}
	cr.refcount++
	return cr
}

func (ci *componentIndex) claim(cr *componentRecord) {
	cr.refcount++
}

// release drops a claim and frees the record at zero.
func (ci *componentIndex) release(cr *componentRecord) {
	assertf(cr.refcount > 0, "record %s released more often than claimed", cr.id)
	cr.refcount--
	if cr.refcount == 0 {
		ci.free(cr)
	}
}

func (ci *componentIndex) create(id ID) *componentRecord {
	w := ci.w
	h, cr := ci.slab.New()
	cr.handle = h
	cr.id = id
	ci.setHandle(id, h)

	if !id.IsPair() {
		cr.flags = w.traitFlags(w.entities.current(id.Index()))
		if id == Wildcard {
			cr.flags |= recordWildcard
		}
		if cr.flags&recordSparse != 0 {
			cr.sparse = newSparseSet(cr.ti)
		}
		w.log.Debug("record created", log.Stringer("id", id))
		return cr
	}

	rel, tgt := id.First(), id.Second()
	if rel != Wildcard {
		cr.flags = w.traitFlags(w.entities.current(rel.Index()))
		if tgt != Wildcard {
			cr.ti = ci.pairTypeInfo(rel, tgt)
		}
	}
	if rel == Wildcard || tgt == Wildcard {
		cr.flags |= recordWildcard
		if tgt == Wildcard && cr.flags&recordUnion != 0 {
			cr.union = switchlist.New()
		}
		w.log.Debug("record created", log.Stringer("id", id))
		return cr
	}

	cr.pair = &pairExt{}
	first := ci.ensure(Pair(rel, Wildcard))
	second := ci.ensure(Pair(Wildcard, tgt))
	cr.firstParent = first.handle
	cr.secondParent = second.handle
	ci.link(first, cr, chainFirst)
	ci.link(second, cr, chainSecond)
	if cr.flags&recordTraversable != 0 {
		ci.link(second, cr, chainTrav)
		if target := w.entities.current(tgt.Index()); target != 0 {
			w.markTraversable(target)
		}
		cr.pair.depth = w.depthOf(rel, tgt) + 1
	}
	if cr.flags&recordOrdered != 0 {
		cr.pair.ordered = &orderedChildren{}
	}
	if cr.flags&recordSparse != 0 {
		cr.sparse = newSparseSet(cr.ti)
	}
	w.log.Debug("record created", log.Stringer("id", id))
	return cr
}

// pairTypeInfo returns the type info a value of (rel, tgt) has: the one of
// rel, else the one of tgt. ChildOf and IsA pairs are always tags.
func (ci *componentIndex) pairTypeInfo(rel, tgt ID) *TypeInfo {
	if rel == ChildOf || rel == IsA {
		return nil
	}
	if rc := ci.get(rel); rc != nil && rc.ti != nil {
		return rc.ti
	}
	if tc := ci.get(tgt); tc != nil && tc.flags&recordWildcard == 0 {
		return tc.ti
	}
	return nil
}

func (ci *componentIndex) free(cr *componentRecord) {
	assertf(len(cr.cache.list) == 0, "record %s freed while cached by %d archetypes", cr.id, len(cr.cache.list))
	if cr.flags&recordWildcard != 0 {
		for k := range chainCount {
			assertf(cr.heads[k] == 0, "wildcard record %s freed with chained records", cr.id)
		}
	}
	id := cr.id
	if cr.pair != nil {
		first := ci.byHandle(cr.firstParent)
		second := ci.byHandle(cr.secondParent)
		ci.unlink(first, cr, chainFirst)
		ci.unlink(second, cr, chainSecond)
		if cr.flags&recordTraversable != 0 {
			ci.unlink(second, cr, chainTrav)
		}
		ci.release(first)
		ci.release(second)
	}
	if cr.sparse != nil {
		cr.sparse.fini(ci.w.alloc)
	}
	ci.setHandle(id, 0)
	ci.slab.Free(cr.handle)
	ci.w.log.Debug("record freed", log.Stringer("id", id))
}

func (ci *componentIndex) link(head, cr *componentRecord, kind chainKind) {
	l := &cr.pair.links[kind]
	l.prev = 0
	l.next = head.heads[kind]
	if next := ci.byHandle(l.next); next != nil {
		next.pair.links[kind].prev = cr.handle
	}
	head.heads[kind] = cr.handle
}

func (ci *componentIndex) unlink(head, cr *componentRecord, kind chainKind) {
	l := cr.pair.links[kind]
	if prev := ci.byHandle(l.prev); prev != nil {
		prev.pair.links[kind].next = l.next
	} else {
		head.heads[kind] = l.next
	}
	if next := ci.byHandle(l.next); next != nil {
		next.pair.links[kind].prev = l.prev
	}
	cr.pair.links[kind] = chainLink{}
}

// chain iterates the pair records linked from a wildcard record.
func (ci *componentIndex) chain(head *componentRecord, kind chainKind) iter.Seq[*componentRecord] {
	return func(yield func(*componentRecord) bool) {
		if head == nil {
			return
		}
		for h := head.heads[kind]; h != 0; {
			cr := ci.byHandle(h)
			next := cr.pair.links[kind].next
			if !yield(cr) {
				return
			}
			h = next
		}
	}
}

// setTypeInfo attaches ti to the record of id. Type info can only be set
// once per id.
func (ci *componentIndex) setTypeInfo(cr *componentRecord, ti *TypeInfo) error {
	if cr.ti != nil {
		if cr.ti == ti {
			return nil
		}
		return TypeInfoFinalizedError{Component: cr.id}
	}
	if len(cr.cache.list) > 0 {
		return invalidOp("set type info", "%s is already stored in %d archetypes", cr.id, len(cr.cache.list))
	}
	cr.ti = ti
	if cr.sparse != nil {
		cr.sparse.ti = ti
	}
	return nil
}

// releaseTables deletes the empty archetypes cached by cr and returns the
// number deleted.
func (ci *componentIndex) releaseTables(cr *componentRecord) int {
	var empty []*archetype
	for _, tr := range cr.cache.list {
		a := tr.table
		if len(a.entities) == 0 && a.lock == 0 && a != ci.w.archetypes.root {
			empty = append(empty, a)
		}
	}
	for _, a := range empty {
		ci.w.deleteArchetype(a)
	}
	return len(empty)
}

// traitFlags reads the trait tags of a relationship or component entity.
func (w *World) traitFlags(e ID) recordFlags {
	if e == 0 {
		return 0
	}
	r := w.entities.get(e)
	if r == nil || r.table == nil {
		return 0
	}
	var flags recordFlags
	t := r.table
	for _, pair := range [...]struct {
		trait ID
		flag  recordFlags
	}{
		{Traversable, recordTraversable},
		{Transitive, recordTransitive},
		{Exclusive, recordExclusive},
		{OrderedChildren, recordOrdered},
		{Sparse, recordSparse},
		{Union, recordUnion},
		{CanToggle, recordCanToggle},
		{DeleteWithTarget, recordDeleteWithTarget},
	} {
		if t.has(pair.trait) {
			flags |= pair.flag
		}
	}
	return flags
}

func (w *World) hasTrait(e, trait ID) bool {
	if e == 0 {
		return false
	}
	r := w.entities.get(e)
	return r != nil && r.table != nil && r.table.has(trait)
}

func (w *World) markTraversable(e ID) {
	r := w.entities.get(e)
	if r == nil || r.flags&entityTraversable != 0 {
		return
	}
	r.flags |= entityTraversable
	if r.table != nil {
		r.table.traversableCount++
	}
}

// depthOf returns the depth of e in the hierarchy formed by rel.
func (w *World) depthOf(rel, e ID) int32 {
	r := w.entities.get(w.entities.current(e.Index()))
	if r == nil || r.table == nil {
		return 0
	}
	tr := w.index.tableRecordOf(Pair(rel, Wildcard), r.table)
	if tr == nil {
		return 0
	}
	parent := r.table.typ[tr.index]
	if cr := w.index.get(parent); cr != nil && cr.pair != nil {
		return cr.pair.depth
	}
	return 0
}

func (ci *componentIndex) tableRecordOf(id ID, a *archetype) *tableRecord {
	cr := ci.get(id)
	if cr == nil {
		return nil
	}
	return cr.cache.get(a)
}
