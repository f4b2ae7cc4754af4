package loom

import (
	"unsafe"

	"github.com/TheBitDrifter/loom/internal/log"
	"github.com/TheBitDrifter/loom/internal/nameindex"
)

// maxInheritDepth bounds IsA chains walked by Get and Has.
const maxInheritDepth = 64

func (w *World) tableOf(r *entityRecord) *archetype {
	if r.table == nil {
		return w.archetypes.root
	}
	return r.table
}

func (w *World) isSparse(id ID) bool {
	if id.IsPair() {
		return w.hasTrait(w.entities.current(id.First().Index()), Sparse)
	}
	return w.hasTrait(w.entities.current(id.Index()), Sparse)
}

func (w *World) isUnion(id ID) bool {
	return id.IsPair() && id.First() != Wildcard && w.hasTrait(w.entities.current(id.First().Index()), Union)
}

// sparseRecord returns the record holding sparse storage for id, keeping it
// alive for as long as the component exists.
func (w *World) sparseRecord(id ID) *componentRecord {
	if _, ok := w.sparseIDs[id]; ok {
		return w.index.get(id)
	}
	cr := w.index.ensure(id)
	if cr.sparse == nil {
		cr.sparse = newSparseSet(cr.ti)
	}
	w.sparseIDs[id] = struct{}{}
	return cr
}

func (w *World) unionRecord(rel ID) *componentRecord {
	id := Pair(rel, Wildcard)
	if _, ok := w.unionRels[id]; ok {
		return w.index.get(id)
	}
	cr := w.index.ensure(id)
	w.unionRels[id] = struct{}{}
	return cr
}

// add adds id to e. e must be alive.
func (w *World) add(e, id ID) {
	r := w.entities.get(e)
	switch {
	case w.isUnion(id):
		w.setUnion(e, r, id)
	case w.isSparse(id):
		cr := w.sparseRecord(id)
		if ptr, added := cr.sparse.ensure(w.alloc, e); added {
			w.emit(OnAdd, e, id, ptr)
		}
	default:
		w.commit(e, r, w.archetypeWith(w.tableOf(r), id))
	}
}

func (w *World) remove(e, id ID) {
	r := w.entities.get(e)
	switch {
	case w.isUnion(id):
		w.removeUnion(e, r, id)
		return
	case !id.IsWildcard() && w.isSparse(id):
		cr := w.index.get(id)
		if cr == nil || cr.sparse == nil || !cr.sparse.has(e) {
			return
		}
		w.emit(OnRemove, e, id, cr.sparse.get(e))
		cr.sparse.remove(e)
		return
	}
	if r.table == nil {
		return
	}
	w.commit(e, r, w.archetypeWithout(r.table, id))
}

func (w *World) setUnion(e ID, r *entityRecord, id ID) {
	rel := id.First()
	cr := w.unionRecord(rel)
	marker := Pair(rel, Union)
	if t := w.tableOf(r); r.table == nil || !t.has(marker) {
		w.commit(e, r, w.archetypeWith(t, marker))
	}
	old := cr.union.Get(e.Index())
	tgt := uint64(id.Second())
	if old == tgt {
		return
	}
	if old != 0 {
		w.emit(OnRemove, e, Pair(rel, ID(old)), nil)
	}
	cr.union.Set(e.Index(), tgt)
	w.emit(OnAdd, e, id, nil)
}

func (w *World) removeUnion(e ID, r *entityRecord, id ID) {
	rel := id.First()
	cr := w.index.get(Pair(rel, Wildcard))
	if cr == nil || cr.union == nil {
		return
	}
	cur := cr.union.Get(e.Index())
	if cur == 0 || (id.Second() != Wildcard && cur != uint64(id.Second())) {
		return
	}
	cr.union.Remove(e.Index())
	w.emit(OnRemove, e, Pair(rel, ID(cur)), nil)
	if r.table != nil {
		w.commit(e, r, w.archetypeWithout(r.table, Pair(rel, Union)))
	}
}

// commit moves e to dst, keeping every index that depends on the type of
// an entity up to date and notifying observers.
func (w *World) commit(e ID, r *entityRecord, dst *archetype) {
	src := r.table
	if src == dst {
		return
	}
	dst.checkUnlocked()
	var srcTyp []ID
	if src != nil {
		src.checkUnlocked()
		srcTyp = src.typ
	}
	added, removed := typeDiff(srcTyp, dst.typ)

	for _, id := range removed {
		if id.IsPair() && id.Second() == Union {
			if cr := w.index.get(Pair(id.First(), Wildcard)); cr != nil && cr.union != nil {
				if cur := cr.union.Get(e.Index()); cur != 0 {
					cr.union.Remove(e.Index())
					w.emit(OnRemove, e, Pair(id.First(), ID(cur)), nil)
				}
			}
			continue
		}
		var ptr unsafe.Pointer
		if tr := w.index.tableRecordOf(id, src); tr != nil && tr.column >= 0 {
			ptr = src.columns[tr.column].ptr(int(r.row))
		}
		w.emit(OnRemove, e, id, ptr)
	}
	reindex := w.unindexName(e, r, src, dst)

	var row int
	if src == nil {
		row = w.appendRow(dst, e)
	} else {
		row = w.moveRow(src, int(r.row), dst, e)
	}
	r.table = dst
	r.row = int32(row)
	if r.flags&entityTraversable != 0 {
		if src != nil {
			src.traversableCount--
		}
		dst.traversableCount++
	}

	hierarchy := false
	for _, id := range removed {
		if !id.IsPair() {
			continue
		}
		if cr := w.index.get(id); cr != nil {
			if cr.pair != nil && cr.pair.ordered != nil {
				cr.pair.ordered.unparent([]ID{e})
			}
			if cr.flags&recordTransitive != 0 {
				w.reachGen++
			}
			if cr.flags&recordTraversable != 0 {
				hierarchy = true
			}
		}
	}
	for _, id := range added {
		if !id.IsPair() {
			continue
		}
		cr := w.index.get(id)
		if cr.pair != nil && cr.pair.ordered != nil {
			cr.pair.ordered.reparent([]ID{e})
		}
		if cr.flags&recordTransitive != 0 {
			w.reachGen++
		}
		if cr.flags&recordTraversable != 0 {
			hierarchy = true
			if target := w.entities.current(id.Second().Index()); target != 0 {
				w.markTraversable(target)
			}
		}
	}
	if hierarchy && r.flags&entityTraversable != 0 {
		w.updateDepths(e)
	}
	if reindex != nil {
		w.indexName(e, *reindex, dst)
	}

	for _, id := range added {
		if id.IsPair() && id.Second() == Union {
			continue
		}
		w.emit(OnAdd, e, id, nil)
	}
}

// typeDiff returns the ids only in b and the ids only in a.
func typeDiff(a, b []ID) (added, removed []ID) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			i++
			j++
		case a[i] < b[j]:
			removed = append(removed, a[i])
			i++
		default:
			added = append(added, b[j])
			j++
		}
	}
	removed = append(removed, a[i:]...)
	added = append(added, b[j:]...)
	return added, removed
}

// unindexName removes the name of e from its scope when the move changes
// the scope or drops the name. It returns the key to index again in dst.
func (w *World) unindexName(e ID, r *entityRecord, src, dst *archetype) *nameindex.Key {
	if src == nil || src.flags&archetypeHasName == 0 {
		return nil
	}
	oldParent, newParent := w.tableParent(src), w.tableParent(dst)
	keep := dst.flags&archetypeHasName != 0
	if keep && oldParent == newParent {
		return nil
	}
	ident := w.identifier(src, int(r.row))
	if ident == nil || ident.Value == "" {
		return nil
	}
	key := nameindex.Key{Hash: ident.Hash, Len: len(ident.Value), Value: ident.Value}
	if idx := w.scopeNames(oldParent, false); idx != nil {
		idx.Remove(uint64(e), key)
	}
	if !keep {
		return nil
	}
	return &key
}

func (w *World) indexName(e ID, key nameindex.Key, dst *archetype) {
	parent := w.tableParent(dst)
	idx := w.scopeNames(parent, true)
	if err := idx.Ensure(uint64(e), key); err != nil {
		w.log.Warn("name conflict after reparent", log.Stringer("entity", e), log.String("name", key.Value), log.Err(err))
	}
}

// owns reports whether e itself has id.
func (w *World) owns(e, id ID) bool {
	r := w.entities.get(e)
	if r == nil {
		return false
	}
	if w.isUnion(id) {
		cr := w.index.get(Pair(id.First(), Wildcard))
		if cr == nil || cr.union == nil {
			return false
		}
		cur := cr.union.Get(e.Index())
		return cur != 0 && (id.Second() == Wildcard || cur == uint64(id.Second()))
	}
	if !id.IsWildcard() && w.isSparse(id) {
		cr := w.index.get(id)
		return cr != nil && cr.sparse != nil && cr.sparse.has(e)
	}
	if r.table == nil {
		return false
	}
	if id.IsWildcard() {
		return r.table.findMatch(id, 0) >= 0
	}
	return r.table.has(id)
}

// has reports whether e owns id or inherits it through IsA.
func (w *World) has(e, id ID) bool {
	if w.owns(e, id) {
		return true
	}
	r := w.entities.get(e)
	if r == nil || r.table == nil || r.table.flags&archetypeHasIsA == 0 || id.IsWildcard() {
		return false
	}
	cr := w.index.get(id)
	if cr == nil {
		return false
	}
	_, ok := w.inherited(r.table, cr, 0)
	return ok
}

// get returns a pointer to the value of id for e, or nil.
func (w *World) get(e, id ID) unsafe.Pointer {
	r := w.entities.get(e)
	if r == nil || r.table == nil {
		return nil
	}
	cr := w.index.get(id)
	if cr == nil {
		return nil
	}
	if cr.sparse != nil {
		return cr.sparse.get(e)
	}
	if tr := cr.cache.get(r.table); tr != nil {
		if tr.column < 0 {
			return nil
		}
		return r.table.columns[tr.column].ptr(int(r.row))
	}
	if r.table.flags&archetypeHasIsA == 0 {
		return nil
	}
	ptr, _ := w.inherited(r.table, cr, 0)
	return ptr
}

// inherited searches the IsA bases of a for cr.
func (w *World) inherited(a *archetype, cr *componentRecord, depth int) (unsafe.Pointer, bool) {
	assertf(depth < maxInheritDepth, "IsA chain deeper than %d, probably a cycle", maxInheritDepth)
	tr := w.index.tableRecordOf(Pair(IsA, Wildcard), a)
	if tr == nil {
		return nil, false
	}
	for i, n := int(tr.index), int(tr.count); n > 0 && i < len(a.typ); i++ {
		if !a.typ[i].Matches(Pair(IsA, Wildcard)) {
			continue
		}
		n--
		br := w.entities.get(w.entities.current(a.typ[i].Second().Index()))
		if br == nil || br.table == nil {
			continue
		}
		if btr := cr.cache.get(br.table); btr != nil {
			if btr.column < 0 {
				return nil, true
			}
			return br.table.columns[btr.column].ptr(int(br.row)), true
		}
		if ptr, ok := w.inherited(br.table, cr, depth+1); ok {
			return ptr, true
		}
	}
	return nil, false
}

// ensurePtr adds id when e does not own it and returns its value.
func (w *World) ensurePtr(e, id ID) unsafe.Pointer {
	if w.isSparse(id) {
		cr := w.sparseRecord(id)
		ptr, added := cr.sparse.ensure(w.alloc, e)
		if added {
			w.emit(OnAdd, e, id, ptr)
		}
		return ptr
	}
	r := w.entities.get(e)
	if r.table == nil || !r.table.has(id) {
		w.add(e, id)
		r = w.entities.get(e)
	}
	tr := w.index.tableRecordOf(id, r.table)
	if tr == nil || tr.column < 0 {
		return nil
	}
	return r.table.columns[tr.column].ptr(int(r.row))
}

// setValue copies src into the value of id and emits OnSet.
func (w *World) setValue(e, id ID, src unsafe.Pointer) {
	ptr := w.ensurePtr(e, id)
	if ptr == nil {
		return
	}
	w.index.get(id).ti.copy(ptr, src, 1)
	w.emit(OnSet, e, id, ptr)
}

func (w *World) modified(e, id ID) {
	if ptr := w.get(e, id); ptr != nil && w.owns(e, id) {
		w.emit(OnSet, e, id, ptr)
	}
}

// clear removes every id from e and leaves it alive in the root archetype.
func (w *World) clear(e ID) {
	r := w.entities.get(e)
	for id := range w.sparseIDs {
		if cr := w.index.get(id); cr != nil && cr.sparse != nil && cr.sparse.has(e) {
			w.emit(OnRemove, e, id, cr.sparse.get(e))
			cr.sparse.remove(e)
		}
	}
	w.commit(e, r, w.archetypes.root)
}

func (w *World) enableComponent(e, id ID, enabled bool) error {
	r := w.entities.get(e)
	if r.table == nil || !r.table.has(id) {
		return ComponentNotFoundError{Entity: e, Component: id}
	}
	bits := r.table.toggle(id)
	if bits == nil {
		return invalidOp("enable", "%s does not have the CanToggle trait", id)
	}
	bits.Set(int(r.row), enabled)
	return nil
}

func (w *World) isEnabled(e, id ID) bool {
	r := w.entities.get(e)
	if r == nil || r.table == nil || !r.table.has(id) {
		return false
	}
	if bits := r.table.toggle(id); bits != nil {
		return bits.Get(int(r.row))
	}
	return true
}

// target returns the n-th target of rel on e, or 0.
func (w *World) target(e, rel ID, n int) ID {
	r := w.entities.get(e)
	if r == nil || r.table == nil {
		return 0
	}
	if w.isUnion(Pair(rel, Wildcard)) {
		cr := w.index.get(Pair(rel, Wildcard))
		if n != 0 || cr == nil || cr.union == nil {
			return 0
		}
		return w.entities.current(uint32(cr.union.Get(e.Index())))
	}
	pattern := Pair(rel, Wildcard)
	tr := w.index.tableRecordOf(pattern, r.table)
	if tr == nil || n >= int(tr.count) {
		return 0
	}
	for i := int(tr.index); i < len(r.table.typ); i++ {
		if !r.table.typ[i].Matches(pattern) {
			continue
		}
		if n == 0 {
			return w.entities.current(r.table.typ[i].Second().Index())
		}
		n--
	}
	return 0
}

// tableParent returns the ChildOf target of an archetype, or 0.
func (w *World) tableParent(a *archetype) ID {
	if a == nil || a.flags&archetypeHasChildOf == 0 {
		return 0
	}
	tr := w.index.tableRecordOf(Pair(ChildOf, Wildcard), a)
	if tr == nil {
		return 0
	}
	return w.entities.current(a.typ[tr.index].Second().Index())
}

func (w *World) identifier(a *archetype, row int) *Identifier {
	i := a.find(Name)
	if i < 0 {
		return nil
	}
	c := a.column(i)
	if c == nil {
		return nil
	}
	return (*Identifier)(c.ptr(row))
}
