package loom

import (
	"slices"

	"github.com/TheBitDrifter/loom/internal/log"
)

// delete removes e and everything that refers to it.
func (w *World) delete(e ID) {
	r := w.entities.get(e)
	if r == nil || r.flags&entityDeleting != 0 {
		return
	}
	r.flags |= entityDeleting

	w.cleanupTarget(e)
	w.cleanupComponent(e)

	r = w.entities.get(e)
	w.clear(e)
	if r.table != nil {
		r.table.checkUnlocked()
		if r.flags&entityTraversable != 0 {
			r.table.traversableCount--
		}
		w.removeRow(r.table, int(r.row), true)
		r.table = nil
	}
	w.entities.remove(e)
}

// cleanupTarget handles pairs that have e as target. Children of a
// DeleteWithTarget relationship are deleted, other pairs are removed.
func (w *World) cleanupTarget(e ID) {
	if head := w.index.get(Pair(Wildcard, e)); head != nil {
		var ids []ID
		for cr := range w.index.chain(head, chainSecond) {
			ids = append(ids, cr.id)
		}
		for _, id := range ids {
			cr := w.index.get(id)
			if cr == nil {
				continue
			}
			deleteChildren := cr.flags&recordDeleteWithTarget != 0
			tables := make([]*archetype, 0, len(cr.cache.list))
			for _, tr := range cr.cache.list {
				tables = append(tables, tr.table)
			}
			for _, a := range tables {
				if len(a.entities) == 0 {
					continue
				}
				if deleteChildren {
					for _, child := range slices.Clone(a.entities) {
						w.delete(child)
					}
					continue
				}
				w.commitTable(a, w.archetypeWithout(a, id))
			}
			if cr = w.index.get(id); cr != nil {
				w.index.releaseTables(cr)
			}
		}
	}

	for id := range w.unionRels {
		cr := w.index.get(id)
		if cr == nil || cr.union == nil {
			continue
		}
		var members []ID
		for idx := range cr.union.Elements(uint64(e.Index())) {
			if m := w.entities.current(idx); m != 0 {
				members = append(members, m)
			}
		}
		for _, m := range members {
			w.remove(m, Pair(id.First(), e))
		}
	}
}

// cleanupComponent removes e from every entity when e is used as a
// component or relationship, and frees its records.
func (w *World) cleanupComponent(e ID) {
	if cr := w.index.get(e); cr != nil {
		w.removeFromAll(cr, e)
		if cr = w.index.get(e); cr != nil {
			w.index.releaseTables(cr)
		}
	}
	if e.Index() <= maxPairFirst {
		w.cleanupRelationship(e)
	}

	if _, ok := w.sparseIDs[e]; ok {
		cr := w.index.get(e)
		for _, m := range slices.Clone(cr.sparse.dense) {
			w.emit(OnRemove, m, e, cr.sparse.get(m))
			cr.sparse.remove(m)
		}
		delete(w.sparseIDs, e)
		w.index.release(cr)
	}
	for t, id := range w.types {
		if id == e {
			delete(w.types, t)
			delete(w.schemaRows, e)
			if cr := w.index.get(e); cr != nil {
				w.index.release(cr)
			}
		}
	}
	w.log.Debug("component cleaned up", log.Stringer("id", e))
}

func (w *World) cleanupRelationship(rel ID) {
	pattern := Pair(rel, Wildcard)
	head := w.index.get(pattern)
	if head == nil {
		return
	}
	w.removeFromAll(head, pattern)
	var ids []ID
	for cr := range w.index.chain(head, chainFirst) {
		ids = append(ids, cr.id)
	}
	for _, id := range ids {
		if cr := w.index.get(id); cr != nil {
			w.index.releaseTables(cr)
		}
	}
	if _, ok := w.unionRels[pattern]; ok {
		delete(w.unionRels, pattern)
		w.index.release(w.index.get(pattern))
	}
	if head = w.index.get(pattern); head != nil {
		w.index.releaseTables(head)
	}
}

func (w *World) removeFromAll(cr *componentRecord, pattern ID) {
	tables := make([]*archetype, 0, len(cr.cache.list))
	for _, tr := range cr.cache.list {
		tables = append(tables, tr.table)
	}
	for _, a := range tables {
		if len(a.entities) > 0 {
			w.commitTable(a, w.archetypeWithout(a, pattern))
		}
	}
}

// commitTable moves every entity of src to dst. Ordered children lose the
// whole row range at once.
func (w *World) commitTable(src, dst *archetype) {
	if src == dst || len(src.entities) == 0 {
		return
	}
	entities := slices.Clone(src.entities)
	_, removed := typeDiff(src.typ, dst.typ)
	for _, id := range removed {
		if cr := w.index.get(id); cr != nil && cr.pair != nil && cr.pair.ordered != nil {
			cr.pair.ordered.unparent(entities)
		}
	}
	for i := len(entities) - 1; i >= 0; i-- {
		e := entities[i]
		if r := w.entities.get(e); r != nil && r.table == src {
			w.commit(e, r, dst)
		}
	}
}
