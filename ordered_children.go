package loom

import (
	"iter"
	"slices"
)

// orderedChildren keeps the children of one (R, parent) pair in insertion
// order, or in the order last given to reorder.
type orderedChildren struct {
	ids []ID
}

// populate rebuilds the vector from the archetypes holding the pair.
func (o *orderedChildren) populate(cr *componentRecord) {
	o.ids = o.ids[:0]
	for _, tr := range cr.cache.list {
		o.ids = append(o.ids, tr.table.entities...)
	}
}

// reparent appends entities that gained the pair.
func (o *orderedChildren) reparent(entities []ID) {
	o.ids = append(o.ids, entities...)
}

// unparent removes entities that lost the pair, keeping the order of the
// remaining children.
func (o *orderedChildren) unparent(entities []ID) {
	if len(entities) == 1 {
		if i := slices.Index(o.ids, entities[0]); i >= 0 {
			o.ids = slices.Delete(o.ids, i, i+1)
		}
		return
	}
	drop := make(map[ID]struct{}, len(entities))
	for _, e := range entities {
		drop[e] = struct{}{}
	}
	o.ids = slices.DeleteFunc(o.ids, func(e ID) bool {
		_, ok := drop[e]
		return ok
	})
}

// reorder replaces the order with order, which must hold exactly the
// current children.
func (o *orderedChildren) reorder(order []ID) error {
	if len(order) != len(o.ids) {
		return ArgumentMismatchError{Expected: len(o.ids), Got: len(order)}
	}
	counts := make(map[ID]int, len(o.ids))
	for _, e := range o.ids {
		counts[e]++
	}
	for _, e := range order {
		if counts[e] == 0 {
			return ArgumentMismatchError{Expected: len(o.ids), Got: len(order), Culprit: e}
		}
		counts[e]--
	}
	copy(o.ids, order)
	return nil
}

// enableOrdered turns on ordered children for every pair of rel that is
// already in use.
func (w *World) enableOrdered(rel ID) {
	head := w.index.get(Pair(rel, Wildcard))
	for cr := range w.index.chain(head, chainFirst) {
		cr.flags |= recordOrdered
		if cr.pair.ordered == nil {
			cr.pair.ordered = &orderedChildren{}
			cr.pair.ordered.populate(cr)
		}
	}
	if head != nil {
		head.flags |= recordOrdered
	}
}

// Children iterates the entities with (rel, parent). Relationships with
// the OrderedChildren trait yield children in their maintained order.
func (w *World) Children(rel, parent ID) iter.Seq[ID] {
	return func(yield func(ID) bool) {
		cr := w.index.get(Pair(rel, parent))
		if cr == nil {
			return
		}
		if cr.pair != nil && cr.pair.ordered != nil {
			for _, e := range cr.pair.ordered.ids {
				if !yield(e) {
					return
				}
			}
			return
		}
		for _, tr := range cr.cache.list {
			for _, e := range tr.table.entities {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// ReorderChildren sets the order of the children of parent. order must be
// a permutation of the current children.
func (w *World) ReorderChildren(rel, parent ID, order []ID) error {
	cr := w.index.get(Pair(rel, parent))
	if cr == nil || cr.pair == nil {
		if len(order) == 0 {
			return nil
		}
		return ArgumentMismatchError{Expected: 0, Got: len(order)}
	}
	if cr.pair.ordered == nil {
		return invalidOp("reorder children", "%s does not have the OrderedChildren trait", ID(rel))
	}
	return cr.pair.ordered.reorder(order)
}
