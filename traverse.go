package loom

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// maxTravDepth bounds relationship walks. Deeper chains are cycles.
const maxTravDepth = 256

// reachableCache lists the entities that reach the target of a transitive
// pair. It is valid while gen equals World.reachGen.
type reachableCache struct {
	gen   uint32
	valid bool
	ids   []ID
	set   *roaring.Bitmap
}

// reachable returns the entities x for which (rel, x) implies (rel, tgt),
// tgt included.
func (w *World) reachable(cr *componentRecord) *reachableCache {
	rc := &cr.pair.reach
	if rc.valid && rc.gen == w.reachGen {
		return rc
	}
	rel := cr.id.First()
	tgt := w.entities.current(cr.id.Second().Index())
	rc.ids = rc.ids[:0]
	if rc.set == nil {
		rc.set = roaring.New()
	} else {
		rc.set.Clear()
	}
	rc.ids = append(rc.ids, tgt)
	rc.set.Add(tgt.Index())
	w.collectReachable(rc, rel, tgt, 0)
	rc.gen = w.reachGen
	rc.valid = true
	return rc
}

func (w *World) collectReachable(rc *reachableCache, rel, tgt ID, depth int) {
	assertf(depth < maxTravDepth, "relationship %s deeper than %d", rel, maxTravDepth)
	cr := w.index.get(Pair(rel, tgt))
	if cr == nil {
		return
	}
	for _, tr := range cr.cache.list {
		for _, e := range tr.table.entities {
			if !rc.set.CheckedAdd(e.Index()) {
				continue
			}
			rc.ids = append(rc.ids, e)
			w.collectReachable(rc, rel, e, depth+1)
		}
	}
}

// updateDepths recomputes the depth of every traversable pair targeting e
// and of the pairs below them.
func (w *World) updateDepths(e ID) {
	visited := roaring.New()
	w.updateDepthsFrom(e, visited, 0)
}

func (w *World) updateDepthsFrom(e ID, visited *roaring.Bitmap, depth int) {
	if depth >= maxTravDepth || !visited.CheckedAdd(e.Index()) {
		return
	}
	head := w.index.get(Pair(Wildcard, e))
	for cr := range w.index.chain(head, chainTrav) {
		rel := cr.id.First()
		cr.pair.depth = w.depthOf(rel, e) + 1
		for _, tr := range cr.cache.list {
			if tr.table.traversableCount == 0 {
				continue
			}
			for _, child := range tr.table.entities {
				if r := w.entities.get(child); r != nil && r.flags&entityTraversable != 0 {
					w.updateDepthsFrom(child, visited, depth+1)
				}
			}
		}
	}
}

// Depth returns how many rel edges separate e from a root.
func (w *World) Depth(rel, e ID) int {
	return int(w.depthOf(rel, e))
}
