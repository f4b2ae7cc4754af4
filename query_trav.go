package loom

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// upCache remembers the source found for one archetype. It is rebuilt only
// when the key changes.
type upCache struct {
	rel    ID
	id     ID
	anchor archetypeID
	valid  bool
	src    ID
	match  ID
}

type travEntry struct {
	table *archetype
	src   ID
	// owned is set when the table has the component itself.
	owned bool
}

// travCache lists the archetypes below a set of roots for one
// relationship. Like upCache it is keyed, not invalidated: a lookup with
// the same key returns the previous build.
type travCache struct {
	rel     ID
	anchor  ID
	down    bool
	valid   bool
	entries []travEntry
	seen    *roaring.Bitmap
}

func (c *travCache) reset(rel, anchor ID, down bool) {
	c.rel, c.anchor, c.down, c.valid = rel, anchor, down, true
	c.entries = c.entries[:0]
	if c.seen == nil {
		c.seen = roaring.New()
	} else {
		c.seen.Clear()
	}
}

func (c *travCache) matches(rel, anchor ID, down bool) bool {
	return c.valid && c.rel == rel && c.anchor == anchor && c.down == down
}

func (w *World) isTraversable(e ID) bool {
	r := w.entities.get(e)
	return r != nil && r.flags&entityTraversable != 0
}

// ownerOf returns the entity that provides pattern to e, which is e itself
// or one of its IsA bases, and the matched id.
func (w *World) ownerOf(e, pattern ID, depth int) (ID, ID) {
	r := w.entities.get(e)
	if r == nil || r.table == nil || depth >= maxInheritDepth {
		return 0, 0
	}
	a := r.table
	if i := a.findMatch(pattern, 0); i >= 0 {
		return e, a.typ[i]
	}
	if a.flags&archetypeHasIsA == 0 {
		return 0, 0
	}
	isa := Pair(IsA, Wildcard)
	for i := a.findMatch(isa, 0); i >= 0; i = a.findMatch(isa, i+1) {
		base := w.entities.current(a.typ[i].Second().Index())
		if src, id := w.ownerOf(base, pattern, depth+1); src != 0 {
			return src, id
		}
	}
	return 0, 0
}

// upSource returns the nearest entity reached from a through rel that
// owns or inherits pattern. An archetype without rel pairs falls back to
// the rel pairs of its IsA bases.
func (w *World) upSource(a *archetype, rel, pattern ID, depth int) (ID, ID) {
	if depth >= maxTravDepth {
		return 0, 0
	}
	relPattern := Pair(rel, Wildcard)
	found := false
	for i := a.findMatch(relPattern, 0); i >= 0; i = a.findMatch(relPattern, i+1) {
		found = true
		parent := w.entities.current(a.typ[i].Second().Index())
		if parent == 0 {
			continue
		}
		if src, id := w.ownerOf(parent, pattern, 0); src != 0 {
			return src, id
		}
		if r := w.entities.get(parent); r != nil && r.table != nil {
			if src, id := w.upSource(r.table, rel, pattern, depth+1); src != 0 {
				return src, id
			}
		}
	}
	if found || rel == IsA || a.flags&archetypeHasIsA == 0 {
		return 0, 0
	}
	isa := Pair(IsA, Wildcard)
	for i := a.findMatch(isa, 0); i >= 0; i = a.findMatch(isa, i+1) {
		base := w.entities.current(a.typ[i].Second().Index())
		if r := w.entities.get(base); r != nil && r.table != nil {
			if src, id := w.upSource(r.table, rel, pattern, depth+1); src != 0 {
				return src, id
			}
		}
	}
	return 0, 0
}

func (it *Iter) upLookup(ctx *opCtx, t *queryTerm, a *archetype, pattern ID) (ID, ID) {
	c := &ctx.up
	if c.valid && c.rel == t.trav && c.anchor == a.id && c.id == pattern {
		return c.src, c.match
	}
	src, match := it.w.upSource(a, t.trav, pattern, 0)
	*c = upCache{rel: t.trav, id: pattern, anchor: a.id, valid: true, src: src, match: match}
	return src, match
}

// travDown collects the archetypes reachable from root through rel. Only
// traversable entities are descended into.
func (w *World) travDown(c *travCache, rel, root ID) {
	if c.matches(rel, root, true) {
		return
	}
	c.reset(rel, root, true)
	w.downFrom(c, rel, root, root, nil, 0)
}

// downFrom visits the archetypes holding (rel, root). When cr is set,
// archetypes that own or inherit its id end the walk: their entities are
// sources of their own.
func (w *World) downFrom(c *travCache, rel, root, src ID, cr *componentRecord, depth int) {
	head := w.index.get(Pair(rel, root))
	if head == nil {
		return
	}
	for _, tr := range head.cache.list {
		w.visitDown(c, rel, tr.table, src, cr, depth)
	}
}

func (w *World) visitDown(c *travCache, rel ID, a *archetype, src ID, cr *componentRecord, depth int) {
	assertf(depth < maxTravDepth, "relationship %s deeper than %d", rel, maxTravDepth)
	if !c.seen.CheckedAdd(a.ID()) {
		return
	}
	owned := cr != nil && cr.cache.get(a) != nil
	c.entries = append(c.entries, travEntry{table: a, src: src, owned: owned})
	if owned || a.traversableCount == 0 {
		return
	}
	if cr != nil {
		if _, ok := w.inherited(a, cr, 0); ok {
			return
		}
	}
	for _, e := range a.entities {
		if !w.isTraversable(e) {
			continue
		}
		w.downFrom(c, rel, e, src, cr, depth+1)
		if cr != nil && rel != IsA {
			w.downInstances(c, rel, e, src, cr, depth+1)
		}
	}
}

// downInstances visits the instances of base that have no rel pair of
// their own and so inherit the one of base.
func (w *World) downInstances(c *travCache, rel, base, src ID, cr *componentRecord, depth int) {
	head := w.index.get(Pair(IsA, base))
	if head == nil {
		return
	}
	relPattern := Pair(rel, Wildcard)
	for _, tr := range head.cache.list {
		if tr.table.findMatch(relPattern, 0) >= 0 {
			continue
		}
		w.visitDown(c, rel, tr.table, src, cr, depth)
	}
}

// buildUpSearch lists the archetypes that reach an owner of id through
// rel, with the nearest owner as source.
func (w *World) buildUpSearch(c *travCache, rel, id ID) {
	if c.matches(rel, id, false) {
		return
	}
	c.reset(rel, id, false)
	cr := w.index.get(id)
	if cr == nil {
		return
	}
	var roots []ID
	for _, tr := range cr.cache.list {
		if tr.table.traversableCount == 0 {
			continue
		}
		for _, e := range tr.table.entities {
			if w.isTraversable(e) {
				roots = append(roots, e)
			}
		}
	}
	if rel != IsA {
		visited := roaring.New()
		for _, base := range roots {
			roots = w.collectInheritors(roots, base, cr, visited, 0)
		}
	}
	for _, e := range roots {
		w.downFrom(c, rel, e, e, cr, 0)
	}
}

// collectInheritors appends the traversable entities that inherit the id
// of cr from base through IsA.
func (w *World) collectInheritors(roots []ID, base ID, cr *componentRecord, visited *roaring.Bitmap, depth int) []ID {
	if depth >= maxInheritDepth {
		return roots
	}
	head := w.index.get(Pair(IsA, base))
	if head == nil {
		return roots
	}
	for _, tr := range head.cache.list {
		a := tr.table
		if cr.cache.get(a) != nil || !visited.CheckedAdd(a.ID()) {
			continue
		}
		for _, e := range a.entities {
			if w.isTraversable(e) {
				roots = append(roots, e)
				roots = w.collectInheritors(roots, e, cr, visited, depth+1)
			}
		}
	}
	return roots
}

// evalUp matches a term on the ancestors of its source. opSelfUp tries
// the source itself first.
func (it *Iter) evalUp(o *op, ctx *opCtx, redo bool) bool {
	t := it.term(o)
	self := o.kind == opSelfUp
	pattern := it.pattern(o, t)
	if it.srcBound(o, t) {
		if redo {
			return false
		}
		a, _ := it.srcOf(t)
		if a == nil {
			return false
		}
		if self {
			ctx.column = -1
			if it.nextMatch(o, t, ctx, a, pattern) {
				return true
			}
		}
		src, id := it.upLookup(ctx, t, a, pattern)
		if src == 0 {
			return false
		}
		it.setField(o, t, id, -1, src)
		return true
	}

	entityVar := t.src > srcThis
	if !redo {
		ctx.alt, ctx.cur, ctx.table, ctx.matched = 0, 0, nil, false
		if !self {
			ctx.alt = 1
		}
	} else if it.nextRow(t, ctx) {
		return true
	}
	// phase 0 yields the owners, phase 1 the archetypes below them
	if ctx.alt == 0 {
		if cr := it.w.index.get(pattern); cr != nil {
			for ctx.cur < len(cr.cache.list) {
				tr := cr.cache.list[ctx.cur]
				ctx.cur++
				a := tr.table
				if !it.visible(a, entityVar) {
					continue
				}
				ctx.column = -1
				if it.nextMatch(o, t, ctx, a, pattern) {
					ctx.table, ctx.row, ctx.matched = a, 0, true
					it.bindSrc(t, a, 0)
					return true
				}
			}
		}
		ctx.alt, ctx.cur = 1, 0
	}
	if ctx.cur == 0 {
		it.w.buildUpSearch(&ctx.trav, t.trav, pattern)
	}
	entries := ctx.trav.entries
	for ctx.cur < len(entries) {
		en := entries[ctx.cur]
		ctx.cur++
		if (self && en.owned) || !it.visible(en.table, entityVar) {
			continue
		}
		src, id := it.w.ownerOf(en.src, pattern, 0)
		if src == 0 {
			continue
		}
		it.setField(o, t, id, -1, src)
		ctx.table, ctx.row, ctx.matched = en.table, 0, true
		it.bindSrc(t, en.table, 0)
		return true
	}
	return false
}

// evalTrans matches (R, target) for a transitive R: any entity with
// (R, x) where x reaches target.
func (it *Iter) evalTrans(o *op, ctx *opCtx, redo bool) bool {
	t := it.term(o)
	w := it.w
	pattern := it.pattern(o, t)
	cr := w.index.get(pattern)
	if cr == nil || cr.pair == nil {
		return false
	}
	rc := w.reachable(cr)
	rel := pattern.First()
	relPattern := Pair(rel, Wildcard)

	if it.srcBound(o, t) {
		if redo {
			return false
		}
		a, _ := it.srcOf(t)
		if a == nil {
			return false
		}
		for i := a.findMatch(relPattern, 0); i >= 0; i = a.findMatch(relPattern, i+1) {
			if rc.set.Contains(a.typ[i].Second().Index()) {
				it.setField(o, t, a.typ[i], i, 0)
				return true
			}
		}
		return false
	}

	entityVar := t.src > srcThis
	if !redo {
		ctx.alt, ctx.cur, ctx.table, ctx.matched = 0, 0, nil, false
		ctx.resetSeen()
	} else if it.nextRow(t, ctx) {
		return true
	}
	for ctx.alt < len(rc.ids) {
		head := w.index.get(Pair(rel, rc.ids[ctx.alt]))
		if head == nil || ctx.cur >= len(head.cache.list) {
			ctx.alt++
			ctx.cur = 0
			continue
		}
		tr := head.cache.list[ctx.cur]
		ctx.cur++
		a := tr.table
		if !it.visible(a, entityVar) || !ctx.seen.CheckedAdd(a.ID()) {
			continue
		}
		it.setField(o, t, a.typ[tr.index], int(tr.index), 0)
		ctx.table, ctx.row, ctx.matched = a, 0, true
		it.bindSrc(t, a, 0)
		return true
	}
	return false
}
