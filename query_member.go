package loom

import (
	"unsafe"
)

// readMember loads the raw bits of a scalar member.
func readMember(ptr unsafe.Pointer, m *Member) uint64 {
	p := unsafe.Add(ptr, m.Offset)
	switch m.Size {
	case 1:
		return uint64(*(*uint8)(p))
	case 2:
		return uint64(*(*uint16)(p))
	case 4:
		return uint64(*(*uint32)(p))
	case 8:
		return *(*uint64)(p)
	}
	assertf(false, "member %s has unsupported size %d", m.Name, m.Size)
	return 0
}

// narrow restricts $this to one row of a.
func (it *Iter) narrow(a *archetype, row int) {
	it.vars[0] = varValue{entity: a.entities[row], table: a, offset: row, count: 1}
}

// evalMember filters the $this range on a member value. The column offset
// and size are resolved once per range. When the value is an unbound
// variable every row matches and binds it.
func (it *Iter) evalMember(o *op, ctx *opCtx, redo bool) bool {
	t := it.term(o)
	base := ctx.saved
	a := base.table
	f := &it.fields[t.index]
	if a == nil || !f.set || f.up != 0 || f.column < 0 {
		return false
	}
	c := a.column(f.column)
	if c == nil {
		return false
	}
	if !redo {
		ctx.row = base.offset - 1
	}
	bind := t.valueVar >= 0 && !o.bound(t.valueVar)
	want := t.value
	if t.valueVar >= 0 && !bind {
		want = memberBits(t.member, uint64(it.varEntity(t.valueVar)))
	}
	for ctx.row+1 < base.offset+base.count {
		ctx.row++
		v := readMember(c.ptr(ctx.row), t.member)
		if bind {
			it.narrow(a, ctx.row)
			it.vars[t.valueVar] = varValue{entity: ID(v)}
			return true
		}
		if (v == want) == (t.cmp == CmpEq) {
			it.narrow(a, ctx.row)
			return true
		}
	}
	return false
}

// evalToggle splits the $this range into runs of rows where the component
// is enabled.
func (it *Iter) evalToggle(o *op, ctx *opCtx, redo bool) bool {
	t := it.term(o)
	base := ctx.saved
	a := base.table
	if a == nil {
		return false
	}
	bits := a.toggle(it.fields[t.index].id)
	if bits == nil {
		return !redo
	}
	if !redo {
		ctx.row = base.offset
	}
	end := base.offset + base.count
	if ctx.row >= end {
		return false
	}
	start, ok := bits.NextSet(ctx.row)
	if !ok || start >= end {
		return false
	}
	stop := min(bits.NextClear(start), end)
	it.vars[0] = varValue{table: a, offset: start, count: stop - start}
	ctx.row = stop
	return true
}

// unionMatch reports whether the union target of e matches t and binds an
// unbound target variable.
func (it *Iter) unionMatch(o *op, t *queryTerm, e ID) bool {
	rel := t.id.First()
	cr := it.w.index.get(Pair(rel, Wildcard))
	if cr == nil || cr.union == nil {
		return false
	}
	cur := cr.union.Get(e.Index())
	if cur == 0 {
		return false
	}
	tgt := it.w.entities.current(uint32(cur))
	switch {
	case t.second >= 0 && !o.bound(t.second):
		it.vars[t.second] = varValue{entity: tgt}
	case t.second >= 0:
		if it.varEntity(t.second).Index() != uint32(cur) {
			return false
		}
	case t.id.Second() != Wildcard:
		if t.id.Second().Index() != uint32(cur) {
			return false
		}
	}
	it.fields[t.index] = fieldState{id: Pair(rel, tgt), set: true, column: -1, sparse: true}
	return true
}

// evalUnion matches union pairs per entity. Searching walks the switch
// list of the target.
func (it *Iter) evalUnion(o *op, ctx *opCtx, redo bool) bool {
	t := it.term(o)
	w := it.w
	if it.srcBound(o, t) {
		if t.src != srcThis {
			if redo {
				return false
			}
			_, e := it.srcOf(t)
			return e != 0 && it.unionMatch(o, t, e)
		}
		return it.filterRows(ctx, redo, func(e ID) bool { return it.unionMatch(o, t, e) })
	}

	if !redo {
		ctx.cur = 0
		ctx.ents = ctx.ents[:0]
		cr := w.index.get(Pair(t.id.First(), Wildcard))
		if cr != nil && cr.union != nil {
			pattern := it.pattern(o, t)
			if pattern.Second() != Wildcard {
				for idx := range cr.union.Elements(uint64(pattern.Second().Index())) {
					ctx.ents = append(ctx.ents, w.entities.current(idx))
				}
			} else {
				for v := range cr.union.Values() {
					for idx := range cr.union.Elements(v) {
						ctx.ents = append(ctx.ents, w.entities.current(idx))
					}
				}
			}
		}
	}
	for ctx.cur < len(ctx.ents) {
		e := ctx.ents[ctx.cur]
		ctx.cur++
		if e == 0 || !it.bindEntity(t, e) {
			continue
		}
		if it.unionMatch(o, t, e) {
			return true
		}
	}
	return false
}

// evalSparse matches sparse components, which are stored outside
// archetypes.
func (it *Iter) evalSparse(o *op, ctx *opCtx, redo bool) bool {
	t := it.term(o)
	cr := it.w.index.get(t.id)
	if cr == nil || cr.sparse == nil {
		return false
	}
	set := func() {
		it.fields[t.index] = fieldState{id: t.id, set: true, column: -1, sparse: true}
	}
	if it.srcBound(o, t) {
		if t.src != srcThis {
			if redo {
				return false
			}
			_, e := it.srcOf(t)
			if e == 0 || !cr.sparse.has(e) {
				return false
			}
			set()
			return true
		}
		return it.filterRows(ctx, redo, func(e ID) bool {
			if !cr.sparse.has(e) {
				return false
			}
			set()
			return true
		})
	}
	if !redo {
		ctx.cur = 0
	}
	for ctx.cur < len(cr.sparse.dense) {
		e := cr.sparse.dense[ctx.cur]
		ctx.cur++
		if it.bindEntity(t, e) {
			set()
			return true
		}
	}
	return false
}

// filterRows yields the rows of the $this range accepted by keep, one at
// a time.
func (it *Iter) filterRows(ctx *opCtx, redo bool, keep func(ID) bool) bool {
	base := ctx.saved
	a := base.table
	if a == nil {
		return false
	}
	if !redo {
		ctx.row = base.offset - 1
	}
	for ctx.row+1 < base.offset+base.count {
		ctx.row++
		if keep(a.entities[ctx.row]) {
			it.narrow(a, ctx.row)
			return true
		}
	}
	return false
}
