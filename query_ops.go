package loom

import (
	"github.com/RoaringBitmap/roaring/v2"
)

type opKind uint8

const (
	opAll opKind = iota
	opAnd
	opAndWild
	opTrivial
	opUp
	opSelfUp
	opTrans
	opNot
	opOptional
	opOr
	opEach
	opMember
	opToggle
	opUnion
	opSparse
	opPopulate
)

var opNames = [...]string{
	opAll:      "all",
	opAnd:      "and",
	opAndWild:  "and_wild",
	opTrivial:  "trivial",
	opUp:       "up",
	opSelfUp:   "self_up",
	opTrans:    "trans",
	opNot:      "not",
	opOptional: "optional",
	opOr:       "or",
	opEach:     "each",
	opMember:   "member",
	opToggle:   "toggle",
	opUnion:    "union",
	opSparse:   "sparse",
	opPopulate: "populate",
}

func (k opKind) String() string {
	return opNames[k]
}

// op is one step of a compiled query. written holds the variables bound by
// the steps before it: a term whose source is written is tested, otherwise
// it searches.
type op struct {
	kind    opKind
	term    int16
	written uint64
	// marker matches the (R, Union) marker of a union term instead of the
	// term id.
	marker bool
	group  []int16
}

func (o *op) bound(v int16) bool {
	return v >= 0 && o.written&(1<<uint(v)) != 0
}

// opCtx is the per iteration state of one op.
type opCtx struct {
	saved   varValue
	cur     int
	alt     int
	table   *archetype
	column  int
	row     int
	ents    []ID
	seen    *roaring.Bitmap
	up      upCache
	trav    travCache
	matched bool
}

func (c *opCtx) resetSeen() {
	if c.seen == nil {
		c.seen = roaring.New()
	} else {
		c.seen.Clear()
	}
}

// eval runs op i. It returns false when the op has no further results.
func (it *Iter) eval(i int, redo bool) bool {
	o := &it.q.ops[i]
	ctx := &it.ctx[i]
	if redo {
		it.vars[0] = ctx.saved
	} else {
		ctx.saved = it.vars[0]
	}
	switch o.kind {
	case opAll:
		return it.evalAll(ctx, redo)
	case opAnd, opAndWild:
		return it.evalAnd(o, ctx, redo)
	case opTrivial:
		return it.evalTrivial(ctx, redo)
	case opUp, opSelfUp:
		return it.evalUp(o, ctx, redo)
	case opTrans:
		return it.evalTrans(o, ctx, redo)
	case opNot:
		return it.evalNot(o, ctx, redo)
	case opOptional:
		return it.evalOptional(o, ctx, redo)
	case opOr:
		return it.evalOr(o, ctx, redo)
	case opEach:
		return it.evalEach(ctx, redo)
	case opMember:
		return it.evalMember(o, ctx, redo)
	case opToggle:
		return it.evalToggle(o, ctx, redo)
	case opUnion:
		return it.evalUnion(o, ctx, redo)
	case opSparse:
		return it.evalSparse(o, ctx, redo)
	case opPopulate:
		if redo {
			return false
		}
		it.populate()
		return true
	}
	panic(invariantError{"unknown query op " + o.kind.String()})
}

func (it *Iter) term(o *op) *queryTerm {
	return &it.q.terms[o.term]
}

// visible reports whether a search may yield a. Entity variables need at
// least one row.
func (it *Iter) visible(a *archetype, entityVar bool) bool {
	if a.hidden(it.q.flags) {
		return false
	}
	if len(a.entities) == 0 && (entityVar || it.q.flags&MatchEmptyTables == 0) {
		return false
	}
	return true
}

// pattern returns the id of t with bound variables filled in.
func (it *Iter) pattern(o *op, t *queryTerm) ID {
	if o.marker {
		return Pair(t.id.First(), Union)
	}
	if t.first == noVar && t.second == noVar {
		return t.id
	}
	first, second := t.id.First(), t.id.Second()
	if o.bound(t.first) {
		if e := it.varEntity(t.first); e != 0 {
			first = e
		}
	}
	if o.bound(t.second) {
		if e := it.varEntity(t.second); e != 0 {
			second = e
		}
	}
	return Pair(first, second)
}

// bindPair writes the unbound variables of t from a matched id.
func (it *Iter) bindPair(o *op, t *queryTerm, id ID) bool {
	if o.marker || !id.IsPair() {
		return true
	}
	if t.first > srcThis && !o.bound(t.first) {
		it.vars[t.first] = varValue{entity: it.w.entities.current(id.First().Index())}
	}
	if t.second > srcThis && !o.bound(t.second) {
		e := it.w.entities.current(id.Second().Index())
		if t.second == t.first && e != it.vars[t.first].entity {
			return false
		}
		it.vars[t.second] = varValue{entity: e}
	}
	return true
}

func (it *Iter) setField(o *op, t *queryTerm, id ID, column int, up ID) {
	if o.marker {
		return
	}
	it.fields[t.index] = fieldState{id: id, set: true, column: column, up: up}
}

func (it *Iter) clearField(t *queryTerm, id ID) {
	it.fields[t.index] = fieldState{id: id, column: -1}
}

// srcOf returns the archetype a bound term is matched on, and the source
// entity unless the source is $this.
func (it *Iter) srcOf(t *queryTerm) (*archetype, ID) {
	var e ID
	switch {
	case t.src == srcThis:
		return it.vars[0].table, 0
	case t.src == srcFixed:
		e = t.srcID
	default:
		e = it.vars[t.src].entity
	}
	r := it.w.entities.get(e)
	if r == nil || r.table == nil {
		return nil, e
	}
	return r.table, e
}

func (it *Iter) srcBound(o *op, t *queryTerm) bool {
	return t.src == srcFixed || o.bound(t.src)
}

// bindSrc binds the source of t to row of a. $this takes the whole table.
func (it *Iter) bindSrc(t *queryTerm, a *archetype, row int) {
	if t.src == srcThis {
		it.vars[0] = varValue{table: a, count: len(a.entities)}
		return
	}
	it.vars[t.src] = varValue{entity: a.entities[row]}
}

// bindEntity binds the source of t to a single entity.
func (it *Iter) bindEntity(t *queryTerm, e ID) bool {
	r := it.w.entities.get(e)
	if r == nil || r.table == nil || r.table.hidden(it.q.flags) {
		return false
	}
	if t.src == srcThis {
		it.vars[0] = varValue{entity: e, table: r.table, offset: int(r.row), count: 1}
	} else {
		it.vars[t.src] = varValue{entity: e}
	}
	return true
}

// nextRow advances an entity variable search to the next row of the
// current table.
func (it *Iter) nextRow(t *queryTerm, ctx *opCtx) bool {
	if t.src <= srcThis || ctx.table == nil || !ctx.matched {
		return false
	}
	if ctx.row+1 >= len(ctx.table.entities) {
		return false
	}
	ctx.row++
	it.bindSrc(t, ctx.table, ctx.row)
	return true
}

// nextMatch finds the next type index of a matching pattern after
// ctx.column and binds the variables of t from it.
func (it *Iter) nextMatch(o *op, t *queryTerm, ctx *opCtx, a *archetype, pattern ID) bool {
	for {
		i := -1
		switch {
		case pattern.IsWildcard():
			i = a.findMatch(pattern, ctx.column+1)
		case ctx.column < 0:
			i = a.find(pattern)
		}
		if i < 0 {
			return false
		}
		ctx.column = i
		id := a.typ[i]
		if !it.bindPair(o, t, id) {
			continue
		}
		it.setField(o, t, id, i, 0)
		return true
	}
}

func (it *Iter) evalAll(ctx *opCtx, redo bool) bool {
	if !redo {
		ctx.cur = 0
	}
	list := it.w.archetypes.asSlice
	for ctx.cur < len(list) {
		a := list[ctx.cur]
		ctx.cur++
		if it.visible(a, false) {
			it.vars[0] = varValue{table: a, count: len(a.entities)}
			return true
		}
	}
	return false
}

func (it *Iter) evalAnd(o *op, ctx *opCtx, redo bool) bool {
	t := it.term(o)
	pattern := it.pattern(o, t)
	if it.srcBound(o, t) {
		a, _ := it.srcOf(t)
		if a == nil {
			return false
		}
		if !redo {
			ctx.column = -1
		}
		return it.nextMatch(o, t, ctx, a, pattern)
	}

	cr := it.w.index.get(pattern)
	if cr == nil {
		return false
	}
	entityVar := t.src > srcThis
	if !redo {
		ctx.cur, ctx.table, ctx.matched = 0, nil, false
	} else if it.nextRow(t, ctx) {
		return true
	}
	for {
		if a := ctx.table; a != nil {
			if it.nextMatch(o, t, ctx, a, pattern) {
				ctx.matched, ctx.row = true, 0
				it.bindSrc(t, a, 0)
				return true
			}
			ctx.table = nil
		}
		list := cr.cache.list
		if ctx.cur >= len(list) {
			return false
		}
		a := list[ctx.cur].table
		ctx.cur++
		if !it.visible(a, entityVar) {
			continue
		}
		ctx.table, ctx.column, ctx.matched = a, -1, false
	}
}

// evalTrivial walks the tables of the first term and checks the others
// with direct lookups.
func (it *Iter) evalTrivial(ctx *opCtx, redo bool) bool {
	q := it.q
	w := it.w
	first := &q.terms[0]
	cr := w.index.get(first.id)
	if cr == nil {
		return false
	}
	if !redo {
		ctx.cur = 0
	}
	o := &q.ops[0]
next:
	for ctx.cur < len(cr.cache.list) {
		tr := cr.cache.list[ctx.cur]
		ctx.cur++
		a := tr.table
		if !it.visible(a, false) || !a.sig.ContainsAll(q.sig) {
			continue
		}
		it.setField(o, first, first.id, int(tr.index), 0)
		for k := 1; k < len(q.terms); k++ {
			t := &q.terms[k]
			tcr := w.index.get(t.id)
			if tcr == nil {
				return false
			}
			ttr := tcr.cache.get(a)
			if ttr == nil {
				continue next
			}
			it.setField(o, t, t.id, int(ttr.index), 0)
		}
		it.vars[0] = varValue{table: a, count: len(a.entities)}
		return true
	}
	return false
}

// probe tests t on its bound source and sets its field on success.
func (it *Iter) probe(o *op, t *queryTerm, ctx *opCtx) bool {
	a, e := it.srcOf(t)
	if a == nil {
		return false
	}
	pattern := it.pattern(o, t)
	if t.kind == termSparse || t.kind == termUnion {
		if e == 0 {
			e = it.varEntity(srcThis)
		}
		if e == 0 || !it.w.owns(e, pattern) {
			return false
		}
		id := pattern
		if t.kind == termUnion {
			id = Pair(pattern.First(), it.w.target(e, pattern.First(), 0))
		}
		it.fields[t.index] = fieldState{id: id, set: true, column: -1, sparse: true}
		return true
	}
	if t.self {
		ctx.column = -1
		if it.nextMatch(o, t, ctx, a, pattern) {
			return true
		}
	}
	if t.up {
		if src, id := it.upLookup(ctx, t, a, pattern); src != 0 {
			it.setField(o, t, id, -1, src)
			return true
		}
	}
	return false
}

func (it *Iter) evalNot(o *op, ctx *opCtx, redo bool) bool {
	if redo {
		return false
	}
	t := it.term(o)
	matched := it.probe(o, t, ctx)
	it.clearField(t, it.pattern(o, t))
	return !matched
}

func (it *Iter) evalOptional(o *op, ctx *opCtx, redo bool) bool {
	if redo {
		return false
	}
	t := it.term(o)
	if !it.probe(o, t, ctx) {
		it.clearField(t, it.pattern(o, t))
	}
	return true
}

// evalOr matches a group of alternatives. Searching walks the tables of
// every alternative in order and skips tables already yielded.
func (it *Iter) evalOr(o *op, ctx *opCtx, redo bool) bool {
	first := it.term(o)
	if it.srcBound(o, first) || first.src != srcThis {
		if redo {
			return false
		}
		return it.orTest(o, ctx)
	}
	if !redo {
		ctx.alt, ctx.cur = 0, 0
		ctx.resetSeen()
	}
	for ctx.alt < len(o.group) {
		t := &it.q.terms[o.group[ctx.alt]]
		cr := it.w.index.get(it.pattern(o, t))
		if cr == nil || ctx.cur >= len(cr.cache.list) {
			ctx.alt++
			ctx.cur = 0
			continue
		}
		a := cr.cache.list[ctx.cur].table
		ctx.cur++
		if !it.visible(a, false) || !ctx.seen.CheckedAdd(a.ID()) {
			continue
		}
		it.vars[0] = varValue{table: a, count: len(a.entities)}
		if it.orTest(o, ctx) {
			return true
		}
	}
	return false
}

// orTest sets the field of the first alternative present on the bound
// source and clears the others.
func (it *Iter) orTest(o *op, ctx *opCtx) bool {
	found := false
	for _, ti := range o.group {
		t := &it.q.terms[ti]
		if !found && it.probe(o, t, ctx) {
			found = true
			continue
		}
		it.clearField(t, it.pattern(o, t))
	}
	return found
}

// evalEach splits the $this range into single entities.
func (it *Iter) evalEach(ctx *opCtx, redo bool) bool {
	base := ctx.saved
	if base.table == nil {
		return !redo
	}
	if !redo {
		ctx.row = base.offset
	} else {
		ctx.row++
	}
	if ctx.row >= base.offset+base.count {
		return false
	}
	it.vars[0] = varValue{
		entity: base.table.entities[ctx.row],
		table:  base.table,
		offset: ctx.row,
		count:  1,
	}
	return true
}
