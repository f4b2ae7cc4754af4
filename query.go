package loom

import (
	"iter"
	"math"
	"reflect"
	"strings"

	"github.com/TheBitDrifter/loom/internal/log"
	"github.com/TheBitDrifter/mask"
	iter_util "github.com/TheBitDrifter/util/iter"
)

// Oper is how a term takes part in matching.
type Oper uint8

const (
	OperAnd Oper = iota
	OperNot
	OperOptional
	// OperOr chains a term with the following OperOr terms. The group
	// matches when any of them does.
	OperOr
)

// InOut declares how a field is accessed. InOutNone terms only filter.
type InOut uint8

const (
	InOutDefault InOut = iota
	In
	Out
	InOutNone
)

// CmpOp compares a member value.
type CmpOp uint8

const (
	CmpEq CmpOp = iota
	CmpNe
)

type QueryFlags uint32

const (
	MatchPrefab QueryFlags = 1 << iota
	MatchDisabled
	MatchEmptyTables
	// NoTrivial disables the trivial search path.
	NoTrivial
)

// ThisVar names the variable bound to the matched archetype.
const ThisVar = "this"

const maxQueryVars = 64

// Ref is an entity or a variable inside a term.
type Ref struct {
	ID  ID
	Var string
}

// Var refers to a query variable. A leading "$" is accepted.
func Var(name string) Ref {
	return Ref{Var: strings.TrimPrefix(name, "$")}
}

// EntityRef refers to a fixed entity.
func EntityRef(e ID) Ref {
	return Ref{ID: e}
}

func (r Ref) isVar() bool {
	return r.Var != ""
}

// Term is one condition of a query.
type Term struct {
	// ID is a component, tag or pair. When zero the id is built from
	// First and Second, which may be variables.
	ID     ID
	First  Ref
	Second Ref
	// Src is the entity the term is matched on, $this when zero.
	Src   Ref
	Oper  Oper
	InOut InOut
	// Up matches the id on ancestors following Trav. With Self the entity
	// itself is tried first.
	Up   bool
	Self bool
	// Trav is the relationship walked by Up. It defaults to ChildOf.
	Trav ID
	// Member filters on a scalar field of the component. Value is either a
	// constant or a Ref naming a variable to bind.
	Member string
	Cmp    CmpOp
	Value  any
}

type QueryDesc struct {
	Terms []Term
	Flags QueryFlags
}

type termKind uint8

const (
	termPlain termKind = iota
	termSparse
	termUnion
	termToggle
	termTrans
)

// queryTerm is a term with variables resolved to slots. Variable slots in
// id hold Wildcard.
type queryTerm struct {
	index  int
	id     ID
	kind   termKind
	first  int16
	second int16
	src    int16
	srcID  ID
	oper   Oper
	inout  InOut
	up     bool
	self   bool
	trav   ID
	orNext int16

	member   *Member
	cmp      CmpOp
	value    uint64
	valueVar int16
}

// srcThis is the slot of $this. Fixed sources use srcFixed.
const (
	srcThis  int16 = 0
	srcFixed int16 = -1
	noVar    int16 = -1
)

type queryVar struct {
	name string
}

// Query is a compiled query. It is bound to the world it was created for
// and may be iterated any number of times.
type Query struct {
	w       *World
	desc    QueryDesc
	flags   QueryFlags
	terms   []queryTerm
	ops     []op
	vars    Cache[queryVar]
	sig     mask.Mask
	trivial bool
	thisUse bool
}

// Query compiles desc.
func (w *World) Query(desc QueryDesc) (*Query, error) {
	q := &Query{
		w:     w,
		desc:  desc,
		flags: desc.Flags,
		vars:  FactoryNewCache[queryVar](maxQueryVars),
	}
	if _, err := q.vars.Register(ThisVar, queryVar{name: ThisVar}); err != nil {
		return nil, err
	}
	if err := q.resolveTerms(); err != nil {
		return nil, err
	}
	q.trivial = q.canBeTrivial()
	if q.trivial {
		q.compileTrivial()
	} else {
		q.compile()
	}
	w.log.Debug("query compiled",
		log.Int("terms", len(q.terms)),
		log.Int("ops", len(q.ops)),
		log.Bool("trivial", q.trivial))
	return q, nil
}

func (q *Query) varIndex(r Ref) (int16, error) {
	if !r.isVar() {
		return noVar, nil
	}
	i, err := q.vars.Register(r.Var, queryVar{name: r.Var})
	if err != nil {
		return noVar, invalidParam("term", "too many variables")
	}
	return int16(i), nil
}

func (q *Query) resolveTerms() error {
	w := q.w
	if len(q.desc.Terms) == 0 {
		return invalidParam("terms", "query has no terms")
	}
	if len(q.desc.Terms) > 64 {
		return invalidParam("terms", "query has %d terms, at most 64 are supported", len(q.desc.Terms))
	}
	q.terms = make([]queryTerm, len(q.desc.Terms))
	for i, t := range q.desc.Terms {
		qt := &q.terms[i]
		qt.index = i
		qt.oper = t.Oper
		qt.inout = t.InOut
		qt.up = t.Up
		qt.self = t.Self || !t.Up
		qt.trav = t.Trav
		qt.orNext = -1
		qt.valueVar = noVar
		if qt.trav == 0 {
			qt.trav = ChildOf
		}
		var err error
		if qt.first, err = q.varIndex(t.First); err != nil {
			return err
		}
		if qt.second, err = q.varIndex(t.Second); err != nil {
			return err
		}
		switch {
		case t.Src.isVar():
			if qt.src, err = q.varIndex(t.Src); err != nil {
				return err
			}
		case t.Src.ID != 0:
			if !w.entities.isAlive(t.Src.ID) {
				return invalidParam("src", "term %d source %s is not alive", i, t.Src.ID)
			}
			qt.src, qt.srcID = srcFixed, t.Src.ID
		default:
			qt.src = srcThis
		}

		if err := q.resolveID(qt, t); err != nil {
			return err
		}
		if t.Member != "" {
			if err := q.resolveMember(qt, t); err != nil {
				return err
			}
		}
	}
	for i := range q.terms {
		if q.terms[i].oper == OperOr && i+1 < len(q.terms) && q.terms[i+1].oper == OperOr {
			q.terms[i].orNext = int16(i + 1)
		}
	}
	q.thisUse = false
	for _, qt := range q.terms {
		if qt.first == 0 || qt.second == 0 || qt.valueVar == 0 {
			q.thisUse = true
		}
		// negated and optional sparse or union terms are tested per entity
		if qt.src == srcThis && qt.oper != OperAnd && (qt.kind == termSparse || qt.kind == termUnion) {
			q.thisUse = true
		}
	}
	return nil
}

func (q *Query) resolveID(qt *queryTerm, t Term) error {
	w := q.w
	id := t.ID
	if id == 0 {
		first := t.First.ID
		if qt.first != noVar {
			first = Wildcard
		}
		if first == 0 {
			return invalidParam("term", "term %d has no id", qt.index)
		}
		if qt.second == noVar && t.Second.ID == 0 {
			id = first
		} else {
			second := t.Second.ID
			if qt.second != noVar {
				second = Wildcard
			}
			if first.Index() > maxPairFirst {
				return invalidParam("term", "term %d relationship %s does not fit a pair", qt.index, first)
			}
			id = Pair(first, second)
		}
	} else if id.IsPair() && (qt.first != noVar || qt.second != noVar) {
		return invalidParam("term", "term %d sets both ID and variables", qt.index)
	}
	if id == Wildcard || id == Pair(Wildcard, Wildcard) {
		return invalidParam("term", "term %d matches every id", qt.index)
	}
	if !id.IsPair() && !w.entities.isAlive(id) {
		return invalidParam("term", "term %d id %s is not alive", qt.index, id)
	}
	qt.id = id

	switch {
	case id.IsPair() && id.First() != Wildcard && w.hasTrait(w.entities.current(id.First().Index()), Union):
		qt.kind = termUnion
	case !id.IsWildcard() && w.isSparse(id):
		qt.kind = termSparse
	case id.IsPair() && id.Second() != Wildcard && id.First() != Wildcard &&
		w.hasTrait(w.entities.current(id.First().Index()), Transitive) && !qt.up:
		qt.kind = termTrans
	case !id.IsWildcard() && !id.IsPair() && w.hasTrait(w.entities.current(id.Index()), CanToggle):
		qt.kind = termToggle
	case id.IsPair() && !id.IsWildcard() && w.hasTrait(w.entities.current(id.First().Index()), CanToggle):
		qt.kind = termToggle
	}
	if qt.up && (qt.kind == termUnion || qt.kind == termSparse) {
		return invalidParam("term", "term %d cannot traverse on a union or sparse id", qt.index)
	}
	return nil
}

func (q *Query) resolveMember(qt *queryTerm, t Term) error {
	if qt.src != srcThis || qt.up || qt.oper != OperAnd || qt.id.IsWildcard() {
		return invalidParam("member", "term %d: member filters need an owned $this term", qt.index)
	}
	cr := q.w.index.get(qt.id)
	var ti *TypeInfo
	if cr != nil {
		ti = cr.ti
	}
	if ti == nil {
		return invalidParam("member", "term %d id %s has no type info", qt.index, qt.id)
	}
	m, ok := ti.Member(t.Member)
	if !ok {
		return invalidParam("member", "%s has no member %q", qt.id, t.Member)
	}
	switch m.Size {
	case 1, 2, 4, 8:
	default:
		return invalidParam("member", "member %s of %s is %d bytes, want 1, 2, 4 or 8", m.Name, qt.id, m.Size)
	}
	if m.Offset+m.Size > ti.Size {
		return invalidParam("member", "member %s lies outside %s", m.Name, qt.id)
	}
	qt.member = &m
	qt.cmp = t.Cmp
	switch v := t.Value.(type) {
	case Ref:
		if !v.isVar() {
			qt.value = memberBits(&m, uint64(v.ID))
			return nil
		}
		idx, err := q.varIndex(v)
		if err != nil {
			return err
		}
		qt.valueVar = idx
		return nil
	default:
		bits, err := constantBits(&m, t.Value)
		if err != nil {
			return err
		}
		qt.value = bits
	}
	return nil
}

// constantBits converts a Go constant to the raw bits of member m.
func constantBits(m *Member, v any) (uint64, error) {
	rv := reflect.ValueOf(v)
	var bits uint64
	switch {
	case !rv.IsValid():
		return 0, invalidParam("value", "member %s compared to nil", m.Name)
	case rv.CanInt():
		bits = uint64(rv.Int())
		if m.Kind == reflect.Float32 {
			bits = uint64(math.Float32bits(float32(rv.Int())))
		} else if m.Kind == reflect.Float64 {
			bits = math.Float64bits(float64(rv.Int()))
		}
	case rv.CanUint():
		bits = rv.Uint()
		if m.Kind == reflect.Float32 {
			bits = uint64(math.Float32bits(float32(rv.Uint())))
		} else if m.Kind == reflect.Float64 {
			bits = math.Float64bits(float64(rv.Uint()))
		}
	case rv.CanFloat():
		switch m.Kind {
		case reflect.Float32:
			bits = uint64(math.Float32bits(float32(rv.Float())))
		case reflect.Float64:
			bits = math.Float64bits(rv.Float())
		default:
			return 0, invalidParam("value", "member %s is not a float", m.Name)
		}
	case rv.Kind() == reflect.Bool:
		if rv.Bool() {
			bits = 1
		}
	default:
		return 0, invalidParam("value", "cannot compare member %s to %s", m.Name, rv.Type())
	}
	return memberBits(m, bits), nil
}

func memberBits(m *Member, bits uint64) uint64 {
	if m.Size >= 8 {
		return bits
	}
	return bits & (1<<(8*m.Size) - 1)
}

// canBeTrivial reports whether every term is an owned, fixed id on $this.
func (q *Query) canBeTrivial() bool {
	if q.flags&NoTrivial != 0 {
		return false
	}
	for _, t := range q.terms {
		if t.oper != OperAnd || t.src != srcThis || t.up || t.member != nil ||
			t.first != noVar || t.second != noVar || t.kind != termPlain || t.id.IsWildcard() {
			return false
		}
	}
	return true
}

func (q *Query) compileTrivial() {
	for _, t := range q.terms {
		q.sig.Mark(q.w.sigBit(t.id))
	}
	q.ops = []op{{kind: opTrivial, term: 0}, {kind: opPopulate, term: -1}}
}

// compile orders the terms into a program. Fixed sources run first, then
// the positive $this terms that can search, then filters that need a
// bound $this, then terms on other variables, then optional and negated
// terms.
func (q *Query) compile() {
	var written uint64
	emitted := make([]bool, len(q.terms))
	emit := func(o op) {
		o.written = written
		q.ops = append(q.ops, o)
		if o.term >= 0 {
			written |= q.termWrites(&q.terms[o.term], o)
		}
		if o.kind == opAll {
			written |= 1
		}
	}
	thisBound := func() bool { return written&1 != 0 }

	for i := range q.terms {
		t := &q.terms[i]
		if t.src == srcFixed && t.oper == OperAnd {
			emit(op{kind: q.matchKind(t), term: int16(i)})
			emitted[i] = true
		}
	}

	for i := range q.terms {
		t := &q.terms[i]
		if emitted[i] || t.src != srcThis || t.oper != OperAnd {
			continue
		}
		switch t.kind {
		case termSparse, termUnion:
			if thisBound() {
				continue
			}
			if t.kind == termUnion && t.id.Second() == Wildcard {
				emit(op{kind: opAnd, term: int16(i), marker: true})
			}
		case termToggle:
			emit(op{kind: opAnd, term: int16(i)})
		}
		emit(op{kind: q.matchKind(t), term: int16(i)})
		emitted[i] = true
	}

	for i := 0; i < len(q.terms); i++ {
		t := &q.terms[i]
		if emitted[i] || t.oper != OperOr || t.src != srcThis {
			continue
		}
		o := op{kind: opOr, term: int16(i)}
		for j := int16(i); j >= 0; j = q.terms[j].orNext {
			o.group = append(o.group, j)
			emitted[j] = true
		}
		emit(o)
	}

	needThis := false
	for i := range q.terms {
		if !emitted[i] && q.terms[i].src == srcThis {
			needThis = true
		}
	}
	if needThis && !thisBound() {
		emit(op{kind: opAll, term: -1})
	}

	for i := range q.terms {
		t := &q.terms[i]
		if emitted[i] || t.src != srcThis || t.oper != OperAnd {
			continue
		}
		switch t.kind {
		case termUnion:
			emit(op{kind: opAnd, term: int16(i), marker: true})
		case termToggle:
			emit(op{kind: opAnd, term: int16(i)})
		}
		emit(op{kind: q.matchKind(t), term: int16(i)})
		emitted[i] = true
	}
	for i := range q.terms {
		t := &q.terms[i]
		if t.member != nil {
			emit(op{kind: opMember, term: int16(i)})
		}
	}
	if q.thisUse {
		emit(op{kind: opEach, term: -1})
	}

	for i := range q.terms {
		t := &q.terms[i]
		if emitted[i] || t.oper != OperAnd {
			continue
		}
		emit(op{kind: q.matchKind(t), term: int16(i)})
		emitted[i] = true
	}
	for _, oper := range [...]Oper{OperOptional, OperOr, OperNot} {
		for i := range q.terms {
			t := &q.terms[i]
			if emitted[i] || t.oper != oper {
				continue
			}
			kind := opOptional
			switch oper {
			case OperNot:
				kind = opNot
			case OperOr:
				// an Or group on a non-$this source is tested term by term
				o := op{kind: opOr, term: int16(i)}
				for j := int16(i); j >= 0; j = q.terms[j].orNext {
					o.group = append(o.group, j)
					emitted[j] = true
				}
				emit(o)
				continue
			}
			emit(op{kind: kind, term: int16(i)})
			emitted[i] = true
		}
	}
	emit(op{kind: opPopulate, term: -1})
}

// matchKind selects the op for a positive term.
func (q *Query) matchKind(t *queryTerm) opKind {
	switch {
	case t.up && t.self:
		return opSelfUp
	case t.up:
		return opUp
	case t.kind == termSparse:
		return opSparse
	case t.kind == termUnion:
		return opUnion
	case t.kind == termToggle && t.src == srcThis:
		return opToggle
	case t.kind == termTrans:
		return opTrans
	case t.id.IsWildcard():
		return opAndWild
	}
	return opAnd
}

// termWrites returns the variables bound by an op for t.
func (q *Query) termWrites(t *queryTerm, o op) uint64 {
	kind := o.kind
	if kind == opNot || kind == opOptional {
		return 0
	}
	var m uint64
	if t.src >= 0 {
		m |= 1 << uint(t.src)
	}
	if o.marker {
		return m
	}
	if t.first >= 0 {
		m |= 1 << uint(t.first)
	}
	if t.second >= 0 {
		m |= 1 << uint(t.second)
	}
	if t.valueVar >= 0 && kind == opMember {
		m |= 1 << uint(t.valueVar)
	}
	return m
}

// World returns the world the query was compiled for.
func (q *Query) World() *World {
	return q.w
}

// FieldCount returns the number of fields, one per term.
func (q *Query) FieldCount() int {
	return len(q.terms)
}

// IsTrivial reports whether the query runs on the trivial search path.
func (q *Query) IsTrivial() bool {
	return q.trivial
}

// FindVar returns the index of a named variable, or -1.
func (q *Query) FindVar(name string) int {
	i, ok := q.vars.GetIndex(strings.TrimPrefix(name, "$"))
	if !ok {
		return -1
	}
	return i
}

// VarCount returns the number of variables, $this included.
func (q *Query) VarCount() int {
	return q.vars.Len()
}

// Iter starts an iteration. Callers that stop before Next returns false
// must call Fini.
func (q *Query) Iter() *Iter {
	return newIter(q)
}

// Batches iterates the results of q. Each yielded Iter is only valid until
// the next step.
func (q *Query) Batches() iter.Seq[*Iter] {
	return func(yield func(*Iter) bool) {
		it := q.Iter()
		defer it.Fini()
		for it.Next() {
			if !yield(it) {
				return
			}
		}
	}
}

// Each calls fn for every matched entity with the main stage deferred, so
// fn may mutate the world.
func (q *Query) Each(fn func(it *Iter, row int)) error {
	m := q.w.main()
	m.DeferBegin()
	for it := range q.Batches() {
		for row := range it.Count() {
			fn(it, row)
		}
	}
	return m.DeferEnd()
}

// Count returns the number of matched entities.
func (q *Query) Count() int {
	n := 0
	for it := range q.Batches() {
		n += it.Count()
	}
	return n
}

// Entities returns every matched entity in iteration order.
func (q *Query) Entities() []ID {
	return iter_util.Collect(q.entitySeq())
}

func (q *Query) entitySeq() iter.Seq[ID] {
	return func(yield func(ID) bool) {
		for it := range q.Batches() {
			for _, e := range it.Entities() {
				if !yield(e) {
					return
				}
			}
		}
	}
}
