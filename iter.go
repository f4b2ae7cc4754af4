package loom

import (
	"reflect"
	"unsafe"
)

// varValue is the value of a query variable. $this binds a row range of an
// archetype; other variables bind an entity.
type varValue struct {
	entity ID
	table  *archetype
	offset int
	count  int
}

type fieldState struct {
	id  ID
	set bool
	// up is the entity the field was found on through traversal.
	up     ID
	column int
	sparse bool
	ptr    unsafe.Pointer
	size   uintptr
}

// Iter walks the results of a query. Each result is a row range of one
// archetype plus the fields of every term.
type Iter struct {
	q       *Query
	w       *World
	ctx     []opCtx
	vars    []varValue
	fields  []fieldState
	started bool
	done    bool
	locked  *archetype
}

func newIter(q *Query) *Iter {
	return &Iter{
		q:      q,
		w:      q.w,
		ctx:    make([]opCtx, len(q.ops)),
		vars:   make([]varValue, q.vars.Len()),
		fields: make([]fieldState, len(q.terms)),
	}
}

// Next advances to the next result.
func (it *Iter) Next() bool {
	if it.done {
		return false
	}
	it.unlock()
	ops := it.q.ops
	i, redo := 0, false
	if it.started {
		i, redo = len(ops)-1, true
	}
	it.started = true
	for i >= 0 && i < len(ops) {
		if it.eval(i, redo) {
			i++
			redo = false
		} else {
			i--
			redo = true
		}
	}
	if i < 0 {
		it.Fini()
		return false
	}
	it.lock()
	return true
}

func (it *Iter) lock() {
	a := it.vars[0].table
	if a == nil || it.w.readonly {
		return
	}
	a.lock++
	it.locked = a
}

func (it *Iter) unlock() {
	if it.locked != nil {
		it.locked.lock--
		it.locked = nil
	}
}

// Fini ends the iteration and releases the current archetype. It is safe
// to call more than once.
func (it *Iter) Fini() {
	it.unlock()
	it.done = true
}

// Count returns the number of entities in the current result.
func (it *Iter) Count() int {
	if it.vars[0].table == nil {
		return 0
	}
	return it.vars[0].count
}

// Entities returns the entities of the current result. The slice aliases
// storage and is only valid until Next.
func (it *Iter) Entities() []ID {
	v := it.vars[0]
	if v.table == nil {
		return nil
	}
	return v.table.entities[v.offset : v.offset+v.count]
}

func (it *Iter) Entity(row int) ID {
	v := it.vars[0]
	return v.table.entities[v.offset+row]
}

// Archetype returns the id of the archetype of the current result.
func (it *Iter) Archetype() uint32 {
	if it.vars[0].table == nil {
		return 0
	}
	return it.vars[0].table.ID()
}

// FieldID returns the id matched by term i. For wildcard terms this is
// the concrete pair.
func (it *Iter) FieldID(i int) ID {
	return it.fields[i].id
}

// IsSet reports whether term i matched. It is false for unmatched
// optional terms and for Or terms other than the one that matched.
func (it *Iter) IsSet(i int) bool {
	return it.fields[i].set
}

// IsSelf reports whether field i is stored per row of the result rather
// than on a single source entity.
func (it *Iter) IsSelf(i int) bool {
	return it.fields[i].up == 0 && it.q.terms[i].src == srcThis
}

// Source returns the entity field i was matched on, or 0 for $this.
func (it *Iter) Source(i int) ID {
	f := &it.fields[i]
	if f.up != 0 {
		return f.up
	}
	t := &it.q.terms[i]
	switch {
	case t.src == srcThis:
		return 0
	case t.src == srcFixed:
		return t.srcID
	}
	return it.vars[t.src].entity
}

// Var returns the entity bound to variable i. $this yields an entity only
// when the result holds exactly one.
func (it *Iter) Var(i int) ID {
	return it.varEntity(int16(i))
}

// FindVar returns the index of a named variable, or -1.
func (it *Iter) FindVar(name string) int {
	return it.q.FindVar(name)
}

func (it *Iter) varEntity(v int16) ID {
	val := &it.vars[v]
	if v == srcThis && val.entity == 0 && val.table != nil && val.count == 1 {
		return val.table.entities[val.offset]
	}
	return val.entity
}

// Field returns the values of term i for the current result. Fields
// matched on another entity hold a single value.
func Field[T any](it *Iter, i int) []T {
	f := &it.fields[i]
	if f.ptr == nil {
		return nil
	}
	checkFieldType[T](f, i)
	if !it.IsSelf(i) {
		return unsafe.Slice((*T)(f.ptr), 1)
	}
	return unsafe.Slice((*T)(f.ptr), it.Count())
}

// FieldAt returns the value of term i for one row of the current result.
func FieldAt[T any](it *Iter, i, row int) *T {
	f := &it.fields[i]
	if f.ptr == nil {
		return nil
	}
	checkFieldType[T](f, i)
	if !it.IsSelf(i) {
		return (*T)(f.ptr)
	}
	return (*T)(unsafe.Add(f.ptr, uintptr(row)*f.size))
}

func checkFieldType[T any](f *fieldState, i int) {
	if size := reflect.TypeFor[T]().Size(); size != f.size {
		panic(invalidParam("field", "field %d holds %d byte values, %s is %d bytes", i, f.size, reflect.TypeFor[T](), size))
	}
}
