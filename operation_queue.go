package loom

import (
	"errors"
	"reflect"
	"unsafe"

	"github.com/TheBitDrifter/loom/internal/log"
)

type operationType uint8

const (
	opNew operationType = iota
	opAdd
	opRemove
	opSet
	opEmplace
	opModified
	opClear
	opDelete
	opEnable
	opEnableID
	opEvent
	opSetName
)

// operation is one deferred mutation. next links the operations queued for
// the same entity in the order they were issued.
type operation struct {
	typ     operationType
	entity  ID
	id      ID
	value   opValue
	enabled bool
	name    string
	ids     []ID
	// refs are the entities id referred to when the operation was queued.
	refs [2]ID
	next int32
	done bool
}

// opValue owns a component value copied into the queue.
type opValue struct {
	ptr   unsafe.Pointer
	block []byte
	keep  reflect.Value
	ti    *TypeInfo
}

func (w *World) newOpValue(ti *TypeInfo) opValue {
	v := opValue{ti: ti}
	if ti.pointers {
		v.keep = reflect.New(ti.Type)
		v.ptr = v.keep.UnsafePointer()
	} else {
		v.block = w.alloc.Alloc(int(ti.Size))
		v.ptr = unsafe.Pointer(&v.block[0])
	}
	ti.construct(v.ptr, 1)
	return v
}

func (v *opValue) free(w *World) {
	if v.ptr == nil {
		return
	}
	v.ti.destruct(v.ptr, 1)
	if v.block != nil {
		w.alloc.Free(v.block)
	}
	*v = opValue{}
}

// release returns the memory of a value that was moved out.
func (v *opValue) release(w *World) {
	if v.block != nil {
		w.alloc.Free(v.block)
	}
	*v = opValue{}
}

// idRefs returns the alive entities id is made of. Wildcards are left out.
func (w *World) idRefs(id ID) [2]ID {
	if id == 0 {
		return [2]ID{}
	}
	if !id.IsPair() {
		return [2]ID{id}
	}
	var refs [2]ID
	if first := id.First(); first != Wildcard {
		refs[0] = w.entities.current(first.Index())
	}
	if second := id.Second(); second != Wildcard {
		refs[1] = w.entities.current(second.Index())
	}
	return refs
}

// refsAlive reports whether the entities captured by idRefs are still
// alive. A pair stores no generation, so a recycled target would otherwise
// pass for the deleted one.
func (w *World) refsAlive(refs [2]ID) bool {
	for _, r := range refs {
		if r != 0 && !w.entities.isAlive(r) {
			return false
		}
	}
	return true
}

type opEntry struct {
	first, last int32
}

type opQueue struct {
	ops     []operation
	entries map[ID]opEntry
}

func newOpQueue() *opQueue {
	return &opQueue{entries: make(map[ID]opEntry)}
}

// enqueue appends op and links it behind the previous operation on the
// same entity. The returned pointer is valid until the next enqueue.
func (q *opQueue) enqueue(op operation) *operation {
	idx := int32(len(q.ops))
	op.next = -1
	if ent, ok := q.entries[op.entity]; ok {
		q.ops[ent.last].next = idx
		ent.last = idx
		q.entries[op.entity] = ent
	} else {
		q.entries[op.entity] = opEntry{first: idx, last: idx}
	}
	q.ops = append(q.ops, op)
	return &q.ops[idx]
}

func (q *opQueue) reset(w *World) {
	for i := range q.ops {
		q.ops[i].value.free(w)
		q.ops[i] = operation{}
	}
	q.ops = q.ops[:0]
	clear(q.entries)
}

// pendingValue returns the value of the last queued set of id on e.
func (q *opQueue) pendingValue(e, id ID) unsafe.Pointer {
	ent, ok := q.entries[e]
	if !ok {
		return nil
	}
	var ptr unsafe.Pointer
	for i := ent.first; i >= 0; i = q.ops[i].next {
		op := &q.ops[i]
		switch {
		case (op.typ == opSet || op.typ == opEmplace) && op.id == id:
			ptr = op.value.ptr
		case op.typ == opRemove && op.id.Matches(id), op.typ == opClear, op.typ == opDelete:
			ptr = nil
		}
	}
	return ptr
}

// batch collects the add and remove operations of one entity so that they
// are applied as a single archetype move.
type batch struct {
	ops []batchOp
}

type batchOp struct {
	id  ID
	add bool
}

func (b *batch) push(id ID, add bool) {
	b.ops = append(b.ops, batchOp{id: id, add: add})
}

// flushBatch applies the pending structural changes of e.
func (w *World) flushBatch(e ID, b *batch) {
	r := w.entities.get(e)
	if r == nil {
		b.ops = b.ops[:0]
		return
	}
	dst := w.tableOf(r)
	for _, op := range b.ops {
		if w.isUnion(op.id) || (!op.id.IsWildcard() && w.isSparse(op.id)) {
			w.commit(e, r, dst)
			if op.add {
				w.add(e, op.id)
			} else {
				w.remove(e, op.id)
			}
			dst = w.tableOf(r)
			continue
		}
		if op.add {
			dst = w.archetypeWith(dst, op.id)
		} else {
			dst = w.archetypeWithout(dst, op.id)
		}
	}
	w.commit(e, r, dst)
	b.ops = b.ops[:0]
}

// replayEntity applies every operation queued for the entity of
// q.ops[start], in issue order.
func (w *World) replayEntity(q *opQueue, start int32) error {
	e := q.ops[start].entity
	var b batch
	var errs []error
	for i := start; i >= 0; i = q.ops[i].next {
		op := &q.ops[i]
		op.done = true
		if !w.entities.isAlive(e) {
			op.value.free(w)
			continue
		}
		switch op.typ {
		case opAdd, opRemove, opSet, opEmplace, opModified, opEnableID:
			if !w.refsAlive(op.refs) {
				w.log.Debug("deferred operation dropped", log.Stringer("entity", e), log.Stringer("id", op.id))
				op.value.free(w)
				continue
			}
		}
		switch op.typ {
		case opNew:
			// placed by the final flush
		case opAdd:
			b.push(op.id, true)
		case opRemove:
			b.push(op.id, false)
		case opEnable:
			b.push(Disabled, !op.enabled)
		case opClear:
			b.ops = b.ops[:0]
			w.clear(e)
		case opDelete:
			b.ops = b.ops[:0]
			w.delete(e)
		case opSet:
			w.flushBatch(e, &b)
			w.setValue(e, op.id, op.value.ptr)
			op.value.free(w)
		case opEmplace:
			w.flushBatch(e, &b)
			if w.owns(e, op.id) {
				errs = append(errs, ComponentExistsError{Entity: e, Component: op.id})
			} else if ptr := w.ensurePtr(e, op.id); ptr != nil {
				op.value.ti.destruct(ptr, 1)
				op.value.ti.move(ptr, op.value.ptr, 1)
				op.value.release(w)
			}
			op.value.free(w)
		case opModified:
			w.flushBatch(e, &b)
			w.modified(e, op.id)
		case opEnableID:
			w.flushBatch(e, &b)
			if err := w.enableComponent(e, op.id, op.enabled); err != nil {
				errs = append(errs, err)
			}
		case opEvent:
			w.flushBatch(e, &b)
			for _, id := range op.ids {
				w.emit(op.id, e, id, w.get(e, id))
			}
		case opSetName:
			w.flushBatch(e, &b)
			if err := w.setName(e, op.name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if w.entities.isAlive(e) {
		w.flushBatch(e, &b)
	}
	return errors.Join(errs...)
}
