package loom

import (
	"unsafe"
)

// populate resolves the value pointer of every field used by the caller.
// Fields on $this point at the first row of the result; fields found on
// another entity point at that entity's value.
func (it *Iter) populate() {
	w := it.w
	this := it.vars[0]
	for i := range it.fields {
		f := &it.fields[i]
		t := &it.q.terms[i]
		f.ptr, f.size = nil, 0
		if !f.set || t.inout == InOutNone || t.oper == OperNot {
			continue
		}
		cr := w.index.get(f.id)
		if cr == nil || cr.ti == nil || cr.ti.Size == 0 {
			continue
		}
		f.size = cr.ti.Size
		var ptr unsafe.Pointer
		switch {
		case f.up != 0:
			ptr = w.get(f.up, f.id)
		case t.src != srcThis:
			ptr = w.get(it.Source(i), f.id)
		case f.sparse:
			if this.count == 1 {
				ptr = w.get(this.table.entities[this.offset], f.id)
			}
		case this.table != nil && f.column >= 0 && this.count > 0:
			if c := this.table.column(f.column); c != nil {
				ptr = c.ptr(this.offset)
			}
		}
		f.ptr = ptr
	}
}
