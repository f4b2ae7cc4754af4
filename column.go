package loom

import (
	"reflect"
	"unsafe"

	"github.com/TheBitDrifter/loom/internal/alloc"
)

// column stores the values of one component for every row of an archetype.
// Pointer-free values live in pooled blocks; values holding pointers live
// in a typed Go slice so the collector can see them.
type column struct {
	ti    *TypeInfo
	data  []byte
	typed reflect.Value
	count int
	cap   int
}

func (c *column) ptr(row int) unsafe.Pointer {
	return unsafe.Pointer(&c.data[row*int(c.ti.Size)])
}

func (c *column) grow(a *alloc.Allocator, need int) {
	if need <= c.cap {
		return
	}
	newCap := max(need, 2*c.cap, 4)
	size := int(c.ti.Size)
	var data []byte
	var typed reflect.Value
	if c.ti.pointers {
		typed = reflect.MakeSlice(reflect.SliceOf(c.ti.Type), newCap, newCap)
		data = unsafe.Slice((*byte)(typed.UnsafePointer()), newCap*size)
	} else {
		data = a.Alloc(newCap * size)
	}
	count := c.count
	if count > 0 {
		c.ti.move(unsafe.Pointer(&data[0]), c.ptr(0), count)
	}
	c.free(a)
	c.data, c.typed, c.cap, c.count = data, typed, newCap, count
}

// push appends a constructed value and returns its row.
func (c *column) push(a *alloc.Allocator) int {
	c.grow(a, c.count+1)
	row := c.count
	c.count++
	c.ti.construct(c.ptr(row), 1)
	return row
}

// removeSwap destroys row and fills it with the last value.
func (c *column) removeSwap(row int, destruct bool) {
	last := c.count - 1
	if destruct {
		c.ti.destruct(c.ptr(row), 1)
	}
	if row != last {
		c.ti.move(c.ptr(row), c.ptr(last), 1)
	} else if !destruct {
		c.ti.zero(c.ptr(row), 1)
	}
	c.count--
}

// release destructs remaining values and returns the storage.
func (c *column) release(a *alloc.Allocator) {
	if c.count > 0 {
		c.ti.destruct(c.ptr(0), c.count)
	}
	c.free(a)
}

func (c *column) free(a *alloc.Allocator) {
	if c.data == nil {
		return
	}
	if !c.ti.pointers {
		a.Free(c.data)
	}
	c.data, c.typed, c.cap, c.count = nil, reflect.Value{}, 0, 0
}
