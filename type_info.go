package loom

import (
	"reflect"
	"strings"
	"unsafe"
)

// Member describes a scalar field of a component that queries can compare.
type Member struct {
	Name   string
	Offset uintptr
	Size   uintptr
	Kind   reflect.Kind
}

// Hooks customize the lifecycle of component values. Nil hooks fall back
// to zeroing, byte copies, or reflect copies for types holding pointers.
type Hooks struct {
	Ctor func(ptr unsafe.Pointer, count int, ti *TypeInfo)
	Dtor func(ptr unsafe.Pointer, count int, ti *TypeInfo)
	Copy func(dst, src unsafe.Pointer, count int, ti *TypeInfo)
	Move func(dst, src unsafe.Pointer, count int, ti *TypeInfo)

	OnAdd    func(w *World, e ID, ptr unsafe.Pointer)
	OnSet    func(w *World, e ID, ptr unsafe.Pointer)
	OnRemove func(w *World, e ID, ptr unsafe.Pointer)
}

// TypeInfo is the layout of a component value.
type TypeInfo struct {
	Size      uintptr
	Alignment uintptr
	Type      reflect.Type
	Members   []Member
	Hooks     Hooks

	pointers bool
}

// TypeInfoOf describes a Go type.
func TypeInfoOf(t reflect.Type) *TypeInfo {
	ti := &TypeInfo{
		Size:      t.Size(),
		Alignment: uintptr(t.Align()),
		Type:      t,
		pointers:  hasPointers(t),
	}
	if t.Kind() == reflect.Struct {
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() || !scalarKind(f.Type.Kind()) {
				continue
			}
			ti.Members = append(ti.Members, Member{
				Name:   f.Name,
				Offset: f.Offset,
				Size:   f.Type.Size(),
				Kind:   f.Type.Kind(),
			})
		}
	} else if scalarKind(t.Kind()) {
		ti.Members = append(ti.Members, Member{Name: "value", Size: t.Size(), Kind: t.Kind()})
	}
	return ti
}

// Member finds a member by case-insensitive name.
func (ti *TypeInfo) Member(name string) (Member, bool) {
	for _, m := range ti.Members {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Member{}, false
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.String, reflect.Interface,
		reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

func (ti *TypeInfo) bytes(ptr unsafe.Pointer, count int) []byte {
	return unsafe.Slice((*byte)(ptr), int(ti.Size)*count)
}

func (ti *TypeInfo) typed(ptr unsafe.Pointer, count int) reflect.Value {
	return reflect.SliceAt(ti.Type, ptr, count)
}

func (ti *TypeInfo) construct(ptr unsafe.Pointer, count int) {
	if ti.Hooks.Ctor != nil {
		ti.Hooks.Ctor(ptr, count, ti)
		return
	}
	ti.zero(ptr, count)
}

func (ti *TypeInfo) destruct(ptr unsafe.Pointer, count int) {
	if ti.Hooks.Dtor != nil {
		ti.Hooks.Dtor(ptr, count, ti)
		return
	}
	if ti.pointers {
		ti.zero(ptr, count)
	}
}

func (ti *TypeInfo) zero(ptr unsafe.Pointer, count int) {
	if ti.pointers {
		s := ti.typed(ptr, count)
		for i := range count {
			s.Index(i).SetZero()
		}
		return
	}
	clear(ti.bytes(ptr, count))
}

func (ti *TypeInfo) copy(dst, src unsafe.Pointer, count int) {
	if ti.Hooks.Copy != nil {
		ti.Hooks.Copy(dst, src, count, ti)
		return
	}
	ti.rawCopy(dst, src, count)
}

// move transfers values and leaves src destructed.
func (ti *TypeInfo) move(dst, src unsafe.Pointer, count int) {
	if ti.Hooks.Move != nil {
		ti.Hooks.Move(dst, src, count, ti)
		return
	}
	ti.rawCopy(dst, src, count)
	if ti.pointers {
		ti.zero(src, count)
	}
}

func (ti *TypeInfo) rawCopy(dst, src unsafe.Pointer, count int) {
	if ti.pointers {
		reflect.Copy(ti.typed(dst, count), ti.typed(src, count))
		return
	}
	copy(ti.bytes(dst, count), ti.bytes(src, count))
}
