package loom

import (
	"unsafe"
)

// Component is a typed handle to a registered component id. Zero-sized
// types register as tags.
type Component[T any] struct {
	id ID
	ti *TypeInfo
}

func (c Component[T]) ID() ID {
	return c.id
}

// Pair returns (c, tgt), a pair whose value has type T.
func (c Component[T]) Pair(tgt ID) ID {
	return Pair(c.id, tgt)
}

// Get returns the value of c on e, owned or inherited, or nil.
func (c Component[T]) Get(w *World, e ID) *T {
	return (*T)(w.Get(e, c.id))
}

func (c Component[T]) Has(w *World, e ID) bool {
	return w.Has(e, c.id)
}

func (c Component[T]) Add(m Mutator, e ID) error {
	return m.Add(e, c.id)
}

func (c Component[T]) Remove(m Mutator, e ID) error {
	return m.Remove(e, c.id)
}

// Set copies v into c on e, adding it when missing.
func (c Component[T]) Set(m Mutator, e ID, v T) error {
	s := m.stage()
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if c.ti == nil {
		return invalidOp("set", "%s is a tag", c.id)
	}
	return s.setPtr(e, c.id, c.ti, unsafe.Pointer(&v))
}

// Ensure returns the value of c on e, adding it when missing. In a
// deferred stage the value is a queued copy.
func (c Component[T]) Ensure(m Mutator, e ID) (*T, error) {
	ptr, err := m.Ensure(e, c.id)
	return (*T)(ptr), err
}
