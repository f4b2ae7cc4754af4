package loom

import (
	"reflect"

	"github.com/TheBitDrifter/table"
)

type factory struct{}

// Factory groups the constructors of the package.
var Factory factory

func (f factory) NewWorld(opts ...Option) (*World, error) {
	return NewWorld(opts...)
}

func (f factory) NewQuery(w *World, desc QueryDesc) (*Query, error) {
	return w.Query(desc)
}

// FactoryNewComponent registers T with w and returns its handle. Traits
// such as Sparse or CanToggle apply to the first registration; calling it
// again for the same T returns the same id.
func FactoryNewComponent[T any](w *World, traits ...ID) (Component[T], error) {
	id, err := w.registerType(reflect.TypeFor[T](), table.FactoryNewElementType[T](), 0, traits...)
	if err != nil {
		return Component[T]{}, err
	}
	c := Component[T]{id: id}
	if cr := w.index.get(id); cr != nil {
		c.ti = cr.ti
	}
	return c, nil
}

func FactoryNewCache[T any](cap int) Cache[T] {
	return &SimpleCache[T]{
		itemIndices: make(map[string]int),
		maxCapacity: cap,
	}
}
