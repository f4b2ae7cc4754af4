package loom

import (
	"unsafe"
)

func (w *World) stage() *Stage {
	return w.main()
}

// New creates an empty entity.
func (w *World) New() ID {
	return w.main().New()
}

func (w *World) MakeAlive(e ID) error {
	return w.main().MakeAlive(e)
}

// Add adds a component, tag or pair to e. Adding a pair of an exclusive
// relationship replaces the previous target.
func (w *World) Add(e, id ID) error {
	return w.main().Add(e, id)
}

func (w *World) Remove(e, id ID) error {
	return w.main().Remove(e, id)
}

func (w *World) Set(e, id ID, value []byte) error {
	return w.main().Set(e, id, value)
}

func (w *World) Ensure(e, id ID) (unsafe.Pointer, error) {
	return w.main().Ensure(e, id)
}

func (w *World) Emplace(e, id ID) (unsafe.Pointer, error) {
	return w.main().Emplace(e, id)
}

func (w *World) Modified(e, id ID) error {
	return w.main().Modified(e, id)
}

func (w *World) Clear(e ID) error {
	return w.main().Clear(e)
}

func (w *World) Delete(e ID) error {
	return w.main().Delete(e)
}

func (w *World) Enable(e ID, enabled bool) error {
	return w.main().Enable(e, enabled)
}

func (w *World) EnableComponent(e, id ID, enabled bool) error {
	return w.main().EnableComponent(e, id, enabled)
}

func (w *World) Emit(event, e ID, ids ...ID) error {
	return w.main().Emit(event, e, ids...)
}

func (w *World) SetName(e ID, name string) error {
	return w.main().SetName(e, name)
}

func (w *World) DeferBegin() bool {
	return w.main().DeferBegin()
}

func (w *World) DeferEnd() error {
	return w.main().DeferEnd()
}

func (w *World) IsDeferred() bool {
	return w.main().IsDeferred()
}

// Get returns a pointer to the value of id for e, owned or inherited
// through IsA, or nil. The pointer is invalidated by the next structural
// change of e.
func (w *World) Get(e, id ID) unsafe.Pointer {
	if !w.entities.isAlive(e) {
		return nil
	}
	return w.get(e, id)
}

// Has reports whether e has id, owned or inherited. id may be a wildcard
// pair.
func (w *World) Has(e, id ID) bool {
	if !w.entities.isAlive(e) {
		return false
	}
	return w.has(e, id)
}

// Owns reports whether e has id without inheritance.
func (w *World) Owns(e, id ID) bool {
	if !w.entities.isAlive(e) {
		return false
	}
	return w.owns(e, id)
}

// IsEnabled reports whether e has id and, for CanToggle components,
// whether it is enabled.
func (w *World) IsEnabled(e, id ID) bool {
	return w.isEnabled(e, id)
}

// Target returns the n-th target of rel on e, or 0.
func (w *World) Target(e, rel ID, n int) ID {
	if n < 0 {
		return 0
	}
	return w.target(e, rel, n)
}

func (w *World) IsAlive(e ID) bool {
	return e != 0 && w.entities.isAlive(e)
}

// GetAlive returns the alive id with the given index, or 0.
func (w *World) GetAlive(index uint32) ID {
	return w.entities.current(index)
}

// Count returns the number of alive entities, builtins included.
func (w *World) Count() int {
	return w.entities.count()
}

// Type returns the ids e owns, in archetype order. Union pairs are
// reported with their current target.
func (w *World) Type(e ID) []ID {
	r := w.entities.get(e)
	if r == nil || r.table == nil {
		return nil
	}
	out := make([]ID, 0, len(r.table.typ))
	for _, id := range r.table.typ {
		if id.IsPair() && id.Second() == Union {
			if tgt := w.target(e, id.First(), 0); tgt != 0 {
				out = append(out, Pair(id.First(), tgt))
			}
			continue
		}
		out = append(out, id)
	}
	return out
}
