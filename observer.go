package loom

import "unsafe"

// Event is passed to observers.
type Event struct {
	World *World
	// Kind is OnAdd, OnRemove, OnSet or a custom event entity.
	Kind   ID
	Entity ID
	ID     ID
	// Value points at the component value for OnSet and OnRemove of
	// components with data. It is only valid during the callback.
	Value unsafe.Pointer
}

// ObserverFunc runs with the main stage deferred: mutations it makes are
// applied after the operation that triggered it.
type ObserverFunc func(ev Event)

type observer struct {
	handle uint64
	kind   ID
	id     ID
	fn     ObserverFunc
}

type observers struct {
	next uint64
	list []observer
}

// Observe registers fn for events of kind on ids matching id, which may be
// a wildcard pattern. It returns a handle for Unobserve.
func (w *World) Observe(kind, id ID, fn ObserverFunc) (uint64, error) {
	if kind == 0 {
		return 0, invalidParam("kind", "must not be zero")
	}
	if id == 0 {
		return 0, invalidParam("id", "must not be zero")
	}
	if fn == nil {
		return 0, invalidParam("fn", "must not be nil")
	}
	w.observers.next++
	h := w.observers.next
	w.observers.list = append(w.observers.list, observer{handle: h, kind: kind, id: id, fn: fn})
	return h, nil
}

// Unobserve removes an observer and reports whether it existed.
func (w *World) Unobserve(handle uint64) bool {
	for i, o := range w.observers.list {
		if o.handle == handle {
			w.observers.list = append(w.observers.list[:i], w.observers.list[i+1:]...)
			return true
		}
	}
	return false
}

// emit runs type hooks and observers for one id of one entity.
func (w *World) emit(kind, e, id ID, ptr unsafe.Pointer) {
	if ti := w.hookInfo(id); ti != nil {
		var hook func(*World, ID, unsafe.Pointer)
		switch kind {
		case OnAdd:
			hook = ti.Hooks.OnAdd
		case OnSet:
			hook = ti.Hooks.OnSet
		case OnRemove:
			hook = ti.Hooks.OnRemove
		}
		if hook != nil {
			hook(w, e, ptr)
		}
	}
	if len(w.observers.list) == 0 {
		return
	}
	ev := Event{World: w, Kind: kind, Entity: e, ID: id, Value: ptr}
	// Observers may unregister themselves; iterate a snapshot.
	for _, o := range append([]observer(nil), w.observers.list...) {
		if o.kind == kind && id.Matches(o.id) {
			o.fn(ev)
		}
	}
}

func (w *World) hookInfo(id ID) *TypeInfo {
	cr := w.index.get(id)
	if cr == nil || cr.ti == nil {
		return nil
	}
	h := &cr.ti.Hooks
	if h.OnAdd == nil && h.OnSet == nil && h.OnRemove == nil {
		return nil
	}
	return cr.ti
}
