package loom

import (
	"context"
	"errors"
	"unsafe"

	"github.com/TheBitDrifter/loom/internal/log"
	"golang.org/x/sync/errgroup"
)

// Stage is an execution context with its own command queue. While a stage
// is deferred its mutations are queued and applied when deferral ends.
type Stage struct {
	w          *World
	index      int
	deferDepth int32
	suspended  []int32
	queue      *opQueue
	spare      *opQueue
}

func newStage(w *World, index int) *Stage {
	return &Stage{
		w:     w,
		index: index,
		queue: newOpQueue(),
		spare: newOpQueue(),
	}
}

func (s *Stage) World() *World {
	return s.w
}

func (s *Stage) Index() int {
	return s.index
}

func (s *Stage) stage() *Stage {
	return s
}

func (s *Stage) IsDeferred() bool {
	return s.deferDepth > 0
}

// DeferBegin starts or nests deferral. It reports whether this call
// started it.
func (s *Stage) DeferBegin() bool {
	s.deferDepth++
	return s.deferDepth == 1
}

// DeferEnd closes one level of deferral. When the outermost level closes
// the queue is replayed and replay errors are returned joined.
func (s *Stage) DeferEnd() error {
	if s.deferDepth == 0 {
		return invalidOp("defer end", "stage %d is not deferred", s.index)
	}
	s.deferDepth--
	if s.deferDepth > 0 {
		return nil
	}
	return s.flush()
}

// Purge drops every queued command without applying it.
func (s *Stage) Purge() {
	s.purge()
}

func (s *Stage) purge() {
	s.queue.reset(s.w)
	s.spare.reset(s.w)
}

// Suspend makes the stage apply mutations immediately until Resume. Queued
// commands stay queued.
func (s *Stage) Suspend() error {
	if s.w.readonly {
		return invalidOp("suspend", "world is readonly")
	}
	if s.deferDepth == 0 {
		return invalidOp("suspend", "stage %d is not deferred", s.index)
	}
	s.suspended = append(s.suspended, s.deferDepth)
	s.deferDepth = 0
	return nil
}

// Resume restores the deferral level saved by Suspend.
func (s *Stage) Resume() error {
	n := len(s.suspended)
	if n == 0 {
		return invalidOp("resume", "stage %d is not suspended", s.index)
	}
	s.deferDepth = s.suspended[n-1]
	s.suspended = s.suspended[:n-1]
	return nil
}

// Pending returns the number of queued commands.
func (s *Stage) Pending() int {
	return len(s.queue.ops)
}

// flush replays the queue until no command is left. Commands issued while
// replaying land in the spare queue and are replayed in the next round.
func (s *Stage) flush() error {
	w := s.w
	m := w.main()
	var errs []error
	for len(s.queue.ops) > 0 {
		q := s.queue
		s.queue, s.spare = s.spare, q
		w.log.Debug("flush", log.Int("stage", s.index), log.Int("ops", len(q.ops)))
		m.deferDepth++
		for i := range q.ops {
			if q.ops[i].done {
				continue
			}
			if err := w.replayEntity(q, int32(i)); err != nil {
				w.log.Error("deferred operation failed", log.Stringer("entity", q.ops[i].entity), log.Err(err))
				errs = append(errs, err)
			}
		}
		m.deferDepth--
		q.reset(w)
		if s != m && m.deferDepth == 0 && len(m.queue.ops) > 0 {
			if err := m.flush(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Stage) enqueue(op operation) *operation {
	op.refs = s.w.idRefs(op.id)
	return s.queue.enqueue(op)
}

// beginOp defers the main stage for the duration of an immediate
// operation so that hooks and observers cannot mutate storage mid-move.
func (w *World) beginOp() {
	w.main().deferDepth++
}

func (w *World) endOp() error {
	m := w.main()
	m.deferDepth--
	if m.deferDepth == 0 && len(m.suspended) == 0 && len(m.queue.ops) > 0 {
		return m.flush()
	}
	return nil
}

// ReadonlyBegin defers every stage. Until ReadonlyEnd, stages may be used
// concurrently, one goroutine per stage.
func (w *World) ReadonlyBegin() error {
	if w.readonly {
		return invalidOp("readonly begin", "world is already readonly")
	}
	w.readonly = true
	w.entities.setShared(true)
	for _, s := range w.stages {
		s.deferDepth++
	}
	return nil
}

// ReadonlyEnd is the merge point: stage queues are replayed in stage order.
func (w *World) ReadonlyEnd() error {
	if !w.readonly {
		return invalidOp("readonly end", "world is not readonly")
	}
	w.readonly = false
	w.entities.setShared(false)
	var errs []error
	for _, s := range w.stages {
		s.deferDepth--
		if s.deferDepth == 0 {
			if err := s.flush(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// IsReadonly reports whether the world is between ReadonlyBegin and
// ReadonlyEnd.
func (w *World) IsReadonly() bool {
	return w.readonly
}

// Parallel runs fn once per stage on its own goroutine in readonly mode
// and merges the queued commands afterwards.
func (w *World) Parallel(ctx context.Context, fn func(ctx context.Context, s *Stage) error) error {
	if err := w.ReadonlyBegin(); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range w.stages {
		g.Go(func() error {
			return fn(gctx, s)
		})
	}
	runErr := g.Wait()
	return errors.Join(runErr, w.ReadonlyEnd())
}

func (s *Stage) checkEntity(e ID) error {
	if e == 0 {
		return invalidParam("entity", "must not be zero")
	}
	if e.IsPair() {
		return invalidParam("entity", "%s is a pair", e)
	}
	if !s.w.entities.isAlive(e) {
		return EntityNotAliveError{Entity: e}
	}
	return nil
}

func (s *Stage) checkID(id ID, allowWildcard bool) error {
	if id == 0 {
		return invalidParam("id", "must not be zero")
	}
	if !allowWildcard && id.IsWildcard() {
		return invalidParam("id", "%s is a wildcard", id)
	}
	if id.IsPair() {
		first, second := id.First(), id.Second()
		if first == 0 || second == 0 {
			return invalidParam("id", "%s has an empty element", id)
		}
		if first != Wildcard && s.w.entities.current(first.Index()) == 0 {
			return invalidParam("id", "relationship of %s is not alive", id)
		}
		if second != Wildcard && s.w.entities.current(second.Index()) == 0 {
			return invalidParam("id", "target of %s is not alive", id)
		}
		return nil
	}
	if !s.w.entities.isAlive(id) {
		return invalidParam("id", "%s is not alive", id)
	}
	return nil
}

// New creates an entity. In a deferred stage the id is reserved at once
// and the entity is placed when the queue is replayed.
func (s *Stage) New() ID {
	w := s.w
	e := w.entities.newID()
	if s.IsDeferred() {
		s.enqueue(operation{typ: opNew, entity: e})
		return e
	}
	r := w.entities.get(e)
	r.table = w.archetypes.root
	r.row = int32(w.appendRow(w.archetypes.root, e))
	return e
}

// MakeAlive forces a specific id alive, for example one received from
// another world.
func (s *Stage) MakeAlive(e ID) error {
	if e == 0 || e.IsPair() {
		return invalidParam("entity", "%s cannot be made alive", e)
	}
	if err := s.w.entities.makeAlive(e); err != nil {
		return err
	}
	r := s.w.entities.get(e)
	if r.table != nil {
		return nil
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opNew, entity: e})
		return nil
	}
	r.table = s.w.archetypes.root
	r.row = int32(s.w.appendRow(s.w.archetypes.root, e))
	return nil
}

func (s *Stage) Add(e, id ID) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if err := s.checkID(id, false); err != nil {
		return err
	}
	if err := s.checkAdd(e, id); err != nil {
		return err
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opAdd, entity: e, id: id})
		return nil
	}
	w := s.w
	w.beginOp()
	if id == OrderedChildren {
		w.enableOrdered(e)
	}
	w.add(e, id)
	return w.endOp()
}

// checkAdd rejects traits on ids already in use and names that would
// collide in a new scope.
func (s *Stage) checkAdd(e, id ID) error {
	w := s.w
	if isTrait(id) && id != OrderedChildren {
		used := w.index.get(e) != nil
		if !used && e.Index() <= maxPairFirst {
			used = w.index.get(Pair(e, Wildcard)) != nil
		}
		if used {
			return invalidOp("add", "trait %s must be added before %s is used", id, e)
		}
	}
	if id.IsPair() && id.First() == ChildOf {
		return w.checkScopeName(e, w.entities.current(id.Second().Index()))
	}
	return nil
}

func (s *Stage) Remove(e, id ID) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if err := s.checkID(id, true); err != nil {
		return err
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opRemove, entity: e, id: id})
		return nil
	}
	s.w.beginOp()
	s.w.remove(e, id)
	return s.w.endOp()
}

func (s *Stage) typeInfo(id ID) (*TypeInfo, error) {
	cr := s.w.index.get(id)
	if cr == nil && id.IsPair() {
		if ti := s.w.index.pairTypeInfo(id.First(), id.Second()); ti != nil && ti.Size > 0 {
			return ti, nil
		}
	}
	if cr == nil || cr.ti == nil || cr.ti.Size == 0 {
		return nil, invalidParam("id", "%s has no type info", id)
	}
	return cr.ti, nil
}

// Set copies value into the component id of e, adding it when missing.
// value must be exactly the size of the component.
func (s *Stage) Set(e, id ID, value []byte) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if err := s.checkID(id, false); err != nil {
		return err
	}
	ti, err := s.typeInfo(id)
	if err != nil {
		return err
	}
	if uintptr(len(value)) != ti.Size {
		return invalidParam("value", "expected %d bytes for %s, got %d", ti.Size, id, len(value))
	}
	if ti.pointers {
		return invalidParam("value", "%s holds pointers and cannot be set from bytes", id)
	}
	return s.setPtr(e, id, ti, unsafe.Pointer(&value[0]))
}

func (s *Stage) setPtr(e, id ID, ti *TypeInfo, src unsafe.Pointer) error {
	if err := s.checkAdd(e, id); err != nil {
		return err
	}
	if s.IsDeferred() {
		v := s.w.newOpValue(ti)
		ti.copy(v.ptr, src, 1)
		s.enqueue(operation{typ: opSet, entity: e, id: id, value: v})
		return nil
	}
	s.w.beginOp()
	s.w.setValue(e, id, src)
	return s.w.endOp()
}

// Ensure returns a pointer to the value of id on e, adding the component
// when missing. In a deferred stage the pointer addresses a queued copy
// that is written to storage on replay.
func (s *Stage) Ensure(e, id ID) (unsafe.Pointer, error) {
	if err := s.checkEntity(e); err != nil {
		return nil, err
	}
	if err := s.checkID(id, false); err != nil {
		return nil, err
	}
	ti, err := s.typeInfo(id)
	if err != nil {
		return nil, err
	}
	w := s.w
	if s.IsDeferred() {
		v := w.newOpValue(ti)
		if cur := s.queue.pendingValue(e, id); cur != nil {
			ti.copy(v.ptr, cur, 1)
		} else if cur := w.get(e, id); cur != nil {
			ti.copy(v.ptr, cur, 1)
		}
		op := s.enqueue(operation{typ: opSet, entity: e, id: id, value: v})
		return op.value.ptr, nil
	}
	w.beginOp()
	ptr := w.ensurePtr(e, id)
	return ptr, w.endOp()
}

// Emplace adds id to e and returns its zeroed value for the caller to
// fill. It fails when e already owns id.
func (s *Stage) Emplace(e, id ID) (unsafe.Pointer, error) {
	if err := s.checkEntity(e); err != nil {
		return nil, err
	}
	if err := s.checkID(id, false); err != nil {
		return nil, err
	}
	ti, err := s.typeInfo(id)
	if err != nil {
		return nil, err
	}
	w := s.w
	if w.owns(e, id) {
		return nil, ComponentExistsError{Entity: e, Component: id}
	}
	if s.IsDeferred() {
		op := s.enqueue(operation{typ: opEmplace, entity: e, id: id, value: w.newOpValue(ti)})
		return op.value.ptr, nil
	}
	w.beginOp()
	ptr := w.ensurePtr(e, id)
	return ptr, w.endOp()
}

// Modified emits OnSet for a value changed through a pointer.
func (s *Stage) Modified(e, id ID) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opModified, entity: e, id: id})
		return nil
	}
	if !s.w.owns(e, id) {
		return ComponentNotFoundError{Entity: e, Component: id}
	}
	s.w.beginOp()
	s.w.modified(e, id)
	return s.w.endOp()
}

// Clear removes every component from e.
func (s *Stage) Clear(e ID) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opClear, entity: e})
		return nil
	}
	s.w.beginOp()
	s.w.clear(e)
	return s.w.endOp()
}

// Delete removes e, its ChildOf descendants, and every pair that targets
// it. Deleting a component entity removes it from all entities.
func (s *Stage) Delete(e ID) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if e.Index() < uint32(lastBuiltin) {
		return invalidOp("delete", "%s is builtin", e)
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opDelete, entity: e})
		return nil
	}
	s.w.beginOp()
	s.w.delete(e)
	return s.w.endOp()
}

// Enable adds or removes the Disabled tag.
func (s *Stage) Enable(e ID, enabled bool) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opEnable, entity: e, enabled: enabled})
		return nil
	}
	s.w.beginOp()
	if enabled {
		s.w.remove(e, Disabled)
	} else {
		s.w.add(e, Disabled)
	}
	return s.w.endOp()
}

// EnableComponent toggles a CanToggle component without moving e.
func (s *Stage) EnableComponent(e, id ID, enabled bool) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if err := s.checkID(id, false); err != nil {
		return err
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opEnableID, entity: e, id: id, enabled: enabled})
		return nil
	}
	return s.w.enableComponent(e, id, enabled)
}

// Emit sends a custom event for ids of e to observers.
func (s *Stage) Emit(event, e ID, ids ...ID) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if event == 0 {
		return invalidParam("event", "must not be zero")
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opEvent, entity: e, id: event, ids: append([]ID(nil), ids...)})
		return nil
	}
	w := s.w
	w.beginOp()
	for _, id := range ids {
		w.emit(event, e, id, w.get(e, id))
	}
	return w.endOp()
}

// SetName names e within the scope of its ChildOf parent.
func (s *Stage) SetName(e ID, name string) error {
	if err := s.checkEntity(e); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	if s.IsDeferred() {
		s.enqueue(operation{typ: opSetName, entity: e, name: name})
		return nil
	}
	w := s.w
	w.beginOp()
	err := w.setName(e, name)
	return errors.Join(err, w.endOp())
}
