package loom

import (
	"reflect"

	"github.com/TheBitDrifter/loom/internal/alloc"
	"github.com/TheBitDrifter/loom/internal/log"
	"github.com/TheBitDrifter/loom/internal/nameindex"
	"github.com/TheBitDrifter/table"
	"go.uber.org/zap"
)

// World owns every entity, component record, archetype and stage.
//
// A World is not safe for concurrent use, except that stages obtained from
// Stage may be used from one goroutine each between ReadonlyBegin and
// ReadonlyEnd.
type World struct {
	cfg        Config
	log        *log.Logger
	alloc      *alloc.Allocator
	entities   *entityIndex
	index      *componentIndex
	archetypes *archetypes
	schema     table.Schema
	schemaRows map[ID]uint32
	types      map[reflect.Type]ID
	stages     []*Stage
	observers  observers
	rootNames  *nameindex.Index
	sparseIDs  map[ID]struct{}
	unionRels  map[ID]struct{}
	readonly   bool
	// reachGen changes whenever a pair of a transitive relationship is
	// added or removed. Reachability caches compare against it.
	reachGen uint32
	finished bool
}

type Option func(*World)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(w *World) {
		w.cfg = cfg
	}
}

// WithLogger routes engine logs to an existing zap logger.
func WithLogger(z *zap.Logger) Option {
	return func(w *World) {
		w.log = log.Wrap(z)
	}
}

// NewWorld creates a world with builtin entities in place.
func NewWorld(opts ...Option) (*World, error) {
	w := &World{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.cfg.validate(); err != nil {
		return nil, err
	}
	if w.log == nil {
		w.log = log.New(log.ParseLevel(w.cfg.LogLevel))
	}
	w.alloc = alloc.New(
		alloc.WithSystemAllocator(w.cfg.UseSystemAllocator),
		alloc.WithDebug(w.cfg.Debug),
	)
	w.entities = newEntityIndex(w.cfg.InitialEntities)
	w.index = newComponentIndex(w)
	w.archetypes = newArchetypes()
	w.schema = table.Factory.NewSchema()
	w.schemaRows = make(map[ID]uint32)
	w.types = make(map[reflect.Type]ID)
	w.rootNames = nameindex.New(w.cfg.Debug)
	w.sparseIDs = make(map[ID]struct{})
	w.unionRels = make(map[ID]struct{})
	w.archetypes.root = w.findArchetype(nil)
	w.stages = make([]*Stage, w.cfg.Stages)
	for i := range w.stages {
		w.stages[i] = newStage(w, i)
	}
	if err := w.bootstrap(); err != nil {
		return nil, err
	}
	w.log.Debug("world created", log.Int("stages", len(w.stages)), log.Bool("system_allocator", w.alloc.System()))
	return w, nil
}

func (w *World) bootstrap() error {
	root := w.archetypes.root
	for id := Wildcard; id < lastBuiltin; id++ {
		if err := w.entities.makeAlive(id); err != nil {
			return err
		}
		r := w.entities.get(id)
		r.table = root
		r.row = int32(w.appendRow(root, id))
	}
	w.entities.reserve(uint32(FirstUserID) - 1)

	if _, err := w.registerType(reflect.TypeFor[Identifier](), table.FactoryNewElementType[Identifier](), Name); err != nil {
		return err
	}
	traits := []struct {
		entity, trait ID
	}{
		{ChildOf, Traversable},
		{ChildOf, Exclusive},
		{ChildOf, DeleteWithTarget},
		{IsA, Traversable},
		{IsA, Transitive},
	}
	for _, t := range traits {
		w.add(t.entity, t.trait)
	}
	return nil
}

// registerType gives a Go type a component id. When id is zero a new
// entity is created for it and traits are added before its record exists.
func (w *World) registerType(t reflect.Type, et table.ElementType, id ID, traits ...ID) (ID, error) {
	if existing, ok := w.types[t]; ok {
		return existing, nil
	}
	for _, trait := range traits {
		if !isTrait(trait) {
			return 0, invalidParam("trait", "%s is not a trait", trait)
		}
	}
	if id == 0 {
		id = w.entities.newID()
		r := w.entities.get(id)
		r.table = w.archetypes.root
		r.row = int32(w.appendRow(w.archetypes.root, id))
		for _, trait := range traits {
			w.add(id, trait)
		}
	}
	cr := w.index.ensure(id)
	if t.Size() > 0 {
		if err := w.index.setTypeInfo(cr, TypeInfoOf(t)); err != nil {
			w.index.release(cr)
			return 0, err
		}
	}
	if et != nil {
		w.schema.Register(et)
		w.schemaRows[id] = w.schema.RowIndexFor(et)
	}
	w.types[t] = id
	return id, nil
}

// Config returns the configuration the world was created with.
func (w *World) Config() Config {
	return w.cfg
}

// Stage returns stage i. Stage 0 is the stage World methods use.
func (w *World) Stage(i int) *Stage {
	return w.stages[i]
}

func (w *World) StageCount() int {
	return len(w.stages)
}

func (w *World) main() *Stage {
	return w.stages[0]
}

// Components exposes the component index.
func (w *World) Components() *ComponentIndex {
	return &ComponentIndex{w: w}
}

// Fini releases all storage. In debug mode it reports leaked allocator
// blocks.
func (w *World) Fini() error {
	if w.finished {
		return invalidOp("fini", "world already finished")
	}
	w.finished = true
	for _, s := range w.stages {
		s.purge()
	}
	for _, a := range w.archetypes.asSlice {
		for i := range a.columns {
			a.columns[i].release(w.alloc)
		}
	}
	for id := range w.sparseIDs {
		if cr := w.index.get(id); cr != nil && cr.sparse != nil {
			cr.sparse.fini(w.alloc)
		}
	}
	_ = w.log.Sync()
	return w.alloc.Fini()
}
