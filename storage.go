package loom

import (
	"slices"
	"unsafe"

	"github.com/TheBitDrifter/loom/internal/bitset"
	"github.com/TheBitDrifter/loom/internal/log"
	"github.com/cespare/xxhash/v2"
)

// sigHashBits is where ids without a schema row land in an archetype
// signature. Schema rows are kept below it.
const (
	sigHashBase = 48
	sigHashBits = 16
)

type archetypes struct {
	nextID  archetypeID
	asSlice []*archetype
	byHash  map[uint64][]*archetype
	byID    map[archetypeID]*archetype
	root    *archetype
}

func newArchetypes() *archetypes {
	return &archetypes{
		nextID: 1,
		byHash: make(map[uint64][]*archetype),
		byID:   make(map[archetypeID]*archetype),
	}
}

func typeHash(typ []ID) uint64 {
	if len(typ) == 0 {
		return 0
	}
	return xxhash.Sum64(unsafe.Slice((*byte)(unsafe.Pointer(&typ[0])), len(typ)*8))
}

// sigBit places id in the archetype signature.
func (w *World) sigBit(id ID) uint32 {
	if bit, ok := w.schemaRows[id]; ok && bit < sigHashBase {
		return bit
	}
	return sigHashBase + uint32(uint64(id)*0x9E3779B97F4A7C15>>(64-4))%sigHashBits
}

// findArchetype returns the archetype for typ, creating it when missing.
// typ must be sorted and is not retained.
func (w *World) findArchetype(typ []ID) *archetype {
	h := typeHash(typ)
	for _, a := range w.archetypes.byHash[h] {
		if slices.Equal(a.typ, typ) {
			return a
		}
	}
	return w.newArchetype(slices.Clone(typ), h)
}

func (w *World) newArchetype(typ []ID, hash uint64) *archetype {
	reg := w.archetypes
	a := &archetype{
		id:          reg.nextID,
		typ:         typ,
		hash:        hash,
		columnOf:    make([]int16, len(typ)),
		addEdges:    make(map[ID]*archetype),
		removeEdges: make(map[ID]*archetype),
		incoming:    make(map[*archetype]struct{}),
	}
	reg.nextID++

	for i, id := range typ {
		a.sig.Mark(w.sigBit(id))
		a.columnOf[i] = -1
		switch {
		case id == Prefab:
			a.flags |= archetypePrefab
		case id == Disabled:
			a.flags |= archetypeDisabled
		case id == NotQueryable:
			a.flags |= archetypeNotQueryable
		case id == Name:
			a.flags |= archetypeHasName
		case id.IsPair() && id.First() == ChildOf:
			a.flags |= archetypeHasChildOf
		case id.IsPair() && id.First() == IsA:
			a.flags |= archetypeHasIsA
		case id.IsPair() && id.Second() == Union:
			a.flags |= archetypeHasUnion
		}
	}
	w.registerArchetype(a)

	a.slot = len(reg.asSlice)
	reg.asSlice = append(reg.asSlice, a)
	reg.byHash[hash] = append(reg.byHash[hash], a)
	reg.byID[a.id] = a
	w.log.Debug("archetype created", log.Uint32("archetype", uint32(a.id)), log.Int("ids", len(typ)))
	return a
}

// registerArchetype adds a to the table cache of every record its type
// matches, including the wildcard records of its pairs.
func (w *World) registerArchetype(a *archetype) {
	type pending struct {
		id    ID
		index int
		count int
	}
	entries := make([]pending, 0, len(a.typ)+4)
	wild := map[ID]int{}
	for i, id := range a.typ {
		entries = append(entries, pending{id: id, index: i, count: 1})
		if !id.IsPair() {
			continue
		}
		for _, pattern := range [...]ID{Pair(id.First(), Wildcard), Pair(Wildcard, id.Second())} {
			if k, ok := wild[pattern]; ok {
				entries[k].count++
				continue
			}
			wild[pattern] = len(entries)
			entries = append(entries, pending{id: pattern, index: i, count: 1})
		}
	}

	a.records = make([]tableRecord, len(entries))
	columns := 0
	for k, p := range entries {
		cr := w.index.ensure(p.id)
		tr := &a.records[k]
		tr.table = a
		tr.cr = cr
		tr.index = int16(p.index)
		tr.count = int16(p.count)
		tr.column = -1
		if k < len(a.typ) {
			if cr.ti != nil && cr.ti.Size > 0 {
				a.columnOf[k] = int16(columns)
				columns++
			}
			if cr.flags&recordCanToggle != 0 {
				a.toggles = append(a.toggles, toggleColumn{id: p.id, bits: bitset.New()})
				a.flags |= archetypeHasToggle
			}
		}
		cr.cache.insert(tr)
	}

	a.columns = make([]column, columns)
	for i := range a.typ {
		if c := a.columnOf[i]; c >= 0 {
			a.columns[c].ti = a.records[i].cr.ti
			a.records[i].column = c
		}
	}
	for k := len(a.typ); k < len(a.records); k++ {
		tr := &a.records[k]
		tr.column = a.columnOf[tr.index]
	}
}

// archetypeWith follows or creates the add edge for id.
func (w *World) archetypeWith(a *archetype, id ID) *archetype {
	if next, ok := a.addEdges[id]; ok {
		return next
	}
	typ := w.typeWith(a.typ, id)
	next := a
	if typ != nil {
		next = w.findArchetype(typ)
	}
	w.linkEdge(a, next, id, true)
	return next
}

// archetypeWithout follows or creates the remove edge for id. id may be a
// wildcard pattern, which removes every match.
func (w *World) archetypeWithout(a *archetype, id ID) *archetype {
	if next, ok := a.removeEdges[id]; ok {
		return next
	}
	typ := make([]ID, 0, len(a.typ))
	for _, t := range a.typ {
		if !t.Matches(id) {
			typ = append(typ, t)
		}
	}
	next := a
	if len(typ) != len(a.typ) {
		next = w.findArchetype(typ)
	}
	w.linkEdge(a, next, id, false)
	return next
}

func (w *World) linkEdge(from, to *archetype, id ID, add bool) {
	if add {
		from.addEdges[id] = to
	} else {
		from.removeEdges[id] = to
	}
	if from != to {
		to.incoming[from] = struct{}{}
	}
}

// typeWith returns the sorted type of typ plus id, or nil when unchanged.
// Exclusive relationships drop their previous target. Union pairs are
// stored as an (R, Union) marker.
func (w *World) typeWith(typ []ID, id ID) []ID {
	if id.IsPair() {
		rel := w.entities.current(id.First().Index())
		if w.hasTrait(rel, Union) {
			id = Pair(id.First(), Union)
		} else if w.hasTrait(rel, Exclusive) {
			pattern := Pair(id.First(), Wildcard)
			i := slices.IndexFunc(typ, func(t ID) bool { return t.Matches(pattern) })
			if i >= 0 {
				if typ[i] == id {
					return nil
				}
				rest := slices.Delete(slices.Clone(typ), i, i+1)
				return w.typeWith(rest, id)
			}
		}
	}
	i, found := slices.BinarySearch(typ, id)
	if found {
		return nil
	}
	out := make([]ID, 0, len(typ)+1)
	out = append(out, typ[:i]...)
	out = append(out, id)
	return append(out, typ[i:]...)
}

// deleteArchetype frees an empty archetype and releases its records.
func (w *World) deleteArchetype(a *archetype) {
	assertf(len(a.entities) == 0, "deleting archetype %d with %d entities", a.id, len(a.entities))
	assertf(a != w.archetypes.root, "deleting the root archetype")
	a.checkUnlocked()

	for from := range a.incoming {
		for id, to := range from.addEdges {
			if to == a {
				delete(from.addEdges, id)
			}
		}
		for id, to := range from.removeEdges {
			if to == a {
				delete(from.removeEdges, id)
			}
		}
	}
	for _, to := range a.addEdges {
		delete(to.incoming, a)
	}
	for _, to := range a.removeEdges {
		delete(to.incoming, a)
	}

	for i := range a.records {
		tr := &a.records[i]
		tr.cr.cache.remove(a)
		w.index.release(tr.cr)
	}
	for i := range a.columns {
		a.columns[i].release(w.alloc)
	}

	reg := w.archetypes
	last := len(reg.asSlice) - 1
	reg.asSlice[a.slot] = reg.asSlice[last]
	reg.asSlice[a.slot].slot = a.slot
	reg.asSlice = reg.asSlice[:last]
	bucket := reg.byHash[a.hash]
	bucket = slices.DeleteFunc(bucket, func(b *archetype) bool { return b == a })
	if len(bucket) == 0 {
		delete(reg.byHash, a.hash)
	} else {
		reg.byHash[a.hash] = bucket
	}
	delete(reg.byID, a.id)
	w.log.Debug("archetype deleted", log.Uint32("archetype", uint32(a.id)))
}

// DeleteEmptyTables frees every unlocked archetype without entities and
// returns how many were deleted.
func (w *World) DeleteEmptyTables() int {
	var empty []*archetype
	for _, a := range w.archetypes.asSlice {
		if a != w.archetypes.root && len(a.entities) == 0 && a.lock == 0 {
			empty = append(empty, a)
		}
	}
	for _, a := range empty {
		w.deleteArchetype(a)
	}
	return len(empty)
}
