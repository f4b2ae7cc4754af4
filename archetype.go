package loom

import (
	"slices"

	"github.com/TheBitDrifter/loom/internal/bitset"
	"github.com/TheBitDrifter/mask"
)

type archetypeID uint32

type archetypeFlags uint32

const (
	archetypePrefab archetypeFlags = 1 << iota
	archetypeDisabled
	archetypeNotQueryable
	archetypeHasChildOf
	archetypeHasIsA
	archetypeHasUnion
	archetypeHasToggle
	archetypeHasName
)

// archetype is a storage group: every entity whose type is exactly typ.
type archetype struct {
	id       archetypeID
	typ      []ID
	hash     uint64
	sig      mask.Mask
	flags    archetypeFlags
	entities []ID
	columns  []column
	// columnOf maps a type index to its column, -1 for tags.
	columnOf []int16
	records  []tableRecord
	toggles  []toggleColumn

	addEdges    map[ID]*archetype
	removeEdges map[ID]*archetype
	incoming    map[*archetype]struct{}

	lock             int32
	traversableCount int32
	slot             int
}

type toggleColumn struct {
	id   ID
	bits *bitset.Bitset
}

func (a *archetype) ID() uint32 {
	return uint32(a.id)
}

func (a *archetype) count() int {
	return len(a.entities)
}

// find returns the type index of id, or -1.
func (a *archetype) find(id ID) int {
	i, ok := slices.BinarySearch(a.typ, id)
	if !ok {
		return -1
	}
	return i
}

func (a *archetype) has(id ID) bool {
	return a.find(id) >= 0
}

// findMatch returns the first type index at or after start matching pattern.
func (a *archetype) findMatch(pattern ID, start int) int {
	for i := start; i < len(a.typ); i++ {
		if a.typ[i].Matches(pattern) {
			return i
		}
	}
	return -1
}

func (a *archetype) column(typeIndex int) *column {
	c := a.columnOf[typeIndex]
	if c < 0 {
		return nil
	}
	return &a.columns[c]
}

func (a *archetype) toggle(id ID) *bitset.Bitset {
	for i := range a.toggles {
		if a.toggles[i].id == id {
			return a.toggles[i].bits
		}
	}
	return nil
}

func (a *archetype) hidden(flags QueryFlags) bool {
	if a.flags&archetypeNotQueryable != 0 {
		return true
	}
	if a.flags&archetypePrefab != 0 && flags&MatchPrefab == 0 {
		return true
	}
	if a.flags&archetypeDisabled != 0 && flags&MatchDisabled == 0 {
		return true
	}
	return false
}

func (a *archetype) checkUnlocked() {
	if a.lock > 0 {
		panic(LockedStorageError{Archetype: uint32(a.id)})
	}
}

// appendRow adds e with constructed values and returns its row.
func (w *World) appendRow(a *archetype, e ID) int {
	row := len(a.entities)
	a.entities = append(a.entities, e)
	for i := range a.columns {
		a.columns[i].push(w.alloc)
	}
	for i := range a.toggles {
		a.toggles[i].bits.Append(true)
	}
	return row
}

// removeRow swaps the last row into row. Values at row are destructed when
// destruct is set, otherwise they must already have been moved out.
func (w *World) removeRow(a *archetype, row int, destruct bool) {
	last := len(a.entities) - 1
	for i := range a.columns {
		a.columns[i].removeSwap(row, destruct)
	}
	for i := range a.toggles {
		a.toggles[i].bits.Remove(row)
	}
	if row != last {
		moved := a.entities[last]
		a.entities[row] = moved
		r := w.entities.get(moved)
		assertf(r != nil, "entity %s in archetype %d is not alive", moved, a.id)
		r.row = int32(row)
	}
	a.entities = a.entities[:last]
}

// moveRow copies the shared values of src row into a new row of dst and
// frees the src row. Values only in src are destructed.
func (w *World) moveRow(src *archetype, srcRow int, dst *archetype, e ID) int {
	dstRow := w.appendRow(dst, e)
	i, j := 0, 0
	for i < len(src.typ) && j < len(dst.typ) {
		switch {
		case src.typ[i] == dst.typ[j]:
			sc, dc := src.column(i), dst.column(j)
			if sc != nil && dc != nil {
				dc.ti.destruct(dc.ptr(dstRow), 1)
				sc.ti.move(dc.ptr(dstRow), sc.ptr(srcRow), 1)
			}
			i++
			j++
		case src.typ[i] < dst.typ[j]:
			if sc := src.column(i); sc != nil {
				sc.ti.destruct(sc.ptr(srcRow), 1)
			}
			i++
		default:
			j++
		}
	}
	for ; i < len(src.typ); i++ {
		if sc := src.column(i); sc != nil {
			sc.ti.destruct(sc.ptr(srcRow), 1)
		}
	}
	for k := range dst.toggles {
		if bits := src.toggle(dst.toggles[k].id); bits != nil {
			dst.toggles[k].bits.Set(dstRow, bits.Get(srcRow))
		}
	}
	w.removeRow(src, srcRow, false)
	return dstRow
}
