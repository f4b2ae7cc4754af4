package loom

import (
	"fmt"
	"strconv"
)

// ID names an entity, a component, or a (relationship, target) pair.
//
// Layout of a plain id: bits 0-31 hold the entity index, bits 32-47 the
// generation. A pair sets PairFlag, stores the relationship index in bits
// 32-55 and the target index in bits 0-31; generations are not kept.
type ID uint64

const (
	// PairFlag marks an id as a pair.
	PairFlag ID = 1 << 63

	idFlagsMask      ID = 0xFF << 56
	idIndexMask      ID = 0xFFFFFFFF
	idGenerationMask ID = 0xFFFF << 32
	pairFirstMask    ID = 0xFFFFFF
	maxPairFirst        = uint32(pairFirstMask)
)

// Pair builds a pair id. The relationship index must fit in 24 bits.
func Pair(first, second ID) ID {
	f := first.Index()
	if f > maxPairFirst {
		panic(invariantError{fmt.Sprintf("relationship %d does not fit a pair", f)})
	}
	return PairFlag | ID(f)<<32 | ID(second.Index())
}

// IsPair reports whether id is a pair.
func (id ID) IsPair() bool {
	return id&PairFlag != 0
}

// First returns the relationship of a pair without generation.
func (id ID) First() ID {
	if !id.IsPair() {
		return 0
	}
	return (id >> 32) & pairFirstMask
}

// Second returns the target of a pair without generation.
func (id ID) Second() ID {
	if !id.IsPair() {
		return 0
	}
	return id & idIndexMask
}

// Index returns the entity index.
func (id ID) Index() uint32 {
	return uint32(id & idIndexMask)
}

// Generation returns the recycling generation of a plain id.
func (id ID) Generation() uint16 {
	if id.IsPair() {
		return 0
	}
	return uint16((id & idGenerationMask) >> 32)
}

// withGeneration returns the plain id with its generation replaced.
func (id ID) withGeneration(gen uint16) ID {
	return ID(id.Index()) | ID(gen)<<32
}

// IsWildcard reports whether id contains a wildcard.
func (id ID) IsWildcard() bool {
	if id == Wildcard {
		return true
	}
	return id.IsPair() && (id.First() == Wildcard || id.Second() == Wildcard)
}

// Matches reports whether id matches pattern, which may contain wildcards.
func (id ID) Matches(pattern ID) bool {
	if id == pattern || pattern == Wildcard {
		return true
	}
	if !pattern.IsPair() || !id.IsPair() {
		return false
	}
	pf, ps := pattern.First(), pattern.Second()
	return (pf == Wildcard || pf == id.First()) && (ps == Wildcard || ps == id.Second())
}

func (id ID) String() string {
	if id == 0 {
		return "0"
	}
	if id.IsPair() {
		return "(" + ID(id.First()).String() + "," + ID(id.Second()).String() + ")"
	}
	if name, ok := builtinNames[ID(id.Index())]; ok && id.Generation() == 0 {
		return name
	}
	s := "#" + strconv.FormatUint(uint64(id.Index()), 10)
	if g := id.Generation(); g != 0 {
		s += "." + strconv.FormatUint(uint64(g), 10)
	}
	return s
}

// Builtin entities. Traits are tags added to relationship or component
// entities before they are first used.
const (
	Wildcard ID = iota + 1
	ChildOf
	IsA
	Name
	Traversable
	Transitive
	Exclusive
	OrderedChildren
	Sparse
	Union
	CanToggle
	DeleteWithTarget
	Prefab
	Disabled
	NotQueryable
	OnAdd
	OnRemove
	OnSet
	lastBuiltin
)

// FirstUserID is the first index handed out by World.New.
const FirstUserID ID = 256

var builtinNames = map[ID]string{
	Wildcard:         "*",
	ChildOf:          "ChildOf",
	IsA:              "IsA",
	Name:             "Name",
	Traversable:      "Traversable",
	Transitive:       "Transitive",
	Exclusive:        "Exclusive",
	OrderedChildren:  "OrderedChildren",
	Sparse:           "Sparse",
	Union:            "Union",
	CanToggle:        "CanToggle",
	DeleteWithTarget: "DeleteWithTarget",
	Prefab:           "Prefab",
	Disabled:         "Disabled",
	NotQueryable:     "NotQueryable",
	OnAdd:            "OnAdd",
	OnRemove:         "OnRemove",
	OnSet:            "OnSet",
}

func isTrait(id ID) bool {
	switch id {
	case Traversable, Transitive, Exclusive, OrderedChildren, Sparse, Union, CanToggle, DeleteWithTarget:
		return true
	}
	return false
}

// Identifier is the value of the Name component.
type Identifier struct {
	Value string
	Hash  uint64
}
