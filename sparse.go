package loom

import (
	"unsafe"

	"github.com/TheBitDrifter/loom/internal/alloc"
)

const sparsePageBits = 12

// sparseSet stores a component outside of archetypes, keyed by entity
// index. dense[i] owns the value in data at row i.
type sparseSet struct {
	ti    *TypeInfo
	pages []*[1 << sparsePageBits]int32
	dense []ID
	data  column
}

func newSparseSet(ti *TypeInfo) *sparseSet {
	return &sparseSet{ti: ti}
}

func (s *sparseSet) slot(index uint32, create bool) *int32 {
	p := int(index >> sparsePageBits)
	if p >= len(s.pages) {
		if !create {
			return nil
		}
		grown := make([]*[1 << sparsePageBits]int32, p+1)
		copy(grown, s.pages)
		s.pages = grown
	}
	if s.pages[p] == nil {
		if !create {
			return nil
		}
		s.pages[p] = new([1 << sparsePageBits]int32)
	}
	return &s.pages[p][index&(1<<sparsePageBits-1)]
}

func (s *sparseSet) hasData() bool {
	return s.ti != nil && s.ti.Size > 0
}

// row returns the dense row of e, or -1.
func (s *sparseSet) row(e ID) int {
	p := s.slot(e.Index(), false)
	if p == nil || *p == 0 {
		return -1
	}
	row := int(*p - 1)
	if s.dense[row] != e {
		return -1
	}
	return row
}

func (s *sparseSet) has(e ID) bool {
	return s.row(e) >= 0
}

func (s *sparseSet) get(e ID) unsafe.Pointer {
	row := s.row(e)
	if row < 0 || !s.hasData() {
		return nil
	}
	return s.data.ptr(row)
}

// ensure adds e when missing and reports whether it was added.
func (s *sparseSet) ensure(a *alloc.Allocator, e ID) (unsafe.Pointer, bool) {
	if row := s.row(e); row >= 0 {
		if !s.hasData() {
			return nil, false
		}
		return s.data.ptr(row), false
	}
	s.dense = append(s.dense, e)
	*s.slot(e.Index(), true) = int32(len(s.dense))
	if !s.hasData() {
		return nil, true
	}
	if s.data.ti == nil {
		s.data.ti = s.ti
	}
	row := s.data.push(a)
	return s.data.ptr(row), true
}

func (s *sparseSet) remove(e ID) bool {
	row := s.row(e)
	if row < 0 {
		return false
	}
	last := len(s.dense) - 1
	if s.hasData() {
		s.data.removeSwap(row, true)
	}
	if row != last {
		moved := s.dense[last]
		s.dense[row] = moved
		*s.slot(moved.Index(), false) = int32(row + 1)
	}
	s.dense = s.dense[:last]
	*s.slot(e.Index(), false) = 0
	return true
}

func (s *sparseSet) count() int {
	return len(s.dense)
}

func (s *sparseSet) fini(a *alloc.Allocator) {
	if s.data.ti != nil {
		s.data.release(a)
	}
	s.dense = nil
	s.pages = nil
}
