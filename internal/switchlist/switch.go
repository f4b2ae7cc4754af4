// Package switchlist keeps a current value per element together with an O(1)
// walkable list of the elements holding each value. It stores the targets of
// union relationships.
package switchlist

import "iter"

// None is the value of elements that are not in any list.
const None uint64 = 0

const (
	pageBits = 12
	pageSize = 1 << pageBits
	pageMask = pageSize - 1
)

// node links are element+1 so that the zero value means "no link".
type node struct {
	value uint64
	next  uint32
	prev  uint32
}

type page struct {
	nodes [pageSize]node
}

// Switch maps elements to values.
type Switch struct {
	pages  []*page
	heads  map[uint64]uint32
	counts map[uint64]int
}

// New creates an empty switch.
func New() *Switch {
	return &Switch{
		heads:  make(map[uint64]uint32),
		counts: make(map[uint64]int),
	}
}

func (s *Switch) node(elem uint32, create bool) *node {
	p := int(elem >> pageBits)
	if p >= len(s.pages) {
		if !create {
			return nil
		}
		grown := make([]*page, p+1)
		copy(grown, s.pages)
		s.pages = grown
	}
	if s.pages[p] == nil {
		if !create {
			return nil
		}
		s.pages[p] = new(page)
	}
	return &s.pages[p].nodes[elem&pageMask]
}

// Set moves elem into the list for value. It reports whether the value
// changed.
func (s *Switch) Set(elem uint32, value uint64) bool {
	n := s.node(elem, value != None)
	if n == nil || n.value == value {
		return false
	}
	if n.value != None {
		s.unlink(elem, n)
	}
	n.value = value
	if value != None {
		s.link(elem, n)
	}
	return true
}

// Remove clears the value of elem.
func (s *Switch) Remove(elem uint32) bool {
	return s.Set(elem, None)
}

// Get returns the value of elem, or None.
func (s *Switch) Get(elem uint32) uint64 {
	n := s.node(elem, false)
	if n == nil {
		return None
	}
	return n.value
}

// First returns the head of the list for value.
func (s *Switch) First(value uint64) (uint32, bool) {
	h, ok := s.heads[value]
	if !ok || value == None {
		return 0, false
	}
	return h - 1, true
}

// Next returns the element after prev in prev's list.
func (s *Switch) Next(prev uint32) (uint32, bool) {
	n := s.node(prev, false)
	if n == nil || n.value == None || n.next == 0 {
		return 0, false
	}
	return n.next - 1, true
}

// Count returns the number of elements holding value.
func (s *Switch) Count(value uint64) int {
	return s.counts[value]
}

// Elements iterates the list for value. The list must not be modified
// during iteration.
func (s *Switch) Elements(value uint64) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		e, ok := s.First(value)
		for ok {
			if !yield(e) {
				return
			}
			e, ok = s.Next(e)
		}
	}
}

// Values iterates every value with a non-empty list.
func (s *Switch) Values() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		for v := range s.heads {
			if !yield(v) {
				return
			}
		}
	}
}

func (s *Switch) link(elem uint32, n *node) {
	head := s.heads[n.value]
	n.prev = 0
	n.next = head
	if head != 0 {
		s.node(head-1, false).prev = elem + 1
	}
	s.heads[n.value] = elem + 1
	s.counts[n.value]++
}

func (s *Switch) unlink(elem uint32, n *node) {
	if n.prev != 0 {
		s.node(n.prev-1, false).next = n.next
	} else {
		if n.next != 0 {
			s.heads[n.value] = n.next
		} else {
			delete(s.heads, n.value)
		}
	}
	if n.next != 0 {
		s.node(n.next-1, false).prev = n.prev
	}
	if c := s.counts[n.value] - 1; c > 0 {
		s.counts[n.value] = c
	} else {
		delete(s.counts, n.value)
	}
	n.next, n.prev = 0, 0
}
