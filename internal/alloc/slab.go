package alloc

// slabPageBits sets the number of records per slab page.
const slabPageBits = 6

const (
	slabPageSize = 1 << slabPageBits
	slabPageMask = slabPageSize - 1
)

// Slab stores fixed-size records of type T in pages and addresses them by a
// stable int32 handle. Pointers returned by Get stay valid until the handle
// is freed. Handle 0 is never issued so that it can be used as "none".
type Slab[T any] struct {
	pages  []*[slabPageSize]T
	single []*T
	free   []int32
	next   int32
	live   int
	system bool
}

// NewSlab creates a slab. In system mode every record is an individual Go
// allocation.
func NewSlab[T any](a *Allocator) *Slab[T] {
	s := &Slab[T]{next: 1}
	if a != nil {
		s.system = a.system
	}
	return s
}

// New allocates a zeroed record and returns its handle.
func (s *Slab[T]) New() (int32, *T) {
	s.live++
	if n := len(s.free); n > 0 {
		h := s.free[n-1]
		s.free = s.free[:n-1]
		p := s.ptr(h)
		var zero T
		*p = zero
		return h, p
	}
	h := s.next
	s.next++
	if s.system {
		for int(h) >= len(s.single) {
			s.single = append(s.single, nil)
		}
		s.single[h] = new(T)
		return h, s.single[h]
	}
	page := int(h >> slabPageBits)
	for page >= len(s.pages) {
		s.pages = append(s.pages, new([slabPageSize]T))
	}
	return h, &s.pages[page][h&slabPageMask]
}

// Get returns the record for h.
func (s *Slab[T]) Get(h int32) *T {
	if h <= 0 || h >= s.next {
		panic("alloc: invalid slab handle")
	}
	return s.ptr(h)
}

// Free releases h for reuse.
func (s *Slab[T]) Free(h int32) {
	if h <= 0 || h >= s.next {
		panic("alloc: invalid slab handle")
	}
	var zero T
	*s.ptr(h) = zero
	if s.system {
		s.single[h] = new(T)
	}
	s.free = append(s.free, h)
	s.live--
}

// Len reports the number of live records.
func (s *Slab[T]) Len() int {
	return s.live
}

func (s *Slab[T]) ptr(h int32) *T {
	if s.system {
		return s.single[h]
	}
	return &s.pages[h>>slabPageBits][h&slabPageMask]
}
