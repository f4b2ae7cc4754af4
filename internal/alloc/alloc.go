// Package alloc provides the block allocator used by the storage and index
// layers: byte pools per size class and typed slabs for fixed-size records.
//
// A pool hands out fixed-size blocks carved from larger chunks and recycles
// freed blocks through a free list. When the allocator is created in system
// mode every call goes straight to the Go allocator; call sites behave the
// same either way.
//
// Blocks are plain byte slices and are invisible to the garbage collector as
// pointer storage. Never store Go pointers in a block.
package alloc

import (
	"fmt"
	"sort"
	"sync"
)

const (
	// Alignment is the granularity every requested size is rounded up to.
	Alignment = 16

	// MaxBlockSize is the largest size class served from a pool. Larger
	// requests bypass pooling.
	MaxBlockSize = 64 * 1024

	// chunkBytes is the target size of a single chunk backing a pool.
	chunkBytes = 16 * 1024
)

// Allocator owns one pool per size class.
type Allocator struct {
	mu     sync.Mutex
	pools  map[int]*Pool
	system bool
	debug  bool
	closed bool
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithSystemAllocator bypasses pooling. Pools still exist so that handles
// and accounting stay identical.
func WithSystemAllocator(enabled bool) Option {
	return func(a *Allocator) {
		a.system = enabled
	}
}

// WithDebug enables leak accounting checks on Fini.
func WithDebug(enabled bool) Option {
	return func(a *Allocator) {
		a.debug = enabled
	}
}

// New creates an allocator.
func New(opts ...Option) *Allocator {
	a := &Allocator{
		pools: make(map[int]*Pool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RoundSize rounds size up to Alignment.
func RoundSize(size int) int {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// System reports whether pooling is bypassed.
func (a *Allocator) System() bool {
	return a.system
}

// ForSize returns the pool for the size class of size, creating it on first
// use.
func (a *Allocator) ForSize(size int) *Pool {
	if size <= 0 {
		panic(fmt.Sprintf("alloc: invalid block size %d", size))
	}
	rounded := RoundSize(size)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		panic("alloc: allocator used after Fini")
	}
	if p, ok := a.pools[rounded]; ok {
		return p
	}
	p := newPool(rounded, a.system || rounded > MaxBlockSize)
	a.pools[rounded] = p
	return p
}

// Alloc returns a zeroed block of at least size bytes, sliced to size.
func (a *Allocator) Alloc(size int) []byte {
	if size == 0 {
		return nil
	}
	return a.ForSize(size).Alloc()[:size]
}

// Free returns a block obtained from Alloc. The length of b may have been
// shortened by the caller; the capacity identifies the size class.
func (a *Allocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	a.ForSize(cap(b)).Free(b[:cap(b)])
}

// Realloc grows or shrinks b to size, preserving the common prefix.
func (a *Allocator) Realloc(b []byte, size int) []byte {
	if size == 0 {
		a.Free(b)
		return nil
	}
	if cap(b) > 0 && RoundSize(size) == cap(b) {
		return b[:size]
	}
	nb := a.Alloc(size)
	copy(nb, b)
	a.Free(b)
	return nb
}

// Stats reports per size class accounting.
type Stats struct {
	Size        int
	Outstanding int64
	Allocs      int64
	Frees       int64
	Chunks      int
}

// Stats returns a snapshot for every pool ordered by size class.
func (a *Allocator) Stats() []Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Stats, 0, len(a.pools))
	for _, p := range a.pools {
		out = append(out, p.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Size < out[j].Size })
	return out
}

// LeakError reports pools with live blocks at shutdown.
type LeakError struct {
	Leaks []Stats
}

func (e LeakError) Error() string {
	total := int64(0)
	for _, l := range e.Leaks {
		total += l.Outstanding
	}
	return fmt.Sprintf("alloc: %d blocks still live in %d pools", total, len(e.Leaks))
}

// Fini tears the allocator down. It must be called exactly once. In debug
// mode it reports every pool that still has live blocks.
func (a *Allocator) Fini() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		panic("alloc: Fini called twice")
	}
	a.closed = true

	var leaks []Stats
	if a.debug {
		for _, p := range a.pools {
			if s := p.stats(); s.Outstanding != 0 {
				leaks = append(leaks, s)
			}
		}
	}
	for _, p := range a.pools {
		p.release()
	}
	a.pools = nil
	if len(leaks) > 0 {
		sort.Slice(leaks, func(i, j int) bool { return leaks[i].Size < leaks[j].Size })
		return LeakError{Leaks: leaks}
	}
	return nil
}
