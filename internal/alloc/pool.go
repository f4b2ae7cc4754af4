package alloc

import "sync"

// Pool hands out blocks of a single size class.
type Pool struct {
	mu          sync.Mutex
	size        int
	perChunk    int
	system      bool
	chunks      [][]byte
	free        [][]byte
	outstanding int64
	allocs      int64
	frees       int64
}

func newPool(size int, system bool) *Pool {
	perChunk := chunkBytes / size
	if perChunk < 1 {
		perChunk = 1
	}
	return &Pool{
		size:     size,
		perChunk: perChunk,
		system:   system,
	}
}

// Size returns the block size of the pool.
func (p *Pool) Size() int {
	return p.size
}

// Alloc returns a zeroed block of Size bytes.
func (p *Pool) Alloc() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocs++
	p.outstanding++

	if p.system {
		return make([]byte, p.size)
	}
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		clear(b)
		return b
	}
	p.grow()
	n := len(p.free)
	b := p.free[n-1]
	p.free = p.free[:n-1]
	return b
}

// Free returns a block to the pool.
func (p *Pool) Free(b []byte) {
	if len(b) != p.size {
		panic("alloc: block freed to the wrong pool")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frees++
	p.outstanding--
	if p.outstanding < 0 {
		panic("alloc: double free")
	}
	if p.system {
		return
	}
	p.free = append(p.free, b)
}

// Dup allocates a new block holding a copy of b.
func (p *Pool) Dup(b []byte) []byte {
	nb := p.Alloc()
	copy(nb, b)
	return nb
}

// grow carves a fresh chunk into free blocks. Callers hold p.mu.
func (p *Pool) grow() {
	chunk := make([]byte, p.size*p.perChunk)
	p.chunks = append(p.chunks, chunk)
	for i := p.perChunk - 1; i >= 0; i-- {
		start := i * p.size
		end := start + p.size
		p.free = append(p.free, chunk[start:end:end])
	}
}

func (p *Pool) stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:        p.size,
		Outstanding: p.outstanding,
		Allocs:      p.allocs,
		Frees:       p.frees,
		Chunks:      len(p.chunks),
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = nil
	p.free = nil
}
