// Package bitset implements a growable vector of booleans with page aligned
// growth. It backs the toggle columns of archetypes.
package bitset

import (
	"fmt"

	bits "github.com/bits-and-blooms/bitset"
)

// PageBits is the growth granularity in bits.
const PageBits = 512

// Bitset is a vector of Count() booleans. Bits at or past Count() are always
// zero in the backing storage.
type Bitset struct {
	words *bits.BitSet
	count uint
	size  uint
}

// New creates an empty bitset.
func New() *Bitset {
	return &Bitset{words: bits.New(0)}
}

// Count returns the number of elements.
func (b *Bitset) Count() int {
	return int(b.count)
}

// Capacity returns the number of bits available before the next page is
// added.
func (b *Bitset) Capacity() int {
	return int(b.size)
}

// Ensure grows the bitset to at least count elements. New elements are
// false.
func (b *Bitset) Ensure(count int) {
	if count < 0 {
		panic(fmt.Sprintf("bitset: negative count %d", count))
	}
	c := uint(count)
	if c <= b.count {
		return
	}
	if c > b.size {
		size := (c + PageBits - 1) / PageBits * PageBits
		// Setting and clearing the last bit extends the backing words with
		// zeros up to size.
		b.words.Set(size - 1).Clear(size - 1)
		b.size = size
	}
	b.count = c
}

// Append adds one element holding value.
func (b *Bitset) Append(value bool) {
	b.Ensure(b.Count() + 1)
	b.Set(b.Count()-1, value)
}

// Get returns the element at index.
func (b *Bitset) Get(index int) bool {
	b.check(index)
	return b.words.Test(uint(index))
}

// Set writes the element at index.
func (b *Bitset) Set(index int, value bool) {
	b.check(index)
	b.words.SetTo(uint(index), value)
}

// Toggle flips the element at index.
func (b *Bitset) Toggle(index int) {
	b.check(index)
	b.words.Flip(uint(index))
}

// Remove moves the last element into index and shrinks by one. Order is not
// preserved.
func (b *Bitset) Remove(index int) {
	b.check(index)
	last := b.count - 1
	b.words.SetTo(uint(index), b.words.Test(last))
	b.words.Clear(last)
	b.count = last
}

// SetRange writes value to every element in [start, stop).
func (b *Bitset) SetRange(start, stop int, value bool) {
	if start > stop {
		panic(fmt.Sprintf("bitset: invalid range [%d, %d)", start, stop))
	}
	if start == stop {
		return
	}
	b.check(start)
	b.check(stop - 1)
	for i := uint(start); i < uint(stop); i++ {
		b.words.SetTo(i, value)
	}
}

// NextSet returns the first set element at or after index.
func (b *Bitset) NextSet(index int) (int, bool) {
	if index >= int(b.count) {
		return 0, false
	}
	i, ok := b.words.NextSet(uint(index))
	if !ok || i >= b.count {
		return 0, false
	}
	return int(i), true
}

// NextClear returns the first cleared element at or after index, or Count()
// when every remaining element is set.
func (b *Bitset) NextClear(index int) int {
	for i := index; i < int(b.count); i++ {
		if !b.words.Test(uint(i)) {
			return i
		}
	}
	return int(b.count)
}

// Clear drops every element.
func (b *Bitset) Clear() {
	b.words.ClearAll()
	b.count = 0
}

func (b *Bitset) check(index int) {
	if index < 0 || uint(index) >= b.count {
		panic(fmt.Sprintf("bitset: index %d out of range [0, %d)", index, b.count))
	}
}
