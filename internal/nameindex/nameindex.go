// Package nameindex maps names to entity ids. One index exists per scope,
// for example per parent of a named-child relationship.
package nameindex

import (
	"errors"
	"fmt"
	"iter"

	"github.com/cespare/xxhash/v2"
)

// ErrDuplicateName is returned when a name is already owned by another id.
var ErrDuplicateName = errors.New("nameindex: duplicate name")

// Key identifies a name by length, hash and bytes.
type Key struct {
	Hash  uint64
	Len   int
	Value string
}

// NewKey hashes name.
func NewKey(name string) Key {
	return Key{
		Hash:  xxhash.Sum64String(name),
		Len:   len(name),
		Value: name,
	}
}

type entry struct {
	id   uint64
	name string
}

// Index is a hashed name to id map.
type Index struct {
	buckets map[uint64][]entry
	count   int
	debug   bool
}

// New creates an index. In debug mode every key is validated against its
// string.
func New(debug bool) *Index {
	return &Index{
		buckets: make(map[uint64][]entry),
		debug:   debug,
	}
}

// Count returns the number of names.
func (x *Index) Count() int {
	return x.count
}

func (x *Index) validate(key Key) {
	if !x.debug {
		return
	}
	if key.Len != len(key.Value) || key.Hash != xxhash.Sum64String(key.Value) {
		panic(fmt.Sprintf("nameindex: key for %q has mismatched hash or length", key.Value))
	}
}

func (x *Index) find(key Key) (bucket []entry, pos int) {
	bucket = x.buckets[key.Hash]
	for i, e := range bucket {
		if len(e.name) == key.Len && e.name == key.Value {
			return bucket, i
		}
	}
	return bucket, -1
}

// Ensure registers id under key. Registering the same pair twice is a no-op;
// registering a name owned by a different id fails.
func (x *Index) Ensure(id uint64, key Key) error {
	x.validate(key)
	bucket, pos := x.find(key)
	if pos >= 0 {
		if bucket[pos].id == id {
			return nil
		}
		return fmt.Errorf("%w: %q owned by %d, requested by %d", ErrDuplicateName, key.Value, bucket[pos].id, id)
	}
	x.buckets[key.Hash] = append(bucket, entry{id: id, name: key.Value})
	x.count++
	return nil
}

// Find returns the id registered under key.
func (x *Index) Find(key Key) (uint64, bool) {
	x.validate(key)
	bucket, pos := x.find(key)
	if pos < 0 {
		return 0, false
	}
	return bucket[pos].id, true
}

// FindString hashes name and looks it up.
func (x *Index) FindString(name string) (uint64, bool) {
	return x.Find(NewKey(name))
}

// Remove drops key if it is owned by id.
func (x *Index) Remove(id uint64, key Key) bool {
	x.validate(key)
	bucket, pos := x.find(key)
	if pos < 0 || bucket[pos].id != id {
		return false
	}
	last := len(bucket) - 1
	bucket[pos] = bucket[last]
	bucket = bucket[:last]
	if len(bucket) == 0 {
		delete(x.buckets, key.Hash)
	} else {
		x.buckets[key.Hash] = bucket
	}
	x.count--
	return true
}

// UpdateName re-points the stored name of id without changing its identity.
// key must hash to the same value as the registered name.
func (x *Index) UpdateName(id uint64, key Key) bool {
	x.validate(key)
	bucket := x.buckets[key.Hash]
	for i := range bucket {
		if bucket[i].id == id && len(bucket[i].name) == key.Len {
			bucket[i].name = key.Value
			return true
		}
	}
	return false
}

// All iterates every (name, id) pair in unspecified order.
func (x *Index) All() iter.Seq2[string, uint64] {
	return func(yield func(string, uint64) bool) {
		for _, bucket := range x.buckets {
			for _, e := range bucket {
				if !yield(e.name, e.id) {
					return
				}
			}
		}
	}
}
