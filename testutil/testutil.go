package testutil

import (
	"bytes"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/segtree/internal/block"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// IDs returns n ids drawn uniformly from [0, maxID). Duplicates are likely
// when n approaches maxID.
func (r *RNG) IDs(n int, maxID uint64) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, n)
	for i := range out {
		out[i] = r.rand.Uint64() % maxID
	}
	return out
}

// Perm returns the ids [0, n) in random order.
func (r *RNG) Perm(n int) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, n)
	for i, v := range r.rand.Perm(n) {
		out[i] = uint64(v)
	}
	return out
}

// Payload returns n random bytes.
func (r *RNG) Payload(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := make([]byte, n)
	r.rand.Read(p)
	return p
}

// Model is an in-memory multimap with the ordering rules of a segment tree:
// ascending ids, insertion order among equal ids.
type Model struct {
	entries []block.Entry
}

// NewModel returns an empty model.
func NewModel() *Model { return &Model{} }

// Append inserts after every entry with an id <= id.
func (m *Model) Append(id uint64, payload []byte) {
	i, _ := slices.BinarySearchFunc(m.entries, id+1, func(e block.Entry, t uint64) int {
		switch {
		case e.ID < t:
			return -1
		case e.ID > t:
			return 1
		}
		return 0
	})
	if id == ^uint64(0) {
		i = len(m.entries)
	}
	m.entries = slices.Insert(m.entries, i, block.Entry{ID: id, Payload: bytes.Clone(payload)})
}

// Remove deletes the first entry equal to (id, payload).
func (m *Model) Remove(id uint64, payload []byte) bool {
	for i, e := range m.entries {
		if e.ID == id && bytes.Equal(e.Payload, payload) {
			m.entries = slices.Delete(m.entries, i, i+1)
			return true
		}
	}
	return false
}

// RemoveID deletes every entry with id.
func (m *Model) RemoveID(id uint64) int {
	before := len(m.entries)
	m.entries = slices.DeleteFunc(m.entries, func(e block.Entry) bool { return e.ID == id })
	return before - len(m.entries)
}

// ItemCount returns how many entries have id.
func (m *Model) ItemCount(id uint64) int {
	n := 0
	for _, e := range m.entries {
		if e.ID == id {
			n++
		}
	}
	return n
}

// Count returns the number of entries.
func (m *Model) Count() int { return len(m.entries) }

// UniqueIDs returns the number of distinct ids.
func (m *Model) UniqueIDs() int {
	n := 0
	for i, e := range m.entries {
		if i == 0 || m.entries[i-1].ID != e.ID {
			n++
		}
	}
	return n
}

// Entries returns the entries in tree order.
func (m *Model) Entries() []block.Entry { return slices.Clone(m.entries) }
