// Package keylock provides striped mutexes keyed by string identity.
//
// Keys hash onto a fixed set of stripes, so disjoint keys rarely contend and
// there is never a lock covering every key.
package keylock

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 256

// Striped is a fixed array of mutexes addressed by key hash.
type Striped struct {
	stripes []sync.Mutex
}

// New returns a Striped with n stripes (a default when n < 1).
func New(n int) *Striped {
	if n < 1 {
		n = defaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Stripe returns the stripe index for key.
func (s *Striped) Stripe(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(s.stripes)))
}

// Len returns the number of stripes.
func (s *Striped) Len() int { return len(s.stripes) }

// Lock locks the stripe owning key and returns its unlock func.
func (s *Striped) Lock(key string) func() {
	m := &s.stripes[s.Stripe(key)]
	m.Lock()
	return m.Unlock
}

// LockMany locks the stripes of all keys in ascending stripe order, so two
// callers with overlapping key sets cannot deadlock. The returned func unlocks them.
func (s *Striped) LockMany(keys ...string) func() {
	return s.LockStripes(s.Stripes(keys...))
}

// Stripes maps keys to their distinct stripe indices in ascending order.
func (s *Striped) Stripes(keys ...string) []int {
	seen := make(map[int]struct{}, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := s.Stripe(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// LockStripes locks the given ascending, distinct stripe indices.
func (s *Striped) LockStripes(idx []int) func() {
	for _, i := range idx {
		s.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.stripes[idx[j]].Unlock()
		}
	}
}
