// Package registry provides exclusive ownership of names. At most one owner
// holds a name at a time; claiming a held name fails.
package registry

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// Registry maps names to their current owner.
type Registry[T comparable] struct {
	shards [shardCount]shard[T]
}

type shard[T comparable] struct {
	mu     sync.RWMutex
	owners map[string]T
}

func New[T comparable]() *Registry[T] {
	r := &Registry[T]{}
	for i := range r.shards {
		r.shards[i].owners = make(map[string]T)
	}
	return r
}

func (r *Registry[T]) shard(name string) *shard[T] {
	return &r.shards[xxhash.Sum64String(name)%shardCount]
}

// Claim makes owner the holder of name if nobody holds it. It reports
// whether the claim succeeded.
func (r *Registry[T]) Claim(name string, owner T) bool {
	s := r.shard(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.owners[name]; held {
		return false
	}
	s.owners[name] = owner
	return true
}

// Release frees name if owner holds it.
func (r *Registry[T]) Release(name string, owner T) bool {
	s := r.shard(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, held := s.owners[name]; !held || current != owner {
		return false
	}
	delete(s.owners, name)
	return true
}

// Lookup returns the holder of name.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	s := r.shard(name)
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[name]
	return owner, ok
}

// Names returns the held names in sorted order.
func (r *Registry[T]) Names() []string {
	var names []string
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for name := range s.owners {
			names = append(names, name)
		}
		s.mu.RUnlock()
	}
	slices.Sort(names)
	return names
}
