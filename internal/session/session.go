// Package session keeps short-lived per-user conversation state, such as a
// /remind waiting for its message text.
package session

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultTTL = 5 * time.Minute
	DefaultMax = 1024
)

type entry[T any] struct {
	val     T
	expires time.Time
}

// Store is a bounded TTL map. Expired entries are dropped on access and by
// Sweep; when full, the entries closest to expiry are evicted.
type Store[T any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	items map[string]entry[T]
	now   func() time.Time
}

func New[T any](ttl time.Duration, max int) *Store[T] {
	s := &Store[T]{items: map[string]entry[T]{}, now: time.Now}
	s.Apply(ttl, max)
	return s
}

// Key builds the store key for a chat member.
func Key(chat, sender string) string { return chat + "|" + sender }

// Apply updates limits; existing entries keep their expiry.
func (s *Store[T]) Apply(ttl time.Duration, max int) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if max <= 0 {
		max = DefaultMax
	}
	s.mu.Lock()
	s.ttl = ttl
	s.max = max
	s.pruneLocked(s.now())
	s.mu.Unlock()
}

func (s *Store[T]) Put(key string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.items[key] = entry[T]{val: v, expires: now.Add(s.ttl)}
	s.pruneLocked(now)
}

func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key, false)
}

// Take returns and removes the entry.
func (s *Store[T]) Take(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key, true)
}

func (s *Store[T]) getLocked(key string, remove bool) (T, bool) {
	var zero T
	e, ok := s.items[key]
	if !ok {
		return zero, false
	}
	if s.now().After(e.expires) {
		delete(s.items, key)
		return zero, false
	}
	if remove {
		delete(s.items, key)
	}
	return e.val, true
}

// Delete removes key and reports whether a live entry was there.
func (s *Store[T]) Delete(key string) bool {
	_, ok := s.Take(key)
	return ok
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store[T]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.items)
	s.pruneLocked(s.now())
	return before - len(s.items)
}

func (s *Store[T]) pruneLocked(now time.Time) {
	for k, e := range s.items {
		if now.After(e.expires) {
			delete(s.items, k)
		}
	}
	if len(s.items) <= s.max {
		return
	}
	type kv struct {
		k string
		e time.Time
	}
	items := make([]kv, 0, len(s.items))
	for k, e := range s.items {
		items = append(items, kv{k: k, e: e.expires})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].e.Before(items[j].e) })
	for _, it := range items[:len(items)-s.max] {
		delete(s.items, it.k)
	}
}
