package storage

import "sync"

// RWLock wraps the unlocked store with a reader/writer lock: Get takes the
// shared lock, all mutators take the exclusive lock. Safe only because Get
// does not refresh recency order — a recency-touching read would mutate the
// list under the shared lock.
type RWLock struct {
	mu  sync.RWMutex
	lru *LRU
}

// NewRWLock returns an RWMutex-guarded store bounded to maxSize entries.
func NewRWLock(maxSize int) *RWLock {
	return &RWLock{lru: NewLRU(maxSize)}
}

func (s *RWLock) Put(key string, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Put(key, value)
}

func (s *RWLock) PutIfAbsent(key string, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.PutIfAbsent(key, value)
}

func (s *RWLock) Set(key string, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Set(key, value)
}

func (s *RWLock) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Delete(key)
}

func (s *RWLock) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lru.Get(key)
}

func (s *RWLock) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lru.Len()
}
