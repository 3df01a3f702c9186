package storage

import "sync"

// GlobalLock wraps the unlocked store with a single mutex: every public
// call holds it for the duration of the underlying operation.
type GlobalLock struct {
	mu  sync.Mutex
	lru *LRU
}

// NewGlobalLock returns a mutex-guarded store bounded to maxSize entries.
func NewGlobalLock(maxSize int) *GlobalLock {
	return &GlobalLock{lru: NewLRU(maxSize)}
}

func (s *GlobalLock) Put(key string, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Put(key, value)
}

func (s *GlobalLock) PutIfAbsent(key string, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.PutIfAbsent(key, value)
}

func (s *GlobalLock) Set(key string, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Set(key, value)
}

func (s *GlobalLock) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Delete(key)
}

func (s *GlobalLock) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Get(key)
}

func (s *GlobalLock) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
