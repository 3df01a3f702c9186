package storage

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Striped shards the store into N independently locked buckets routed by
// key hash, with a shared atomic element count enforcing the global
// capacity.
//
// The count follows a reserve → insert → reconcile discipline: an insert of
// an absent key first claims a slot with a compare-and-swap against the
// global bound, then performs the bucket insert under that bucket's lock,
// then re-adjusts the count by whatever the bucket actually did (a local
// eviction during the insert releases slots). Overwriting a present key
// claims no slot. Under saturation the oldest entry of
// the target bucket is evicted to make room; if the target bucket is empty
// the insert fails.
//
// Operations on keys in distinct stripes are linearisable independently;
// there is no cross-stripe atomicity. Outside critical sections the count
// is eventually consistent with the sum of bucket sizes.
type Striped struct {
	maxSize int64
	count   atomic.Int64
	shards  []shard
}

type shard struct {
	mu  sync.Mutex
	lru *LRU
}

// NewStriped returns a sharded store bounded to maxSize entries in total.
// stripes <= 0 selects the number of usable CPUs.
func NewStriped(maxSize, stripes int) *Striped {
	if maxSize < 1 {
		maxSize = 1
	}
	if stripes <= 0 {
		stripes = runtime.NumCPU()
	}
	s := &Striped{
		maxSize: int64(maxSize),
		shards:  make([]shard, stripes),
	}
	for i := range s.shards {
		// Per-bucket capacity is the global bound; the global count is
		// what actually limits growth.
		s.shards[i].lru = NewLRU(maxSize)
	}
	return s
}

func (s *Striped) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Put inserts or overwrites key. Under saturation with an empty target
// bucket the insert fails and Put reports false with no prior entry.
func (s *Striped) Put(key string, value []byte) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.lru.Contains(key) {
		return sh.lru.Put(key, value) // overwrite: no count change
	}
	if !s.reserve(sh) {
		return false
	}
	s.insertReserved(sh, func() { sh.lru.Put(key, value) })
	return false
}

// PutIfAbsent inserts key only if absent. Reports whether it inserted.
func (s *Striped) PutIfAbsent(key string, value []byte) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.lru.Contains(key) {
		return false
	}
	if !s.reserve(sh) {
		return false
	}
	s.insertReserved(sh, func() { sh.lru.PutIfAbsent(key, value) })
	return true
}

// Set overwrites key only if present. Never changes the element count.
func (s *Striped) Set(key string, value []byte) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.lru.Set(key, value)
}

// Delete removes key and releases its slot in the global count.
func (s *Striped) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.lru.Delete(key) {
		return false
	}
	s.count.Add(-1)
	return true
}

// Get returns the value for key without touching recency order.
func (s *Striped) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.lru.Get(key)
}

// Len returns the global element count.
func (s *Striped) Len() int { return int(s.count.Load()) }

// reserve claims one slot in the global count for an insert into sh, whose
// lock the caller holds. Under saturation it evicts the oldest entry of sh
// first; reports false iff sh is empty and no slot can be made.
func (s *Striped) reserve(sh *shard) bool {
	for {
		c := s.count.Load()
		if c >= s.maxSize {
			if !sh.lru.EvictOldest() {
				return false
			}
			s.count.Add(-1)
			continue
		}
		if s.count.CompareAndSwap(c, c+1) {
			return true
		}
	}
}

// insertReserved runs the bucket insert and reconciles the claimed slot
// against what the bucket actually did: a local eviction during the insert
// releases slots so the global count never overstates Σ bucket sizes.
func (s *Striped) insertReserved(sh *shard, insert func()) {
	before := sh.lru.Len()
	insert()
	if delta := sh.lru.Len() - before; delta != 1 {
		s.count.Add(int64(delta - 1))
	}
}

// lenByShard returns each bucket's size; used by tests to check the count
// against the shard sum at quiescence.
func (s *Striped) lenByShard() []int {
	sizes := make([]int, len(s.shards))
	for i := range s.shards {
		s.shards[i].mu.Lock()
		sizes[i] = s.shards[i].lru.Len()
		s.shards[i].mu.Unlock()
	}
	return sizes
}
