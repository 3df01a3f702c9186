// Package storage implements the bounded LRU key/value store and its
// concurrency wrappers.
//
// The unlocked core (LRU) is not safe for concurrent use; it is always
// wrapped by one of three Backend implementations with different locking
// disciplines:
//
//   - GlobalLock — one mutex around every operation.
//   - RWLock    — shared lock for Get, exclusive lock for mutators.
//   - Striped   — per-shard mutexes routed by key hash, with a shared
//     atomic element count enforcing the global capacity.
//
// Values are copied on insert. Slices returned by Get alias the stored
// copy and must not be mutated by callers.
package storage

// Backend is the store interface shared by all concurrency wrappers.
// Implementations are safe for concurrent use and never fail: capacity
// effects are visible only through the returned booleans and eviction.
type Backend interface {
	// Put inserts or overwrites key. The entry becomes the most recently
	// used. Reports whether a previous entry existed.
	Put(key string, value []byte) bool

	// PutIfAbsent inserts key only if it is not present.
	// Reports whether the insert happened.
	PutIfAbsent(key string, value []byte) bool

	// Set overwrites key only if it is present, refreshing recency.
	// Reports whether the update happened.
	Set(key string, value []byte) bool

	// Delete removes key. Reports whether a removal happened.
	Delete(key string) bool

	// Get returns the value for key. Get is a pure read: it does not
	// refresh LRU order.
	Get(key string) ([]byte, bool)

	// Len returns the current number of entries.
	Len() int
}
