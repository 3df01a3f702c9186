// Package metrics provides lightweight, lock-minimal runtime counters for
// the cache server.
//
// Counters use sync/atomic so hot paths (the reactor loop, command
// execution) incur no mutex contention. All counters are incremented from
// worker goroutines and read by the management plane's Snapshot call.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds all runtime counters for a running server instance.
// The zero value is valid and ready to use; prefer New() for clarity.
type Metrics struct {
	// Connection counters
	ConnsAccepted atomic.Int64
	ConnsActive   atomic.Int64
	ConnsClosed   atomic.Int64

	// Command counters by verb family
	CmdGet    atomic.Int64
	CmdStore  atomic.Int64 // set/add/replace/append/prepend
	CmdDelete atomic.Int64

	// Store outcome counters
	Hits   atomic.Int64
	Misses atomic.Int64

	// Error counters
	ProtocolErrors atomic.Int64
	ServerErrors   atomic.Int64

	// Wire volume
	BytesRead    atomic.Int64
	BytesWritten atomic.Int64

	startTime time.Time
}

// New returns a new Metrics with the start time recorded.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	m.ConnsAccepted.Add(1)
	m.ConnsActive.Add(1)
}

// ConnClosed records a torn-down connection.
func (m *Metrics) ConnClosed() {
	m.ConnsActive.Add(-1)
	m.ConnsClosed.Add(1)
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Connections: ConnSnapshot{
			Accepted: m.ConnsAccepted.Load(),
			Active:   m.ConnsActive.Load(),
			Closed:   m.ConnsClosed.Load(),
		},
		Commands: CommandSnapshot{
			Get:    m.CmdGet.Load(),
			Store:  m.CmdStore.Load(),
			Delete: m.CmdDelete.Load(),
		},
		Store: StoreSnapshot{
			Hits:   m.Hits.Load(),
			Misses: m.Misses.Load(),
		},
		Errors: ErrorSnapshot{
			Protocol: m.ProtocolErrors.Load(),
			Server:   m.ServerErrors.Load(),
		},
		Wire: WireSnapshot{
			BytesRead:    m.BytesRead.Load(),
			BytesWritten: m.BytesWritten.Load(),
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Connections ConnSnapshot    `json:"connections"`
	Commands    CommandSnapshot `json:"commands"`
	Store       StoreSnapshot   `json:"store"`
	Errors      ErrorSnapshot   `json:"errors"`
	Wire        WireSnapshot    `json:"wire"`
	UptimeSecs  float64         `json:"uptimeSecs"`
}

// ConnSnapshot holds connection-level counters.
type ConnSnapshot struct {
	Accepted int64 `json:"accepted"`
	Active   int64 `json:"active"`
	Closed   int64 `json:"closed"`
}

// CommandSnapshot holds command counters by verb family.
type CommandSnapshot struct {
	Get    int64 `json:"get"`
	Store  int64 `json:"store"`
	Delete int64 `json:"delete"`
}

// StoreSnapshot holds store outcome counters.
type StoreSnapshot struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// ErrorSnapshot holds error counters.
type ErrorSnapshot struct {
	Protocol int64 `json:"protocol"`
	Server   int64 `json:"server"`
}

// WireSnapshot holds byte-volume counters.
type WireSnapshot struct {
	BytesRead    int64 `json:"bytesRead"`
	BytesWritten int64 `json:"bytesWritten"`
}
