package metrics

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestConnLifecycleCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	s := m.Snapshot()
	if s.Connections.Accepted != 2 {
		t.Errorf("Accepted: %d", s.Connections.Accepted)
	}
	if s.Connections.Active != 1 {
		t.Errorf("Active: %d", s.Connections.Active)
	}
	if s.Connections.Closed != 1 {
		t.Errorf("Closed: %d", s.Connections.Closed)
	}
}

func TestSnapshotIsJSONEncodable(t *testing.T) {
	t.Parallel()
	m := New()
	m.CmdGet.Add(3)
	m.Hits.Add(2)
	m.Misses.Add(1)
	m.BytesRead.Add(100)

	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round Snapshot
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if round.Commands.Get != 3 || round.Store.Hits != 2 || round.Wire.BytesRead != 100 {
		t.Errorf("round-trip mismatch: %+v", round)
	}
}

// Counters are incremented from many workers; run with -race.
func TestConcurrentIncrements(t *testing.T) {
	t.Parallel()
	m := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.ConnOpened()
				m.CmdStore.Add(1)
				m.ConnClosed()
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if s.Connections.Accepted != 8000 || s.Connections.Active != 0 {
		t.Errorf("accepted=%d active=%d", s.Connections.Accepted, s.Connections.Active)
	}
	if s.Commands.Store != 8000 {
		t.Errorf("store commands: %d", s.Commands.Store)
	}
}
