package metrics

import (
	"sync"
	"testing"
)

func TestMetrics_ConcurrentIncrements(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(RoomJoins)
			}
		}()
	}
	wg.Wait()
	if got := m.Get(RoomJoins); got != 800 {
		t.Fatalf("room_joins=%d, want 800", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(RoomJoins)
	if got := m.Get(RoomJoins); got != 0 {
		t.Fatalf("nil metrics Get=%d, want 0", got)
	}
	if m.Snapshot() != nil {
		t.Fatalf("nil metrics Snapshot should be nil")
	}
}

func TestSignalKind(t *testing.T) {
	if got := SignalKind("offer"); got != "signals_relayed_offer" {
		t.Fatalf("SignalKind=%q", got)
	}
}
