package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// TestSignal_DefaultsOnline verifies the signal assumes online at start.
func TestSignal_DefaultsOnline(t *testing.T) {
	s := NewSignal()

	if !s.IsOnline() {
		t.Error("new signal should report online")
	}
}

// TestSignal_TransitionFiresOnce verifies subscribers see exactly one event
// per genuine transition.
func TestSignal_TransitionFiresOnce(t *testing.T) {
	s := NewSignal()

	var events []bool
	s.Subscribe(func(online bool) {
		events = append(events, online)
	})

	s.Set(false)
	s.Set(false) // duplicate, must not fire
	s.Set(true)
	s.Set(true) // duplicate, must not fire
	s.Set(false)

	want := []bool{false, true, false}
	if len(events) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(events), events, len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, events[i], want[i])
		}
	}
}

// TestSignal_Unsubscribe verifies the returned handle stops notifications.
func TestSignal_Unsubscribe(t *testing.T) {
	s := NewSignal()

	var count int
	unsub := s.Subscribe(func(bool) { count++ })

	s.Set(false)
	unsub()
	s.Set(true)

	if count != 1 {
		t.Errorf("count = %d, want 1 (no events after unsubscribe)", count)
	}
}

// TestSignal_SubscriberMayReadState verifies a callback can call back into
// the signal without deadlocking.
func TestSignal_SubscriberMayReadState(t *testing.T) {
	s := NewSignal()

	done := make(chan bool, 1)
	s.Subscribe(func(online bool) {
		done <- s.IsOnline() == online
	})

	go s.Set(false)

	select {
	case ok := <-done:
		if !ok {
			t.Error("IsOnline() inside callback disagreed with event value")
		}
	case <-time.After(time.Second):
		t.Fatal("callback deadlocked")
	}
}

// TestWatcher_FlipsOfflineAfterTwoFailures exercises the probe heuristic.
func TestWatcher_FlipsOfflineAfterTwoFailures(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			// Hijack and drop to simulate an unreachable host.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewSignal()
	w := NewWatcher(s, srv.URL, time.Hour) // ticker never fires; probe manually

	ctx := context.Background()

	w.probe(ctx)
	if !s.IsOnline() {
		t.Fatal("healthy probe should keep signal online")
	}

	healthy.Store(false)
	w.probe(ctx)
	if !s.IsOnline() {
		t.Fatal("one failure should not flip offline")
	}
	w.probe(ctx)
	if s.IsOnline() {
		t.Fatal("two consecutive failures should flip offline")
	}

	healthy.Store(true)
	w.probe(ctx)
	if !s.IsOnline() {
		t.Fatal("a single success should flip back online")
	}
}
