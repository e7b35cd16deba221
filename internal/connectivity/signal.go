// Package connectivity tracks whether the core believes the network is
// reachable. The signal is a single boolean with change subscriptions; it
// defaults to online so the UI is never blocked waiting for a verdict.
package connectivity

import (
	"sort"
	"sync"

	"github.com/creelapp/creel/internal/logging"
)

// Signal holds the current online state and notifies subscribers on genuine
// transitions. Repeated Set calls with the same value do not fire.
type Signal struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

// NewSignal creates a Signal in the online state.
func NewSignal() *Signal {
	return &Signal{
		online: true,
		subs:   make(map[int]func(online bool)),
	}
}

// IsOnline returns the current state.
func (s *Signal) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set updates the state. Subscribers are notified exactly once per genuine
// transition, in subscription order.
func (s *Signal) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online

	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	cbs := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		cbs = append(cbs, s.subs[id])
	}
	s.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{"online": online})

	// Callbacks run outside the lock so a subscriber may call back into the
	// signal without deadlocking.
	for _, cb := range cbs {
		cb(online)
	}
}

// Subscribe registers a callback for state transitions and returns an
// unsubscribe handle. The callback is not invoked for the current state.
func (s *Signal) Subscribe(cb func(online bool)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = cb

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
