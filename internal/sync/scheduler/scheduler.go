// Package scheduler runs periodic background drains of the mutation queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/creelapp/creel/internal/connectivity"
	apperrors "github.com/creelapp/creel/internal/errors"
	"github.com/creelapp/creel/internal/logging"
	syncpkg "github.com/creelapp/creel/internal/sync"
)

// Scheduler periodically asks the engine to drain while the device is
// online. It exists as a safety net behind the connectivity trigger: a drain
// that stopped on a transient failure gets another chance without waiting
// for the next offline/online transition.
type Scheduler struct {
	engine   *syncpkg.Engine
	signal   *connectivity.Signal
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
}

// New creates a Scheduler draining every interval while online.
func New(engine *syncpkg.Engine, signal *connectivity.Signal, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		signal:   signal,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started", map[string]interface{}{
		"interval_seconds": s.interval.Seconds(),
	})
}

// Stop stops the loop and waits for it to exit. A drain already in flight
// is left to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.signal.IsOnline() {
		return
	}

	result, err := s.engine.Drain(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInProgress) {
			logging.Debug("Periodic drain skipped, sync already in progress", nil)
			return
		}
		logging.Warn("Periodic drain stopped early", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if result.Synced > 0 {
		logging.Info("Periodic drain completed", map[string]interface{}{
			"synced": result.Synced,
		})
	}
}
