// Package sync drains the offline mutation queue into the record store.
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creelapp/creel/internal/connectivity"
	apperrors "github.com/creelapp/creel/internal/errors"
	"github.com/creelapp/creel/internal/logging"
	"github.com/creelapp/creel/internal/models"
	"github.com/creelapp/creel/internal/queue"
)

// RecordStore applies mutations inside a caller-owned transaction. The
// transaction also removes the queue item, which is what makes replay after
// a crash safe.
type RecordStore interface {
	ApplyCreate(ctx context.Context, tx *sql.Tx, table string, data json.RawMessage) error
	ApplyUpdate(ctx context.Context, tx *sql.Tx, table, id string, patch json.RawMessage) error
	ApplyDelete(ctx context.Context, tx *sql.Tx, table, id string) error
}

// EventHandler receives drain lifecycle events. Implementations must not
// block; the engine calls them from the drain goroutine.
type EventHandler interface {
	SyncStarted(pending int)
	SyncProgress(done, total int, itemID string)
	SyncCompleted(synced int, duration time.Duration)
	SyncFailed(reason string)
	SyncItemTerminal(itemID, lastError string)
}

type nopEvents struct{}

func (nopEvents) SyncStarted(int)                  {}
func (nopEvents) SyncProgress(int, int, string)    {}
func (nopEvents) SyncCompleted(int, time.Duration) {}
func (nopEvents) SyncFailed(string)                {}
func (nopEvents) SyncItemTerminal(string, string)  {}

// Result summarizes a completed or aborted drain.
type Result struct {
	Synced    int           `json:"synced"`
	Remaining int           `json:"remaining"`
	Duration  time.Duration `json:"duration"`
}

// Engine drains pending mutations strictly in enqueue order. A failed item
// blocks everything behind it: ordering matters more than throughput because
// later mutations may depend on earlier ones.
type Engine struct {
	queue        *queue.Service
	store        RecordStore
	signal       *connectivity.Signal
	events       EventHandler
	drainTimeout time.Duration

	isSyncing atomic.Bool

	mu       sync.Mutex
	lastSync time.Time
	lastErr  error

	unsubscribe func()
}

// NewEngine creates an Engine. A nil events handler disables notifications.
func NewEngine(q *queue.Service, store RecordStore, signal *connectivity.Signal, drainTimeout time.Duration, events EventHandler) *Engine {
	if events == nil {
		events = nopEvents{}
	}
	return &Engine{
		queue:        q,
		store:        store,
		signal:       signal,
		events:       events,
		drainTimeout: drainTimeout,
	}
}

// Start wires the engine to the connectivity signal: every offline to online
// transition triggers a drain, and if the process starts online a cold-start
// drain flushes whatever survived the previous run.
func (e *Engine) Start(ctx context.Context) {
	e.unsubscribe = e.signal.Subscribe(func(online bool) {
		if online {
			go e.drainQuietly(ctx, "connectivity restored")
		}
	})

	if e.signal.IsOnline() {
		go e.drainQuietly(ctx, "cold start")
	}
}

// Stop detaches the engine from the connectivity signal. A drain already in
// flight finishes on its own.
func (e *Engine) Stop() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// IsSyncing reports whether a drain is in flight.
func (e *Engine) IsSyncing() bool {
	return e.isSyncing.Load()
}

// LastSync returns the completion time of the last successful drain, or the
// zero time if none has completed.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastError returns the error from the most recent drain attempt, nil after
// a clean drain.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// drainQuietly runs a drain for an automatic trigger, where a concurrent
// drain or going offline mid-flight is routine rather than an error.
func (e *Engine) drainQuietly(ctx context.Context, trigger string) {
	_, err := e.Drain(ctx)
	if err == nil || apperrors.Is(err, apperrors.ErrSyncInProgress) || apperrors.Is(err, apperrors.ErrSyncOffline) {
		return
	}
	logging.Error("Automatic drain failed", err, map[string]interface{}{"trigger": trigger})
}

// Drain replays pending mutations in FIFO order until the queue is empty or
// an item fails. At most one drain runs at a time; concurrent calls get
// ErrSyncInProgress and the queue state they observe is unchanged.
func (e *Engine) Drain(ctx context.Context) (*Result, error) {
	if !e.signal.IsOnline() {
		return nil, apperrors.New(apperrors.ErrSyncOffline, "cannot sync while offline")
	}
	if !e.isSyncing.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "a sync is already in progress")
	}
	defer e.isSyncing.Store(false)

	ctx, cancel := context.WithTimeout(ctx, e.drainTimeout)
	defer cancel()

	start := time.Now()
	items, err := e.queue.PendingOrdered(ctx)
	if err != nil {
		e.setLastErr(err)
		return nil, err
	}

	e.events.SyncStarted(len(items))
	logging.Info("Drain started", map[string]interface{}{"pending": len(items)})

	synced := 0
	for _, item := range items {
		if err := e.drainOne(ctx, item); err != nil {
			remaining := len(items) - synced
			e.setLastErr(err)
			e.events.SyncFailed(err.Error())
			logging.Warn("Drain stopped", map[string]interface{}{
				"synced":    synced,
				"remaining": remaining,
				"item_id":   item.ID.String(),
				"reason":    err.Error(),
			})
			return &Result{Synced: synced, Remaining: remaining, Duration: time.Since(start)}, err
		}
		synced++
		e.events.SyncProgress(synced, len(items), item.ID.String())
	}

	duration := time.Since(start)
	e.mu.Lock()
	e.lastSync = time.Now()
	e.lastErr = nil
	e.mu.Unlock()

	e.events.SyncCompleted(synced, duration)
	logging.Info("Drain completed", map[string]interface{}{
		"synced":      synced,
		"duration_ms": duration.Milliseconds(),
	})
	return &Result{Synced: synced, Remaining: 0, Duration: duration}, nil
}

// drainOne replays a single item. On failure it decides whether the item is
// charged a retry: storage exhaustion and deadline expiry are not the item's
// fault and leave it pending at zero cost.
func (e *Engine) drainOne(ctx context.Context, item *models.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncTransient, "drain window expired", err)
	}

	id := item.ID.String()
	if err := e.queue.MarkSyncing(ctx, id); err != nil {
		return err
	}

	err := e.queue.Complete(ctx, id, func(ctx context.Context, tx *sql.Tx) error {
		return e.apply(ctx, tx, item)
	})
	if err == nil {
		return nil
	}

	switch {
	case queue.IsStorageQuota(err):
		if resetErr := e.queue.ResetPending(ctx, id); resetErr != nil {
			logging.Error("Failed to release item after quota error", resetErr,
				map[string]interface{}{"item_id": id})
		}
		return apperrors.Wrap(apperrors.ErrStorageQuota, "local storage exhausted during drain", err)

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		// Background reset so the expired drain context does not block it.
		resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if resetErr := e.queue.ResetPending(resetCtx, id); resetErr != nil {
			logging.Error("Failed to release item after timeout", resetErr,
				map[string]interface{}{"item_id": id})
		}
		return apperrors.Wrap(apperrors.ErrSyncTransient, "drain window expired", err)

	default:
		terminal, failErr := e.queue.MarkFailed(ctx, id, err.Error())
		if failErr != nil {
			return failErr
		}
		if terminal {
			e.events.SyncItemTerminal(id, err.Error())
			logging.Warn("Queue item exhausted its retry budget", map[string]interface{}{
				"item_id": id,
				"error":   err.Error(),
			})
			return apperrors.Wrap(apperrors.ErrSyncTerminal,
				fmt.Sprintf("item %s failed permanently", id), err)
		}
		return apperrors.Wrap(apperrors.ErrSyncTransient,
			fmt.Sprintf("item %s failed, will retry", id), err)
	}
}

// apply dispatches the item's mutation to the record store inside the
// completion transaction.
func (e *Engine) apply(ctx context.Context, tx *sql.Tx, item *models.QueueItem) error {
	switch item.OperationType {
	case models.OperationCreate:
		return e.store.ApplyCreate(ctx, tx, item.TableName, item.Data)
	case models.OperationUpdate:
		id, err := payloadID(item.Data)
		if err != nil {
			return err
		}
		return e.store.ApplyUpdate(ctx, tx, item.TableName, id, item.Data)
	case models.OperationDelete:
		id, err := payloadID(item.Data)
		if err != nil {
			return err
		}
		return e.store.ApplyDelete(ctx, tx, item.TableName, id)
	default:
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown operation type: %s", item.OperationType))
	}
}

// payloadID extracts the record id a stored payload targets.
func payloadID(data json.RawMessage) (string, error) {
	var target struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &target); err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "queued payload is not valid JSON", err)
	}
	if target.ID == "" {
		return "", apperrors.New(apperrors.ErrValidation, "queued payload has no id")
	}
	return target.ID, nil
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}
