package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	apperrors "github.com/creelapp/creel/internal/errors"
	"github.com/creelapp/creel/internal/logging"
	"github.com/creelapp/creel/internal/models"
	"github.com/creelapp/creel/internal/uuid"
)

// Notifier receives queue pressure events. Implementations must not block;
// the service calls them inline on the enqueue path.
type Notifier interface {
	QueueWarning(pending, capacity int)
	QueueFull(capacity int)
}

type nopNotifier struct{}

func (nopNotifier) QueueWarning(int, int) {}
func (nopNotifier) QueueFull(int)         {}

// Status is a point-in-time summary of the queue.
type Status struct {
	PendingCount int   `json:"pending_count"`
	SyncedCount  int64 `json:"synced_count"`
}

// Service applies queue policy on top of the durable store: capacity limits,
// the warning threshold, retry budgets and payload validation.
type Service struct {
	store      *Store
	capacity   int
	warnAt     int
	maxRetries int
	notifier   Notifier
}

// NewService creates a queue service. A nil notifier disables pressure events.
func NewService(store *Store, capacity, warnAt, maxRetries int, notifier Notifier) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		store:      store,
		capacity:   capacity,
		warnAt:     warnAt,
		maxRetries: maxRetries,
		notifier:   notifier,
	}
}

// Enqueue validates and persists a mutation. Create payloads are assigned a
// record ID here if the caller did not set one, so replaying the mutation
// later is idempotent. Returns ErrQueueFull when the queue is at capacity.
func (s *Service) Enqueue(ctx context.Context, op models.OperationType, table string, data json.RawMessage) (*models.QueueItem, error) {
	payload, err := validatePayload(op, table, data)
	if err != nil {
		return nil, err
	}

	item := &models.QueueItem{
		ID:            models.UUID(uuid.New()),
		OperationType: op,
		TableName:     table,
		Data:          payload,
		MaxRetries:    s.maxRetries,
	}

	active, err := s.store.Enqueue(ctx, item, s.capacity)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrQueueFull) {
			logging.Warn("Queue full, mutation rejected", map[string]interface{}{
				"table":     table,
				"operation": string(op),
				"capacity":  s.capacity,
			})
			s.notifier.QueueFull(s.capacity)
		}
		return nil, err
	}

	if active >= s.warnAt {
		logging.Warn("Queue nearing capacity", map[string]interface{}{
			"pending":  active,
			"capacity": s.capacity,
		})
		s.notifier.QueueWarning(active, s.capacity)
	}

	logging.Debug("Mutation queued", map[string]interface{}{
		"item_id":   item.ID.String(),
		"table":     table,
		"operation": string(op),
	})
	return item, nil
}

// validatePayload checks the mutation shape and returns the payload to store,
// possibly with a generated record ID injected for creates.
func validatePayload(op models.OperationType, table string, data json.RawMessage) (json.RawMessage, error) {
	if !op.Valid() {
		return nil, apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown operation type: %s", op))
	}
	if table == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "table name is required")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "mutation payload is not a JSON object", err)
	}

	var id string
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "mutation id must be a string", err)
		}
	}

	switch op {
	case models.OperationCreate:
		if id == "" {
			// Fix the record identity at enqueue time so a replay after
			// a crash cannot create a second record.
			id = uuid.New()
			fields["id"] = json.RawMessage(fmt.Sprintf("%q", id))
			merged, err := json.Marshal(fields)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode payload", err)
			}
			return merged, nil
		}
		if err := uuid.Validate(id); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid record id", err)
		}
	case models.OperationUpdate, models.OperationDelete:
		if id == "" {
			return nil, apperrors.New(apperrors.ErrValidation,
				fmt.Sprintf("%s payload requires an id", op))
		}
	}

	return data, nil
}

// Status reports the active item count and the durable synced total.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	pending, err := s.store.ActiveCount(ctx)
	if err != nil {
		return nil, err
	}
	synced, err := s.store.SyncedTotal(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{PendingCount: pending, SyncedCount: synced}, nil
}

// PendingOrdered exposes the FIFO snapshot for the sync engine.
func (s *Service) PendingOrdered(ctx context.Context) ([]*models.QueueItem, error) {
	return s.store.PendingOrdered(ctx)
}

// Get returns a single queue item.
func (s *Service) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	return s.store.Get(ctx, id)
}

// MarkSyncing claims a pending item for replay.
func (s *Service) MarkSyncing(ctx context.Context, id string) error {
	return s.store.MarkSyncing(ctx, id)
}

// Complete applies the item's mutation and removes it from the queue in a
// single transaction, incrementing the durable synced total.
func (s *Service) Complete(ctx context.Context, id string, apply func(ctx context.Context, tx *sql.Tx) error) error {
	return s.store.CompleteApplying(ctx, id, apply)
}

// MarkFailed charges a retry and reports whether the item is now terminal.
func (s *Service) MarkFailed(ctx context.Context, id, cause string) (bool, error) {
	return s.store.MarkFailed(ctx, id, cause)
}

// ResetPending returns a claimed item to pending without charging a retry.
func (s *Service) ResetPending(ctx context.Context, id string) error {
	return s.store.ResetPending(ctx, id)
}

// ListFailed returns items that exhausted their retry budget.
func (s *Service) ListFailed(ctx context.Context) ([]*models.QueueItem, error) {
	return s.store.ListFailed(ctx)
}

// RetryFailed resets all terminal items to pending with a fresh retry budget.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	n, err := s.store.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Failed items reset for retry", map[string]interface{}{"count": n})
	}
	return n, nil
}

// Purge removes one item regardless of status.
func (s *Service) Purge(ctx context.Context, id string) error {
	return s.store.Purge(ctx, id)
}

// Recover resets items stranded in syncing by an abrupt shutdown. Call once
// at startup before any drain begins.
func (s *Service) Recover(ctx context.Context) (int, error) {
	n, err := s.store.RecoverStuck(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Recovered interrupted queue items", map[string]interface{}{"count": n})
	}
	return n, nil
}
