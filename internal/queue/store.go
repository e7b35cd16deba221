// Package queue provides the durable offline mutation queue.
//
// Queued mutations live in the queue_items table; that table is the
// durability contract. A consistent queue must be recoverable after an
// abrupt process exit using nothing else.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/creelapp/creel/internal/errors"
	"github.com/creelapp/creel/internal/models"
)

// Store persists queue items in SQLite and owns the created_at clock.
type Store struct {
	db *sql.DB

	// lastCreatedAt guards the strictly-increasing created_at invariant
	// against wall clock ties and backwards jumps.
	mu            sync.Mutex
	lastCreatedAt int64
}

// NewStore creates a Store and seeds the timestamp guard from the table so
// ordering survives restarts even when the clock moved backwards meanwhile.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}

	var last sql.NullInt64
	if err := db.QueryRow("SELECT MAX(created_at) FROM queue_items").Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read queue high-water mark: %w", err)
	}
	if last.Valid {
		s.lastCreatedAt = last.Int64
	}

	return s, nil
}

// nextCreatedAt returns a strictly increasing timestamp in unix nanoseconds.
func (s *Store) nextCreatedAt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= s.lastCreatedAt {
		now = s.lastCreatedAt + 1
	}
	s.lastCreatedAt = now
	return now
}

const queueColumns = `id, operation_type, table_name, data, status, created_at,
	   retry_count, max_retries, last_error, updated_at`

// Enqueue persists a new pending item, enforcing the capacity invariant
// inside a single transaction. It returns the active count after the insert.
func (s *Store) Enqueue(ctx context.Context, item *models.QueueItem, capacity int) (int, error) {
	item.CreatedAt = s.nextCreatedAt()
	item.UpdatedAt = time.Now().Unix()
	item.Status = models.QueueStatusPending

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to begin enqueue transaction", err)
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_items").Scan(&active); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue items", err)
	}
	if active >= capacity {
		return active, apperrors.New(apperrors.ErrQueueFull,
			fmt.Sprintf("queue is full (%d items pending)", active))
	}

	query := `
	INSERT INTO queue_items (` + queueColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query, item.ID, item.OperationType, item.TableName,
		string(item.Data), item.Status, item.CreatedAt, item.RetryCount,
		item.MaxRetries, item.LastError, item.UpdatedAt)
	if err != nil {
		return 0, classifyWrite(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, classifyWrite(err)
	}

	return active + 1, nil
}

// ActiveCount returns the number of not-yet-completed items. Completed rows
// are deleted on completion, so every stored row counts.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_items").Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue items", err)
	}
	return count, nil
}

// SyncedTotal returns the durable count of completed mutations.
func (s *Store) SyncedTotal(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, "SELECT synced_total FROM queue_stats WHERE id = 1").Scan(&total)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to read synced total", err)
	}
	return total, nil
}

// Get returns a single item by ID.
func (s *Store) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items WHERE id = ?`
	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrQueueItemNotFound, fmt.Sprintf("queue item not found: %s", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load queue item", err)
	}
	return item, nil
}

// PendingOrdered returns pending items in FIFO order. New enqueues always
// receive a later created_at, so a snapshot stays stable mid-drain.
func (s *Store) PendingOrdered(ctx context.Context) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items
			  WHERE status = ? ORDER BY created_at ASC, rowid ASC`
	rows, err := s.db.QueryContext(ctx, query, models.QueueStatusPending)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list pending items", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListFailed returns terminally failed items, oldest first.
func (s *Store) ListFailed(ctx context.Context) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items
			  WHERE status = ? ORDER BY created_at ASC, rowid ASC`
	rows, err := s.db.QueryContext(ctx, query, models.QueueStatusFailed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list failed items", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// MarkSyncing transitions a pending item to syncing.
func (s *Store) MarkSyncing(ctx context.Context, id string) error {
	query := `UPDATE queue_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, query,
		models.QueueStatusSyncing, time.Now().Unix(), id, models.QueueStatusPending)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark item syncing", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrQueueItemNotFound,
			fmt.Sprintf("queue item not pending: %s", id))
	}
	return nil
}

// ResetPending puts a syncing item back to pending without charging its
// retry budget. Used when a drain is interrupted for reasons the item is not
// responsible for (timeout, storage quota).
func (s *Store) ResetPending(ctx context.Context, id string) error {
	query := `UPDATE queue_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	_, err := s.db.ExecContext(ctx, query,
		models.QueueStatusPending, time.Now().Unix(), id, models.QueueStatusSyncing)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to reset item", err)
	}
	return nil
}

// CompleteApplying runs apply and the item's removal in ONE transaction.
// Either the mutation reaches the record store and the item is gone, or
// neither happened; a crash in between cannot double-apply.
func (s *Store) CompleteApplying(ctx context.Context, id string, apply func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin completion transaction", err)
	}
	defer tx.Rollback()

	if err := apply(ctx, tx); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM queue_items WHERE id = ? AND status = ?", id, models.QueueStatusSyncing)
	if err != nil {
		return classifyWrite(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrQueueItemNotFound,
			fmt.Sprintf("queue item not syncing: %s", id))
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE queue_stats SET synced_total = synced_total + 1 WHERE id = 1"); err != nil {
		return classifyWrite(err)
	}

	if err := tx.Commit(); err != nil {
		return classifyWrite(err)
	}
	return nil
}

// MarkFailed charges the item's retry budget and reports whether the item
// became terminal. Non-terminal items return to pending for the next drain.
func (s *Store) MarkFailed(ctx context.Context, id string, cause string) (terminal bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to begin failure transaction", err)
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	row := tx.QueryRowContext(ctx,
		"SELECT retry_count, max_retries FROM queue_items WHERE id = ?", id)
	if err := row.Scan(&retryCount, &maxRetries); err != nil {
		if err == sql.ErrNoRows {
			return false, apperrors.New(apperrors.ErrQueueItemNotFound,
				fmt.Sprintf("queue item not found: %s", id))
		}
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to load retry budget", err)
	}

	retryCount++
	status := models.QueueStatusPending
	if retryCount >= maxRetries {
		status = models.QueueStatusFailed
		terminal = true
	}

	query := `UPDATE queue_items SET status = ?, retry_count = ?, last_error = ?, updated_at = ?
			  WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, status, retryCount, cause, time.Now().Unix(), id); err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to record failure", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to commit failure", err)
	}
	return terminal, nil
}

// RetryFailed resets terminally failed items to pending. This is an operator
// action; it is the only path that ever lowers a retry count.
func (s *Store) RetryFailed(ctx context.Context) (int, error) {
	query := `UPDATE queue_items SET status = ?, retry_count = 0, last_error = '', updated_at = ?
			  WHERE status = ?`
	result, err := s.db.ExecContext(ctx, query,
		models.QueueStatusPending, time.Now().Unix(), models.QueueStatusFailed)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to reset failed items", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// Purge removes a single item regardless of status. Operator action for
// abandoning a mutation that can never apply.
func (s *Store) Purge(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM queue_items WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to purge queue item", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrQueueItemNotFound, fmt.Sprintf("queue item not found: %s", id))
	}
	return nil
}

// RecoverStuck resets rows left in syncing by an abrupt exit. The completion
// transaction either committed (row deleted) or rolled back, so a syncing
// row at open time was never applied.
func (s *Store) RecoverStuck(ctx context.Context) (int, error) {
	query := `UPDATE queue_items SET status = ?, updated_at = ? WHERE status = ?`
	result, err := s.db.ExecContext(ctx, query,
		models.QueueStatusPending, time.Now().Unix(), models.QueueStatusSyncing)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to recover stuck items", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var data string
	err := row.Scan(&item.ID, &item.OperationType, &item.TableName, &data,
		&item.Status, &item.CreatedAt, &item.RetryCount, &item.MaxRetries,
		&item.LastError, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Data = []byte(data)
	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate queue items", err)
	}
	return items, nil
}
