package models

import "encoding/json"

// OperationType identifies the kind of mutation a queue item carries.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Valid reports whether the operation type is one of the known kinds.
func (op OperationType) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// QueueItemStatus represents the lifecycle state of a queued mutation.
type QueueItemStatus string

const (
	QueueStatusPending   QueueItemStatus = "pending"
	QueueStatusSyncing   QueueItemStatus = "syncing"
	QueueStatusCompleted QueueItemStatus = "completed"
	QueueStatusFailed    QueueItemStatus = "failed"
)

// QueueItem represents a single buffered mutation awaiting replay against
// the record store. Items are drained in ascending CreatedAt order.
type QueueItem struct {
	ID            UUID            `db:"id" json:"id"`
	OperationType OperationType   `db:"operation_type" json:"operation_type"`
	TableName     string          `db:"table_name" json:"table_name"`
	Data          json.RawMessage `db:"data" json:"data"`
	Status        QueueItemStatus `db:"status" json:"status"`
	CreatedAt     int64           `db:"created_at" json:"created_at"` // Unix nanoseconds, strictly increasing
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	MaxRetries    int             `db:"max_retries" json:"max_retries"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
	UpdatedAt     int64           `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the item has exhausted its retry budget and
// requires manual resolution.
func (i *QueueItem) Terminal() bool {
	return i.Status == QueueStatusFailed
}
