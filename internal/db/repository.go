// Package db provides CRUD repository operations for Creel data models.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/creelapp/creel/internal/errors"
	"github.com/creelapp/creel/internal/models"
	"github.com/creelapp/creel/internal/uuid"
)

// Repository provides CRUD operations for catch records and implements the
// record-store apply contract used by the sync engine.
//
// Frequently used queries go through a prepared statement cache to avoid
// repeated SQL parsing; the UI polls reads often.
type Repository struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Catch Operations
// =====================================================

// catchesTable is the logical table name queued mutations address.
const catchesTable = "catches"

const catchColumns = `id, species, weight_kg, length_cm, location, latitude, longitude,
	   notes, photo_path, caught_at, is_deleted, created_at, updated_at`

// CreateCatch creates a new catch record. When the caller supplies no ID a
// fresh one is assigned; queued creates arrive with the ID already fixed at
// enqueue time so replay stays idempotent.
func (r *Repository) CreateCatch(c *models.Catch) error {
	now := time.Now().Unix()
	if c.ID == "" {
		c.ID = models.UUID(uuid.New())
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	query := `
	INSERT INTO catches (` + catchColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, c.ID, c.Species, c.WeightKg, c.LengthCm, c.Location,
		c.Latitude, c.Longitude, c.Notes, c.PhotoPath, c.CaughtAt, c.IsDeleted,
		c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCatch retrieves a catch by ID.
func (r *Repository) GetCatch(id string) (*models.Catch, error) {
	query := `SELECT ` + catchColumns + ` FROM catches WHERE id = ? AND is_deleted = 0`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var c models.Catch
	err = stmt.QueryRow(id).Scan(
		&c.ID, &c.Species, &c.WeightKg, &c.LengthCm, &c.Location,
		&c.Latitude, &c.Longitude, &c.Notes, &c.PhotoPath, &c.CaughtAt,
		&c.IsDeleted, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("catch not found: %s", id))
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCatches returns catch records matching the filter, newest catch first.
func (r *Repository) ListCatches(fb *FilterBuilder, limit, offset int) ([]*models.Catch, error) {
	query := `SELECT ` + catchColumns + ` FROM catches WHERE is_deleted = 0`
	var args []interface{}

	if fb != nil && fb.HasFilters() {
		where, filterArgs := fb.Build()
		query += " AND " + where
		args = append(args, filterArgs...)
	}

	query += " ORDER BY caught_at DESC, created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var catches []*models.Catch
	for rows.Next() {
		var c models.Catch
		err := rows.Scan(
			&c.ID, &c.Species, &c.WeightKg, &c.LengthCm, &c.Location,
			&c.Latitude, &c.Longitude, &c.Notes, &c.PhotoPath, &c.CaughtAt,
			&c.IsDeleted, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		catches = append(catches, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return catches, nil
}

// UpdateCatch updates an existing catch record.
func (r *Repository) UpdateCatch(c *models.Catch) error {
	c.UpdatedAt = time.Now().Unix()
	query := `
	UPDATE catches
	SET species = ?, weight_kg = ?, length_cm = ?, location = ?, latitude = ?,
		longitude = ?, notes = ?, photo_path = ?, caught_at = ?, updated_at = ?
	WHERE id = ? AND is_deleted = 0
	`
	result, err := r.db.Exec(query, c.Species, c.WeightKg, c.LengthCm, c.Location,
		c.Latitude, c.Longitude, c.Notes, c.PhotoPath, c.CaughtAt, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("catch not found: %s", c.ID))
	}
	return nil
}

// DeleteCatch soft deletes a catch record.
func (r *Repository) DeleteCatch(id string) error {
	query := `UPDATE catches SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("catch not found: %s", id))
	}
	return nil
}

// SetCatchPhoto records the stored photo path for a catch.
func (r *Repository) SetCatchPhoto(id, photoPath string) error {
	query := `UPDATE catches SET photo_path = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, photoPath, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("catch not found: %s", id))
	}
	return nil
}

// =====================================================
// Record-store apply contract (used by the sync engine)
// =====================================================

// catchPatchColumns maps patch JSON keys to catch columns a queued update may
// touch. The id key is routing information, never part of the SET clause.
var catchPatchColumns = map[string]string{
	"species":    "species",
	"weight_kg":  "weight_kg",
	"length_cm":  "length_cm",
	"location":   "location",
	"latitude":   "latitude",
	"longitude":  "longitude",
	"notes":      "notes",
	"photo_path": "photo_path",
	"caught_at":  "caught_at",
}

// ApplyCreate inserts a queued create mutation inside the given transaction.
func (r *Repository) ApplyCreate(ctx context.Context, tx *sql.Tx, table string, data json.RawMessage) error {
	if table != catchesTable {
		return apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("no such table: %s", table))
	}

	var c models.Catch
	if err := json.Unmarshal(data, &c); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "malformed create payload", err)
	}
	if c.ID == "" {
		return apperrors.New(apperrors.ErrValidation, "create payload missing id")
	}
	if c.Species == "" {
		return apperrors.New(apperrors.ErrValidation, "create payload missing species")
	}

	now := time.Now().Unix()
	query := `
	INSERT INTO catches (` + catchColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query, c.ID, c.Species, c.WeightKg, c.LengthCm,
		c.Location, c.Latitude, c.Longitude, c.Notes, c.PhotoPath, c.CaughtAt,
		c.IsDeleted, now, now)
	return err
}

// ApplyUpdate applies a queued partial patch inside the given transaction.
// Unknown patch keys are rejected rather than silently dropped.
func (r *Repository) ApplyUpdate(ctx context.Context, tx *sql.Tx, table, id string, patch json.RawMessage) error {
	if table != catchesTable {
		return apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("no such table: %s", table))
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(patch, &fields); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "malformed update payload", err)
	}
	delete(fields, "id")

	if len(fields) == 0 {
		return apperrors.New(apperrors.ErrValidation, "update payload has no fields")
	}

	var sets []string
	var args []interface{}
	for key, value := range fields {
		column, ok := catchPatchColumns[key]
		if !ok {
			return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("unknown patch field: %s", key))
		}
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().Unix(), id)

	query := "UPDATE catches SET " + strings.Join(sets, ", ") + " WHERE id = ? AND is_deleted = 0"
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("catch not found: %s", id))
	}
	return nil
}

// ApplyDelete applies a queued delete (soft delete) inside the transaction.
// Deleting a record that is already gone is treated as success: the mutation
// outcome the user asked for holds.
func (r *Repository) ApplyDelete(ctx context.Context, tx *sql.Tx, table, id string) error {
	if table != catchesTable {
		return apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("no such table: %s", table))
	}

	query := `UPDATE catches SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`
	_, err := tx.ExecContext(ctx, query, time.Now().Unix(), id)
	return err
}
