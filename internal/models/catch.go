// Package models provides data model definitions for the Creel core.
package models

import (
	"database/sql/driver"
	"fmt"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Catch represents a single logged catch record.
type Catch struct {
	ID        UUID     `db:"id" json:"id"`
	Species   string   `db:"species" json:"species"`
	WeightKg  float64  `db:"weight_kg" json:"weight_kg,omitempty"`
	LengthCm  float64  `db:"length_cm" json:"length_cm,omitempty"`
	Location  string   `db:"location" json:"location,omitempty"`
	Latitude  *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64 `db:"longitude" json:"longitude,omitempty"`
	Notes     string   `db:"notes" json:"notes,omitempty"` // Markdown
	PhotoPath string   `db:"photo_path" json:"photo_path,omitempty"`
	CaughtAt  int64    `db:"caught_at" json:"caught_at"`
	IsDeleted bool     `db:"is_deleted" json:"is_deleted"`
	CreatedAt int64    `db:"created_at" json:"created_at"`
	UpdatedAt int64    `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Catch.
func (Catch) TableName() string {
	return "catches"
}
