// Package db provides list filter building for catch queries.
package db

import (
	"strings"
	"time"
)

// Filter represents a single list filter condition.
type Filter interface {
	// SQL returns the SQL fragment for this filter
	SQL() string

	// Args returns the arguments for this filter
	Args() []interface{}

	// Valid checks if the filter is valid
	Valid() bool
}

// SpeciesFilter filters catches by exact species name.
type SpeciesFilter struct {
	Species string
}

// Valid checks if the species filter is usable.
func (f *SpeciesFilter) Valid() bool {
	return strings.TrimSpace(f.Species) != ""
}

// SQL returns the SQL fragment for species filtering.
func (f *SpeciesFilter) SQL() string {
	return "species = ?"
}

// Args returns the arguments for species filtering.
func (f *SpeciesFilter) Args() []interface{} {
	return []interface{}{strings.TrimSpace(f.Species)}
}

// LocationFilter filters catches by location label substring.
type LocationFilter struct {
	Location string
}

// Valid checks if the location filter is usable.
func (f *LocationFilter) Valid() bool {
	return strings.TrimSpace(f.Location) != ""
}

// SQL returns the SQL fragment for location filtering.
func (f *LocationFilter) SQL() string {
	return "location LIKE ?"
}

// Args returns the arguments for location filtering.
func (f *LocationFilter) Args() []interface{} {
	return []interface{}{"%" + strings.TrimSpace(f.Location) + "%"}
}

// CaughtRangeFilter filters by the time the fish was caught.
type CaughtRangeFilter struct {
	From int64 // Unix timestamp
	To   int64 // Unix timestamp
}

// Valid checks if the date range is valid.
func (f *CaughtRangeFilter) Valid() bool {
	// At least one boundary should be set
	if f.From == 0 && f.To == 0 {
		return false
	}
	// From should be before To (if both are set)
	if f.From > 0 && f.To > 0 && f.From > f.To {
		return false
	}
	// To should not be in the future; allow 1 day of clock skew
	if f.To > 0 && f.To > time.Now().Unix()+86400 {
		return false
	}
	return true
}

// SQL returns the SQL fragment for date range filtering.
func (f *CaughtRangeFilter) SQL() string {
	var parts []string
	if f.From > 0 {
		parts = append(parts, "caught_at >= ?")
	}
	if f.To > 0 {
		parts = append(parts, "caught_at <= ?")
	}
	return strings.Join(parts, " AND ")
}

// Args returns the arguments for date range filtering.
func (f *CaughtRangeFilter) Args() []interface{} {
	var args []interface{}
	if f.From > 0 {
		args = append(args, f.From)
	}
	if f.To > 0 {
		args = append(args, f.To)
	}
	return args
}

// FilterBuilder builds SQL filter conditions from multiple filters.
type FilterBuilder struct {
	filters []Filter
}

// NewFilterBuilder creates a new FilterBuilder.
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]Filter, 0),
	}
}

// Species adds a species filter.
func (fb *FilterBuilder) Species(species string) *FilterBuilder {
	filter := &SpeciesFilter{Species: species}
	if filter.Valid() {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// Location adds a location filter.
func (fb *FilterBuilder) Location(location string) *FilterBuilder {
	filter := &LocationFilter{Location: location}
	if filter.Valid() {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// CaughtRange adds a caught-at date range filter.
func (fb *FilterBuilder) CaughtRange(from, to int64) *FilterBuilder {
	filter := &CaughtRangeFilter{From: from, To: to}
	if filter.Valid() {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// HasFilters returns true if any filters have been added.
func (fb *FilterBuilder) HasFilters() bool {
	return len(fb.filters) > 0
}

// Count returns the number of filters.
func (fb *FilterBuilder) Count() int {
	return len(fb.filters)
}

// Build builds the SQL WHERE clause and returns the arguments.
func (fb *FilterBuilder) Build() (string, []interface{}) {
	if !fb.HasFilters() {
		return "", nil
	}

	var sqlParts []string
	var args []interface{}

	for _, filter := range fb.filters {
		sqlParts = append(sqlParts, filter.SQL())
		args = append(args, filter.Args()...)
	}

	return strings.Join(sqlParts, " AND "), args
}

// Reset clears all filters.
func (fb *FilterBuilder) Reset() *FilterBuilder {
	fb.filters = make([]Filter, 0)
	return fb
}
