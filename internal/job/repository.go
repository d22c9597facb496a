package job

import (
	"context"
	"errors"
	"sort"
)

// ErrRecordNotFound is returned when a record cannot be found by ID.
var ErrRecordNotFound = errors.New("record not found")

// Repository defines the interface for run record persistence.
// It acts as a port in the hexagonal architecture pattern.
type Repository interface {
	// Save persists a record. On the first save of a record the repository
	// assigns the next display index (1, 2, 3...) and writes it back into
	// the record. Saving an existing record updates it.
	Save(ctx context.Context, rec *Record) error

	// FindByID retrieves a record by its run ID.
	// Returns ErrRecordNotFound if the record does not exist.
	FindByID(ctx context.Context, id string) (*Record, error)

	// List returns all records, newest index first.
	List(ctx context.Context) ([]*Record, error)

	// Delete removes a record.
	// Returns ErrRecordNotFound if the record does not exist.
	Delete(ctx context.Context, id string) error
}

// sortByIndexDesc orders records newest first.
func sortByIndexDesc(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Index > records[j].Index
	})
}
