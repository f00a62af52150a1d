// Package store defines the collection catalog contract and its backends.
package store

import (
	"time"

	"github.com/stevemurr/rednext/schema"
)

// Catalog is the interface that all backends must implement.
// It owns the namespace of collections and the connection to the backend.
type Catalog interface {
	// List returns the names of all collections. A missing backend location
	// yields an empty list.
	List() ([]string, error)

	// Create makes a new collection with a fixed schema and returns a handle
	// to it. It fails with ErrExists if the name is taken.
	Create(name string, s schema.Schema) (Collection, error)

	// Open returns a handle to an existing collection, or ErrNotExist.
	Open(name string) (Collection, error)

	// Delete removes a collection and all its records, or returns ErrNotExist.
	Delete(name string) error
}

// Collection is a handle to one open collection. Handles hold backend
// resources until Close.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Schema returns the collection's fixed schema.
	Schema() schema.Schema

	// Insert appends a pending record and returns its id. Fields must cover
	// the schema exactly.
	Insert(fields []schema.Field) (uint64, error)

	// ListItems returns every record ordered by id.
	ListItems() ([]schema.Record, error)

	// ListDone returns completed records ordered by completion time.
	ListDone() ([]schema.Record, error)

	// ListUndone returns pending records ordered by id.
	ListUndone() ([]schema.Record, error)

	// Get returns a record by id, or nil if it does not exist.
	Get(id uint64) (*schema.Record, error)

	// GetRandom returns a uniformly chosen pending record, or nil if none.
	GetRandom() (*schema.Record, error)

	// Delete removes a record. Deleting a missing id is not an error.
	Delete(id uint64) error

	// Done marks a record completed at the given time. It returns
	// ErrRowCount unless exactly one record was updated.
	Done(id uint64, at time.Time) error

	// Undone marks a record pending again, with the same row-count rule.
	Undone(id uint64) error

	// Find returns records where any Text field contains text.
	Find(text string) ([]schema.Record, error)

	// Close releases the handle.
	Close() error
}
