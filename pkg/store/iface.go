// iface.go defines the StoreInterface for dependency injection and testing.
//
// The concrete *Store type satisfies this interface. Code that depends on
// the store (e.g., the cmd layer) can accept StoreInterface instead of
// *Store, enabling mock injection in tests.
package store

import (
	"github.com/daviddao/plansync/pkg/model"
)

// StoreInterface defines the full set of store operations.
// The concrete *Store type implements this interface.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// --- Documents ---

	// SaveDocument upserts a document's state and appends any unseen
	// operation-log and merge-log entries. Idempotent per log entry.
	SaveDocument(d *model.Document) error

	// GetDocument retrieves a document's materialized state without logs.
	GetDocument(id string) (*model.Document, error)

	// LoadDocument retrieves a document with its operation and merge logs.
	LoadDocument(id string) (*model.Document, error)

	// LoadAll loads every persisted document with its logs.
	LoadAll() ([]*model.Document, error)

	// ListIDs returns all persisted document IDs ordered by ID.
	ListIDs() ([]string, error)

	// --- Operation log ---

	// ListOperations returns log entries with seq > sinceSeq.
	ListOperations(docID string, sinceSeq int64, limit int) ([]model.LogEntry, error)

	// CountOperations returns the number of persisted log entries.
	CountOperations(docID string) int64

	// --- Merge log ---

	// ListMergeEntries returns conflict-resolution audit records.
	ListMergeEntries(docID string) ([]model.MergeLogEntry, error)
}

// Compile-time check that *Store implements StoreInterface.
var _ StoreInterface = (*Store)(nil)
