// Package engine implements the CRDT document-synchronization engine: the
// document store, the operation-application state machine, the concurrent-
// conflict resolver, and the offline batch sync coordinator.
//
// The engine is logically single-writer per document: each document's
// vector-clock increment, log append, and field mutation happen atomically
// under that document's lock, while writers to different documents proceed
// fully in parallel. Reads hand out deep-copied snapshots and never observe
// a partially applied operation.
//
// The engine persists nothing itself. Loading documents at process start
// and persisting them after each successful mutation is the surrounding
// service's job (see pkg/store).
package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/plansync/pkg/model"
	"github.com/daviddao/plansync/pkg/vclock"
)

// DefaultLookbackWindow bounds how far back in the operation log conflict
// detection looks. It is a tunable consistency window, not a protocol
// constant; deployments set it via Config.
const DefaultLookbackWindow = 5 * time.Minute

// DefaultServerID is the vector-clock component the sync coordinator
// increments on every merge so clients can distinguish "no new info" from
// "server has moved on".
const DefaultServerID = "server"

// Config carries the engine's tunables.
type Config struct {
	// LookbackWindow bounds concurrency detection to recent log entries.
	LookbackWindow time.Duration

	// ServerID names the server-side vector-clock component.
	ServerID string

	// OnChange, if set, is invoked after every successful Apply/MergeBatch,
	// outside the document's atomic section. It is fire-and-forget: the
	// engine ignores anything the callback does, and a slow or failing
	// callback never rolls back an accepted operation.
	OnChange func(docID string)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		LookbackWindow: DefaultLookbackWindow,
		ServerID:       DefaultServerID,
	}
}

// DocumentStore owns the live materialized documents, indexed by ID.
// All mutation goes through Apply and MergeBatch, keeping a single path
// through which invariants are checked. Retention is the caller's concern:
// the store holds exactly the documents loaded into it and never evicts.
type DocumentStore struct {
	schema model.Schema
	cfg    Config

	mu   sync.RWMutex
	docs map[string]*docState
}

// docState pairs a document with its writer lock. The lock serializes all
// mutation to the document; snapshot reads take it shared.
type docState struct {
	mu  sync.RWMutex
	doc *model.Document
}

// New creates a DocumentStore for documents with the given layout.
func New(schema model.Schema, cfg Config) *DocumentStore {
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = DefaultLookbackWindow
	}
	if cfg.ServerID == "" {
		cfg.ServerID = DefaultServerID
	}
	return &DocumentStore{
		schema: schema,
		cfg:    cfg,
		docs:   make(map[string]*docState),
	}
}

// Schema returns the document layout the store validates against.
func (s *DocumentStore) Schema() model.Schema { return s.schema }

// Create allocates a new document with the supplied initial field values,
// version 1, and a vector clock of {author: 1}. Every declared field
// starts at its schema default; collections start empty. Missing required
// fields and undeclared fields are rejected.
func (s *DocumentStore) Create(fields map[string]any, author string) (model.Snapshot, error) {
	for name := range fields {
		if _, ok := s.schema.Field(name); !ok {
			return model.Snapshot{}, newError(ErrCodeInvalidInitialState, name,
				"initial state names undeclared field %q", name)
		}
	}
	for _, f := range s.schema.Fields {
		if f.Required {
			if v, ok := fields[f.Name]; !ok || v == nil {
				return model.Snapshot{}, newError(ErrCodeInvalidInitialState, f.Name,
					"required field %q is missing", f.Name)
			}
		}
	}

	now := time.Now().UTC()
	d := &model.Document{
		ID:          uuid.NewString(),
		Status:      model.StatusDraft,
		Fields:      make(map[string]any, len(s.schema.Fields)),
		Collections: make(map[string][]map[string]any, len(s.schema.Collections)),
		Version:     1,
		Clock:       vclock.Clock{author: 1},
		CreatedBy:   author,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, f := range s.schema.Fields {
		d.Fields[f.Name] = f.Default
	}
	// Copy inbound values so the creator keeps no handle into the
	// document once it is installed.
	for name, v := range fields {
		d.Fields[name] = model.CopyValue(v)
	}
	for _, c := range s.schema.Collections {
		d.Collections[c.Name] = nil
	}

	s.mu.Lock()
	s.docs[d.ID] = &docState{doc: d}
	s.mu.Unlock()
	return d.Snapshot(), nil
}

// Load installs a previously persisted document, taking ownership of it.
// Used by the surrounding service to populate the store at process start.
func (s *DocumentStore) Load(d *model.Document) {
	if d.Fields == nil {
		d.Fields = make(map[string]any)
	}
	if d.Collections == nil {
		d.Collections = make(map[string][]map[string]any)
	}
	if d.Clock == nil {
		d.Clock = vclock.New()
	}
	s.mu.Lock()
	s.docs[d.ID] = &docState{doc: d}
	s.mu.Unlock()
}

// Snapshot returns a read-only materialized view of the document.
func (s *DocumentStore) Snapshot(id string) (model.Snapshot, error) {
	st, err := s.state(id)
	if err != nil {
		return model.Snapshot{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.doc.Snapshot(), nil
}

// Export returns a deep copy of the document including its operation log
// and merge log, for the persistence layer.
func (s *DocumentStore) Export(id string) (*model.Document, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.doc.Clone(), nil
}

// List returns the IDs of all loaded documents, sorted.
func (s *DocumentStore) List() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SetStatus stores the terminal workflow status on a document. This is the
// external approval workflow's hook, not an operation: it touches neither
// the log nor the clock.
func (s *DocumentStore) SetStatus(id string, status model.Status) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.doc.Status = status
	st.doc.UpdatedAt = time.Now().UTC()
	st.mu.Unlock()
	return nil
}

func (s *DocumentStore) state(id string) (*docState, error) {
	s.mu.RLock()
	st, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, newError(ErrCodeNotFound, "", "document %q not found", id)
	}
	return st, nil
}

func (s *DocumentStore) notify(id string) {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(id)
	}
}
