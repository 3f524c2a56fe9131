// Package model defines the core domain types for plansync.
//
// Plansync reconciles concurrent edits to structured plan documents using
// two ideas:
//
//   - Vector clocks (Fidge 1988, Mattern 1989): per-author counters that
//     establish causal ordering. An edit made without knowledge of another
//     edit carries a clock concurrent with it, and concurrency — not
//     wall-clock time — is what marks a conflict.
//
//   - Last-writer-wins registers (Shapiro et al. 2011): concurrent writes
//     to the same field are resolved by the later author-supplied
//     timestamp, ties broken by author ID, so every replica converges to
//     the same value with no coordinator.
//
// A Document owns its vector clock, its append-only operation log, and its
// field/collection storage exclusively; all mutation flows through the
// engine's apply path.
package model

import (
	"encoding/json"
	"time"

	"github.com/daviddao/plansync/pkg/vclock"
)

// Status is the document's terminal workflow state. It is owned by the
// external approval workflow and merely stored here.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// OperationKind enumerates the edit kinds accepted from callers, plus the
// merge kind synthesized by the conflict resolver. Callers may not submit
// merge operations directly.
type OperationKind string

const (
	OpInsert OperationKind = "insert"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
	OpMerge  OperationKind = "merge"
)

// StrategyLastWriterWins names the only resolution strategy the engine
// applies; it is recorded on every synthesized merge so replayed logs are
// self-documenting.
const StrategyLastWriterWins = "last_writer_wins"

// Operation is an immutable, author-attributed edit request. Timestamp is
// assigned by the author's client at creation time and is used only for
// conflict tie-breaking, never for causal ordering. Seq, when non-zero,
// states which accepted operation from this author it must follow: an
// operation with Seq s is valid only when the document has recorded
// exactly s-1 operations from its author.
type Operation struct {
	ID        string          `json:"id,omitempty"`
	Kind      OperationKind   `json:"kind"`
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value,omitempty"`
	Position  *int            `json:"position,omitempty"`
	Author    string          `json:"author"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq,omitempty"`
}

// MergePayload is the value carried by a synthesized merge operation: both
// competing writes and the strategy that picked the winner.
type MergePayload struct {
	WinningValue     json.RawMessage `json:"winning_value,omitempty"`
	LosingValue      json.RawMessage `json:"losing_value,omitempty"`
	WinningAuthor    string          `json:"winning_author"`
	LosingAuthor     string          `json:"losing_author"`
	WinningTimestamp time.Time       `json:"winning_timestamp"`
	LosingTimestamp  time.Time       `json:"losing_timestamp"`
	Strategy         string          `json:"strategy"`
}

// LogEntry is one accepted operation in a document's append-only log,
// together with the document clock as of the moment it was applied. The
// clock snapshot is what batch concurrency detection compares a client's
// submitted clock against.
type LogEntry struct {
	Seq       int64        `json:"seq"`
	Op        Operation    `json:"op"`
	Clock     vclock.Clock `json:"clock"`
	AppliedAt time.Time    `json:"applied_at"`
}

// MergeLogEntry records a resolved conflict: which payload won, which
// lost, and the strategy applied. It is an audit record distinct from the
// operation log.
type MergeLogEntry struct {
	Path             string          `json:"path"`
	WinningAuthor    string          `json:"winning_author"`
	LosingAuthor     string          `json:"losing_author"`
	WinningValue     json.RawMessage `json:"winning_value,omitempty"`
	LosingValue      json.RawMessage `json:"losing_value,omitempty"`
	WinningTimestamp time.Time       `json:"winning_timestamp"`
	LosingTimestamp  time.Time       `json:"losing_timestamp"`
	Strategy         string          `json:"strategy"`
	ResolvedAt       time.Time       `json:"resolved_at"`
}

// Document is a mutable plan record addressed by an opaque identifier.
// Version equals the count of successfully applied operations since
// creation (creation itself counts as the first). The document exclusively
// owns its clock, log, and storage; nothing outside the engine's apply
// section holds a mutable reference to them.
type Document struct {
	ID          string                      `json:"id"`
	Status      Status                      `json:"status"`
	Fields      map[string]any              `json:"fields"`
	Collections map[string][]map[string]any `json:"collections"`
	Version     int64                       `json:"version"`
	Clock       vclock.Clock                `json:"clock"`
	CreatedBy   string                      `json:"created_by"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	Log         []LogEntry                  `json:"log"`
	MergeLog    []MergeLogEntry             `json:"merge_log,omitempty"`
}

// Snapshot is a read-only, fully materialized view of a document. All
// nested structures are deep copies; a snapshot never observes a
// partially applied operation and never aliases live document state.
type Snapshot struct {
	ID          string                      `json:"id"`
	Status      Status                      `json:"status"`
	Fields      map[string]any              `json:"fields"`
	Collections map[string][]map[string]any `json:"collections"`
	Version     int64                       `json:"version"`
	Clock       vclock.Clock                `json:"clock"`
	CreatedBy   string                      `json:"created_by"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// Snapshot returns a deep-copied materialized view of the document.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{
		ID:          d.ID,
		Status:      d.Status,
		Fields:      cloneFields(d.Fields),
		Collections: cloneCollections(d.Collections),
		Version:     d.Version,
		Clock:       d.Clock.Clone(),
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// Clone returns a deep copy of the document including its logs. Used to
// hand document state to the persistence layer without exposing live
// internals.
func (d *Document) Clone() *Document {
	out := &Document{
		ID:          d.ID,
		Status:      d.Status,
		Fields:      cloneFields(d.Fields),
		Collections: cloneCollections(d.Collections),
		Version:     d.Version,
		Clock:       d.Clock.Clone(),
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	out.Log = make([]LogEntry, len(d.Log))
	for i, e := range d.Log {
		e.Clock = e.Clock.Clone()
		out.Log[i] = e
	}
	out.MergeLog = append([]MergeLogEntry(nil), d.MergeLog...)
	return out
}

// CopyValue deep-copies a JSON-shaped value. Scalars are returned as is;
// maps and slices are copied recursively so the caller and the document
// never share mutable state.
func CopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = CopyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CopyValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = CopyValue(v)
	}
	return out
}

func cloneCollections(colls map[string][]map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(colls))
	for name, elems := range colls {
		copied := make([]map[string]any, len(elems))
		for i, el := range elems {
			m := make(map[string]any, len(el))
			for k, v := range el {
				m[k] = v
			}
			copied[i] = m
		}
		out[name] = copied
	}
	return out
}
