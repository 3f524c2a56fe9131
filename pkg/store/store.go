// Package store manages all SQLite persistence for plansync.
//
// The engine itself keeps documents in memory only; this package is the
// surrounding service's persistence adapter. It loads documents back into
// the engine at process start and saves a document's snapshot, operation
// log, and merge log after each successful mutation. SQLite in WAL mode
// keeps concurrent CLI invocations against the same database safe.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/daviddao/plansync/pkg/model"
	"github.com/daviddao/plansync/pkg/vclock"

	_ "modernc.org/sqlite"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations should use this to handle transient SQLite
// errors (BUSY, LOCKED, IOERR_SHORT_READ) under concurrent access.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		version     INTEGER NOT NULL,
		created_by  TEXT NOT NULL,
		fields      TEXT NOT NULL,
		collections TEXT NOT NULL,
		clock       TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operations (
		doc_id     TEXT NOT NULL REFERENCES documents(id),
		seq        INTEGER NOT NULL,
		op_id      TEXT,
		kind       TEXT NOT NULL,
		path       TEXT NOT NULL,
		value      TEXT,
		position   INTEGER,
		author     TEXT NOT NULL,
		author_seq INTEGER NOT NULL DEFAULT 0,
		ts         TEXT NOT NULL,
		clock      TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		PRIMARY KEY (doc_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_operations_author ON operations(doc_id, author, seq);
	CREATE INDEX IF NOT EXISTS idx_operations_path ON operations(doc_id, path, seq);

	CREATE TABLE IF NOT EXISTS merge_log (
		doc_id         TEXT NOT NULL REFERENCES documents(id),
		idx            INTEGER NOT NULL,
		path           TEXT NOT NULL,
		winning_author TEXT NOT NULL,
		losing_author  TEXT NOT NULL,
		winning_value  TEXT,
		losing_value   TEXT,
		winning_ts     TEXT NOT NULL,
		losing_ts      TEXT NOT NULL,
		strategy       TEXT NOT NULL,
		resolved_at    TEXT NOT NULL,
		PRIMARY KEY (doc_id, idx)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

// SaveDocument persists a document's snapshot, operation log, and merge
// log in one transaction. Log rows are keyed by sequence, so re-saving a
// document only inserts entries the database has not seen yet; the
// persisted logs stay append-only across saves.
func (s *Store) SaveDocument(d *model.Document) error {
	fields, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields for %s: %w", d.ID, err)
	}
	collections, err := json.Marshal(d.Collections)
	if err != nil {
		return fmt.Errorf("marshal collections for %s: %w", d.ID, err)
	}
	clk, err := json.Marshal(d.Clock)
	if err != nil {
		return fmt.Errorf("marshal clock for %s: %w", d.ID, err)
	}

	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(
			`INSERT INTO documents (id, status, version, created_by, fields, collections, clock, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   status      = excluded.status,
			   version     = excluded.version,
			   fields      = excluded.fields,
			   collections = excluded.collections,
			   clock       = excluded.clock,
			   updated_at  = excluded.updated_at`,
			d.ID, string(d.Status), d.Version, d.CreatedBy, string(fields), string(collections),
			string(clk), d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}

		for _, e := range d.Log {
			entryClock, err := json.Marshal(e.Clock)
			if err != nil {
				return fmt.Errorf("marshal clock for entry %d: %w", e.Seq, err)
			}
			var pos any
			if e.Op.Position != nil {
				pos = *e.Op.Position
			}
			_, err = tx.Exec(
				`INSERT OR IGNORE INTO operations
				   (doc_id, seq, op_id, kind, path, value, position, author, author_seq, ts, clock, applied_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				d.ID, e.Seq, e.Op.ID, string(e.Op.Kind), e.Op.Path, nullableJSON(e.Op.Value), pos,
				e.Op.Author, e.Op.Seq, e.Op.Timestamp.Format(time.RFC3339Nano),
				string(entryClock), e.AppliedAt.Format(time.RFC3339Nano),
			)
			if err != nil {
				return fmt.Errorf("insert operation %d: %w", e.Seq, err)
			}
		}

		for i, m := range d.MergeLog {
			_, err = tx.Exec(
				`INSERT OR IGNORE INTO merge_log
				   (doc_id, idx, path, winning_author, losing_author, winning_value, losing_value,
				    winning_ts, losing_ts, strategy, resolved_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				d.ID, i+1, m.Path, m.WinningAuthor, m.LosingAuthor,
				nullableJSON(m.WinningValue), nullableJSON(m.LosingValue),
				m.WinningTimestamp.Format(time.RFC3339Nano), m.LosingTimestamp.Format(time.RFC3339Nano),
				m.Strategy, m.ResolvedAt.Format(time.RFC3339Nano),
			)
			if err != nil {
				return fmt.Errorf("insert merge entry %d: %w", i+1, err)
			}
		}

		return tx.Commit()
	})
}

// GetDocument retrieves a document's materialized state without its logs.
func (s *Store) GetDocument(id string) (*model.Document, error) {
	row := s.db.QueryRow(
		`SELECT id, status, version, created_by, fields, collections, clock, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	)
	return scanDocument(row)
}

// LoadDocument reassembles a full document, state plus operation log plus
// merge log, ready to hand back to the engine.
func (s *Store) LoadDocument(id string) (*model.Document, error) {
	d, err := s.GetDocument(id)
	if err != nil {
		return nil, err
	}
	if d.Log, err = s.ListOperations(id, 0, 0); err != nil {
		return nil, fmt.Errorf("load operations for %s: %w", id, err)
	}
	if d.MergeLog, err = s.ListMergeEntries(id); err != nil {
		return nil, fmt.Errorf("load merge log for %s: %w", id, err)
	}
	return d, nil
}

// LoadAll loads every persisted document with its logs, ordered by ID.
func (s *Store) LoadAll() ([]*model.Document, error) {
	ids, err := s.ListIDs()
	if err != nil {
		return nil, err
	}
	docs := make([]*model.Document, 0, len(ids))
	for _, id := range ids {
		d, err := s.LoadDocument(id)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// ListIDs returns every persisted document ID in lexicographic order.
func (s *Store) ListIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanDocument(row *sql.Row) (*model.Document, error) {
	var d model.Document
	var status, fields, collections, clk, createdStr, updatedStr string
	if err := row.Scan(&d.ID, &status, &d.Version, &d.CreatedBy,
		&fields, &collections, &clk, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	d.Status = model.Status(status)
	if err := json.Unmarshal([]byte(fields), &d.Fields); err != nil {
		return nil, fmt.Errorf("parse fields for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(collections), &d.Collections); err != nil {
		return nil, fmt.Errorf("parse collections for %s: %w", d.ID, err)
	}
	d.Clock = vclock.New()
	if err := json.Unmarshal([]byte(clk), &d.Clock); err != nil {
		return nil, fmt.Errorf("parse clock for %s: %w", d.ID, err)
	}
	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", d.ID, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", d.ID, err)
	}
	return &d, nil
}

// ---------------------------------------------------------------------------
// Operation log
// ---------------------------------------------------------------------------

// ListOperations returns log entries with seq > sinceSeq in application
// order. A limit of 0 means unbounded.
func (s *Store) ListOperations(docID string, sinceSeq int64, limit int) ([]model.LogEntry, error) {
	q := `SELECT seq, op_id, kind, path, value, position, author, author_seq, ts, clock, applied_at
	      FROM operations WHERE doc_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{docID, sinceSeq}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var opID, value sql.NullString
		var pos sql.NullInt64
		var kind, tsStr, clockStr, appliedStr string
		if err := rows.Scan(&e.Seq, &opID, &kind, &e.Op.Path, &value, &pos,
			&e.Op.Author, &e.Op.Seq, &tsStr, &clockStr, &appliedStr); err != nil {
			return nil, err
		}
		e.Op.ID = opID.String
		e.Op.Kind = model.OperationKind(kind)
		if value.Valid {
			e.Op.Value = json.RawMessage(value.String)
		}
		if pos.Valid {
			p := int(pos.Int64)
			e.Op.Position = &p
		}
		if e.Op.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr); err != nil {
			return nil, fmt.Errorf("parse ts for operation %d: %w", e.Seq, err)
		}
		e.Clock = vclock.New()
		if err := json.Unmarshal([]byte(clockStr), &e.Clock); err != nil {
			return nil, fmt.Errorf("parse clock for operation %d: %w", e.Seq, err)
		}
		if e.AppliedAt, err = time.Parse(time.RFC3339Nano, appliedStr); err != nil {
			return nil, fmt.Errorf("parse applied_at for operation %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountOperations returns how many log entries are persisted for a
// document. Errors collapse to zero; callers use this for display only.
func (s *Store) CountOperations(docID string) int64 {
	var count int64
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM operations WHERE doc_id = ?`, docID,
	).Scan(&count); err != nil {
		return 0
	}
	return count
}

// ---------------------------------------------------------------------------
// Merge log
// ---------------------------------------------------------------------------

// ListMergeEntries returns a document's conflict-resolution audit records
// in resolution order.
func (s *Store) ListMergeEntries(docID string) ([]model.MergeLogEntry, error) {
	rows, err := s.db.Query(
		`SELECT path, winning_author, losing_author, winning_value, losing_value,
		        winning_ts, losing_ts, strategy, resolved_at
		 FROM merge_log WHERE doc_id = ? ORDER BY idx ASC`, docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.MergeLogEntry
	for rows.Next() {
		var m model.MergeLogEntry
		var winVal, loseVal sql.NullString
		var winTS, loseTS, resolvedStr string
		if err := rows.Scan(&m.Path, &m.WinningAuthor, &m.LosingAuthor, &winVal, &loseVal,
			&winTS, &loseTS, &m.Strategy, &resolvedStr); err != nil {
			return nil, err
		}
		if winVal.Valid {
			m.WinningValue = json.RawMessage(winVal.String)
		}
		if loseVal.Valid {
			m.LosingValue = json.RawMessage(loseVal.String)
		}
		if m.WinningTimestamp, err = time.Parse(time.RFC3339Nano, winTS); err != nil {
			return nil, fmt.Errorf("parse winning_ts: %w", err)
		}
		if m.LosingTimestamp, err = time.Parse(time.RFC3339Nano, loseTS); err != nil {
			return nil, fmt.Errorf("parse losing_ts: %w", err)
		}
		if m.ResolvedAt, err = time.Parse(time.RFC3339Nano, resolvedStr); err != nil {
			return nil, fmt.Errorf("parse resolved_at: %w", err)
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

func nullableJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
