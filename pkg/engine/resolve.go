package engine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/plansync/pkg/model"
	"github.com/daviddao/plansync/pkg/vclock"
)

// write is the effective value-setting write an operation log entry
// represents. For a merge operation it is the recorded winner, so a later
// conflict on the same path resolves against the value that actually
// survived, not against the operation that happened to trigger the merge.
type write struct {
	author    string
	timestamp time.Time
	value     json.RawMessage
}

// effectiveWrite extracts the write a log entry represents.
func effectiveWrite(e *model.LogEntry) write {
	if e.Op.Kind == model.OpMerge {
		var p model.MergePayload
		if err := json.Unmarshal(e.Op.Value, &p); err == nil {
			return write{author: p.WinningAuthor, timestamp: p.WinningTimestamp, value: p.WinningValue}
		}
	}
	return write{author: e.Op.Author, timestamp: e.Op.Timestamp, value: e.Op.Value}
}

// incomingWins applies the last-writer-wins rule between an incoming
// operation and a prior write.
func incomingWins(op model.Operation, w write) bool {
	return vclock.LastWriterWins(op.Timestamp, op.Author, w.timestamp, w.author)
}

// latestOverlap returns the most recent value-setting log entry on the
// same path inside the lookback window when its effective author differs
// from the incoming one, or nil. Resolution is checked against the latest
// prior write only: anything older was already superseded, so once the
// incoming author's own write sits on top there is nothing to conflict
// with. Inserts and deletes never participate: inserts are additive and
// deletes are idempotent no-ops when their target is already gone.
func (s *DocumentStore) latestOverlap(d *model.Document, p model.Path, author string, now time.Time) *model.LogEntry {
	canonical := p.String()
	for i := len(d.Log) - 1; i >= 0; i-- {
		e := &d.Log[i]
		if now.Sub(e.AppliedAt) > s.cfg.LookbackWindow {
			break
		}
		if e.Op.Kind != model.OpUpdate && e.Op.Kind != model.OpMerge {
			continue
		}
		if e.Op.Path != canonical {
			continue
		}
		if effectiveWrite(e).author == author {
			return nil
		}
		return e
	}
	return nil
}

// concurrentOverlap returns the most recent value-setting log entry on the
// same path whose clock snapshot is concurrent with the client's submitted
// clock, restricted to the lookback window. This is the batch path's
// vector-clock detection: the historical write and the client's edit were
// made without knowledge of each other.
func (s *DocumentStore) concurrentOverlap(d *model.Document, p model.Path, clientClock vclock.Clock, now time.Time) *model.LogEntry {
	canonical := p.String()
	for i := len(d.Log) - 1; i >= 0; i-- {
		e := &d.Log[i]
		if now.Sub(e.AppliedAt) > s.cfg.LookbackWindow {
			break
		}
		if e.Op.Kind != model.OpUpdate && e.Op.Kind != model.OpMerge {
			continue
		}
		if e.Op.Path != canonical {
			continue
		}
		if clientClock.Concurrent(e.Clock) {
			return e
		}
	}
	return nil
}

// synthesizeMerge builds the merge operation appended in place of a
// conflicting incoming operation. Its payload records both competing
// values and the resolution, so replaying the log reproduces the same
// outcome without re-running detection.
func synthesizeMerge(op model.Operation, w write, wins bool) model.Operation {
	payload := model.MergePayload{
		WinningValue:     op.Value,
		LosingValue:      w.value,
		WinningAuthor:    op.Author,
		LosingAuthor:     w.author,
		WinningTimestamp: op.Timestamp,
		LosingTimestamp:  w.timestamp,
		Strategy:         model.StrategyLastWriterWins,
	}
	if !wins {
		payload.WinningValue, payload.LosingValue = w.value, op.Value
		payload.WinningAuthor, payload.LosingAuthor = w.author, op.Author
		payload.WinningTimestamp, payload.LosingTimestamp = w.timestamp, op.Timestamp
	}
	raw, _ := json.Marshal(payload)
	return model.Operation{
		ID:        uuid.NewString(),
		Kind:      model.OpMerge,
		Path:      op.Path,
		Value:     raw,
		Author:    op.Author,
		Timestamp: op.Timestamp,
	}
}

// mergeLogEntry builds the audit record for a resolved conflict.
func mergeLogEntry(op model.Operation, w write, wins bool, now time.Time) model.MergeLogEntry {
	e := model.MergeLogEntry{
		Path:             op.Path,
		WinningAuthor:    op.Author,
		LosingAuthor:     w.author,
		WinningValue:     op.Value,
		LosingValue:      w.value,
		WinningTimestamp: op.Timestamp,
		LosingTimestamp:  w.timestamp,
		Strategy:         model.StrategyLastWriterWins,
		ResolvedAt:       now,
	}
	if !wins {
		e.WinningAuthor, e.LosingAuthor = w.author, op.Author
		e.WinningValue, e.LosingValue = w.value, op.Value
		e.WinningTimestamp, e.LosingTimestamp = w.timestamp, op.Timestamp
	}
	return e
}
