package engine

import (
	"fmt"
	"time"

	"github.com/daviddao/plansync/pkg/model"
	"github.com/daviddao/plansync/pkg/vclock"
)

// ConflictRecord reports one batch operation that did not take effect:
// either a concurrent write it lost to, or a per-operation error. A bad
// operation never aborts the rest of its batch.
type ConflictRecord struct {
	OpID   string `json:"op_id"`
	Path   string `json:"path,omitempty"`
	Reason string `json:"reason"`
}

// MergeResult is the outcome of a batch merge. Partial success is the
// normal outcome: conflicts are a first-class result of offline
// collaboration, not a failure.
type MergeResult struct {
	// Accepted lists the IDs of incoming operations that took effect,
	// including those applied as synthesized merges.
	Accepted []string `json:"accepted"`

	// Conflicted lists incoming operations that did not take effect.
	Conflicted []ConflictRecord `json:"conflicted"`

	// ServerOperations carries the operations the client is missing: log
	// entries its submitted clock had not seen, plus every merge operation
	// synthesized during this call.
	ServerOperations []model.Operation `json:"server_operations,omitempty"`

	// UpdatedClock is the clock the client should adopt. It strictly
	// dominates the submitted clock: component-wise maximum of the client
	// and document clocks, plus a bump of the server-side component.
	UpdatedClock vclock.Clock `json:"updated_vector_clock"`

	// ConflictsResolved counts the conflicts resolved during this call,
	// in either direction.
	ConflictsResolved int `json:"conflicts_resolved_count"`
}

// ConflictedIDs returns just the operation IDs from Conflicted.
func (r *MergeResult) ConflictedIDs() []string {
	ids := make([]string, len(r.Conflicted))
	for i, c := range r.Conflicted {
		ids[i] = c.OpID
	}
	return ids
}

// MergeBatch is the entry point for disconnected clients reconnecting: a
// batch of locally made operations plus the client's last-known vector
// clock. Operations are processed in the order supplied; each is applied,
// resolved against a concurrent historical write, or recorded as
// conflicted, independently of the rest. The whole batch runs under the
// document's writer lock, so readers never observe a half-merged batch.
func (s *DocumentStore) MergeBatch(id string, clientClock vclock.Clock, ops []model.Operation) (*MergeResult, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	if clientClock == nil {
		clientClock = vclock.New()
	}

	st.mu.Lock()
	d := st.doc
	res := &MergeResult{}

	// Everything the client's clock had not seen, as of batch start.
	for i := range d.Log {
		if !clientClock.Dominates(d.Log[i].Clock) {
			res.ServerOperations = append(res.ServerOperations, d.Log[i].Op)
		}
	}

	now := time.Now().UTC()
	for i, op := range ops {
		opID := op.ID
		if opID == "" {
			opID = fmt.Sprintf("op-%d", i+1)
		}

		if op.Seq > 0 && op.Seq != d.Clock.Get(op.Author)+1 {
			res.Conflicted = append(res.Conflicted, ConflictRecord{
				OpID: opID, Path: op.Path,
				Reason: fmt.Sprintf("stale: author %s implies predecessor count %d, document has %d",
					op.Author, op.Seq-1, d.Clock.Get(op.Author)),
			})
			continue
		}

		if entry := s.detectConcurrent(d, op, clientClock, now); entry != nil {
			s.resolveConcurrent(d, op, opID, entry, now, res)
			continue
		}

		resolved, aerr := s.applyOp(d, op)
		if aerr != nil {
			res.Conflicted = append(res.Conflicted, ConflictRecord{
				OpID: opID, Path: op.Path, Reason: aerr.Error(),
			})
			continue
		}
		res.Accepted = append(res.Accepted, opID)
		if resolved {
			// The appended entry is the merge applyOp synthesized.
			res.ServerOperations = append(res.ServerOperations, d.Log[len(d.Log)-1].Op)
			res.ConflictsResolved++
		}
	}

	updated := clientClock.Clone()
	updated.Merge(d.Clock)
	updated.Increment(s.cfg.ServerID)
	res.UpdatedClock = updated
	st.mu.Unlock()

	s.notify(id)
	return res, nil
}

// detectConcurrent finds a historical write the incoming update genuinely
// raced with: vector clocks concurrent and overlapping state, inside the
// lookback window. Non-update kinds and unresolvable paths fall through to
// the regular apply path, which produces the proper validation error.
func (s *DocumentStore) detectConcurrent(d *model.Document, op model.Operation, clientClock vclock.Clock, now time.Time) *model.LogEntry {
	if op.Kind != model.OpUpdate {
		return nil
	}
	p, err := s.schema.ResolvePath(op.Path)
	if err != nil || p.Kind == model.PathCollection {
		return nil
	}
	entry := s.concurrentOverlap(d, p, clientClock, now)
	if entry != nil && effectiveWrite(entry).author == op.Author {
		// The author racing with their own earlier write is a causally
		// ordered overwrite, not a conflict.
		return nil
	}
	return entry
}

// resolveConcurrent settles a vector-clock conflict. If the incoming
// operation wins, a merge operation carrying both payloads is applied and
// returned to the client; if it loses, the document is untouched and the
// operation is reported as conflicted. Either way the resolution is
// recorded in the merge log.
func (s *DocumentStore) resolveConcurrent(d *model.Document, op model.Operation, opID string, entry *model.LogEntry, now time.Time, res *MergeResult) {
	w := effectiveWrite(entry)
	if !incomingWins(op, w) {
		d.MergeLog = append(d.MergeLog, mergeLogEntry(op, w, false, now))
		res.Conflicted = append(res.Conflicted, ConflictRecord{
			OpID: opID, Path: op.Path,
			Reason: fmt.Sprintf("concurrent write superseded by %s", w.author),
		})
		res.ConflictsResolved++
		return
	}

	p, _ := s.schema.ResolvePath(op.Path)
	if err := s.checkUpdateValue(op, p); err != nil {
		res.Conflicted = append(res.Conflicted, ConflictRecord{
			OpID: opID, Path: op.Path, Reason: err.Error(),
		})
		return
	}
	if err := s.setValue(d, op, p); err != nil {
		res.Conflicted = append(res.Conflicted, ConflictRecord{
			OpID: opID, Path: op.Path, Reason: err.Error(),
		})
		return
	}
	m := synthesizeMerge(op, w, true)
	d.MergeLog = append(d.MergeLog, mergeLogEntry(op, w, true, now))
	appendEntry(d, m, now)
	res.Accepted = append(res.Accepted, opID)
	res.ServerOperations = append(res.ServerOperations, m)
	res.ConflictsResolved++
}
