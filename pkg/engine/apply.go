package engine

import (
	"encoding/json"
	"time"

	"github.com/daviddao/plansync/pkg/model"
)

// Apply runs one operation through the single-writer path. It is
// all-or-nothing: on any error the document is left unchanged. On success
// the operation (or a merge operation synthesized from it) is appended to
// the log, the author's vector-clock component advances by one, and the
// document version advances by one.
func (s *DocumentStore) Apply(id string, op model.Operation) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	_, err = s.applyOp(st.doc, op)
	st.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(id)
	return nil
}

// applyOp validates and applies one operation to a locked document. The
// returned flag reports whether a structural conflict was resolved (in
// which case the appended log entry is a synthesized merge operation).
func (s *DocumentStore) applyOp(d *model.Document, op model.Operation) (bool, error) {
	switch op.Kind {
	case model.OpInsert, model.OpUpdate, model.OpDelete:
	default:
		return false, newError(ErrCodeUnknownOperationKind, op.Path,
			"unsupported operation kind %q", op.Kind)
	}

	if op.Seq > 0 && op.Seq != d.Clock.Get(op.Author)+1 {
		return false, newError(ErrCodeStaleOperation, op.Path,
			"author %s: operation implies predecessor count %d, document has recorded %d",
			op.Author, op.Seq-1, d.Clock.Get(op.Author))
	}

	p, err := s.schema.ResolvePath(op.Path)
	if err != nil {
		return false, newError(ErrCodeUnknownField, op.Path, "%v", err)
	}

	now := time.Now().UTC()
	switch op.Kind {
	case model.OpUpdate:
		return s.applyUpdate(d, op, p, now)
	case model.OpInsert:
		return false, s.applyInsert(d, op, p, now)
	default:
		return false, s.applyDelete(d, op, p, now)
	}
}

// applyUpdate overwrites a scalar field or replaces a whole collection
// element. A prior write to the same path by a different author inside the
// lookback window is a structural conflict: last-writer-wins decides, a
// merge operation carrying both payloads is what gets appended, and the
// losing effect is discarded. Same-author overwrites are causally ordered
// and never conflict.
func (s *DocumentStore) applyUpdate(d *model.Document, op model.Operation, p model.Path, now time.Time) (bool, error) {
	if p.Kind == model.PathCollection {
		return false, newError(ErrCodeUnknownField, op.Path,
			"update targets collection %q; address an element or a scalar field", p.Name)
	}
	if len(op.Value) == 0 {
		return false, newError(ErrCodeInvalidElement, op.Path, "update requires a value")
	}
	// Validate the payload before touching state so a structural loss is
	// still a well-formed operation.
	if err := s.checkUpdateValue(op, p); err != nil {
		return false, err
	}

	if prior := s.latestOverlap(d, p, op.Author, now); prior != nil {
		w := effectiveWrite(prior)
		wins := incomingWins(op, w)
		if wins {
			if err := s.setValue(d, op, p); err != nil {
				return false, err
			}
		}
		m := synthesizeMerge(op, w, wins)
		d.MergeLog = append(d.MergeLog, mergeLogEntry(op, w, wins, now))
		appendEntry(d, m, now)
		return true, nil
	}

	if err := s.setValue(d, op, p); err != nil {
		return false, err
	}
	appendEntry(d, op, now)
	return false, nil
}

func (s *DocumentStore) applyInsert(d *model.Document, op model.Operation, p model.Path, now time.Time) error {
	if p.Kind != model.PathCollection {
		return newError(ErrCodeUnknownField, op.Path,
			"insert targets %q; inserts address a collection", op.Path)
	}
	spec, _ := s.schema.Collection(p.Name)
	elem, err := decodeElement(op.Value, spec, op.Path)
	if err != nil {
		return err
	}

	coll := d.Collections[p.Name]
	// 0-based positions; absent means append, out-of-range clamps to
	// append because offline clients cannot know the current length.
	pos := len(coll)
	if op.Position != nil {
		pos = *op.Position
		if pos < 0 {
			pos = 0
		}
		if pos > len(coll) {
			pos = len(coll)
		}
	}
	coll = append(coll, nil)
	copy(coll[pos+1:], coll[pos:])
	coll[pos] = elem
	d.Collections[p.Name] = coll

	appendEntry(d, op, now)
	return nil
}

// applyDelete clears a scalar field to its schema default or removes an
// indexed collection element. Deleting a missing index is a no-op that
// still advances the vector clock, so replays stay idempotent.
func (s *DocumentStore) applyDelete(d *model.Document, op model.Operation, p model.Path, now time.Time) error {
	switch p.Kind {
	case model.PathField:
		f, _ := s.schema.Field(p.Name)
		d.Fields[p.Name] = f.Default
	case model.PathItem:
		idx := p.Index
		if op.Position != nil {
			idx = *op.Position
		}
		if coll := d.Collections[p.Name]; idx >= 0 && idx < len(coll) {
			d.Collections[p.Name] = append(coll[:idx], coll[idx+1:]...)
		}
	default:
		if op.Position == nil {
			return newError(ErrCodeUnknownField, op.Path,
				"delete of collection %q requires an index", p.Name)
		}
		if idx, coll := *op.Position, d.Collections[p.Name]; idx >= 0 && idx < len(coll) {
			d.Collections[p.Name] = append(coll[:idx], coll[idx+1:]...)
		}
	}
	appendEntry(d, op, now)
	return nil
}

// checkUpdateValue validates an update payload without mutating state.
func (s *DocumentStore) checkUpdateValue(op model.Operation, p model.Path) error {
	if p.Kind == model.PathField {
		var v any
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return newError(ErrCodeInvalidElement, op.Path, "malformed value: %v", err)
		}
		return nil
	}
	spec, _ := s.schema.Collection(p.Name)
	_, err := decodeElement(op.Value, spec, op.Path)
	return err
}

// setValue applies an update's effect: scalar overwrite or whole-element
// replacement. Replacing a missing element index is a no-op.
func (s *DocumentStore) setValue(d *model.Document, op model.Operation, p model.Path) error {
	if p.Kind == model.PathField {
		var v any
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return newError(ErrCodeInvalidElement, op.Path, "malformed value: %v", err)
		}
		d.Fields[p.Name] = v
		return nil
	}
	spec, _ := s.schema.Collection(p.Name)
	elem, err := decodeElement(op.Value, spec, op.Path)
	if err != nil {
		return err
	}
	if coll := d.Collections[p.Name]; p.Index < len(coll) {
		coll[p.Index] = elem
	}
	return nil
}

// decodeElement deserializes a collection element and checks the
// collection's required element fields.
func decodeElement(value json.RawMessage, spec model.CollectionSpec, path string) (map[string]any, error) {
	if len(value) == 0 {
		return nil, newError(ErrCodeInvalidElement, path, "element payload is missing")
	}
	var elem map[string]any
	if err := json.Unmarshal(value, &elem); err != nil {
		return nil, newError(ErrCodeInvalidElement, path, "malformed element: %v", err)
	}
	for _, req := range spec.Required {
		if v, ok := elem[req]; !ok || v == nil {
			return nil, newError(ErrCodeInvalidElement, path,
				"element is missing required field %q", req)
		}
	}
	return elem, nil
}

// appendEntry records an accepted operation: log append, author clock
// increment, and version bump happen together under the document lock.
func appendEntry(d *model.Document, op model.Operation, now time.Time) {
	d.Clock.Increment(op.Author)
	d.Log = append(d.Log, model.LogEntry{
		Seq:       int64(len(d.Log)) + 1,
		Op:        op,
		Clock:     d.Clock.Clone(),
		AppliedAt: now,
	})
	d.Version++
	d.UpdatedAt = now
}
