package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/plansync/pkg/model"
)

func newTestEngine(t *testing.T) *DocumentStore {
	t.Helper()
	return New(model.PlanSchema(), DefaultConfig())
}

func createPlan(t *testing.T, s *DocumentStore, author string) model.Snapshot {
	t.Helper()
	snap, err := s.Create(map[string]any{
		"title":      "Reading Support Plan",
		"student_id": "s-100",
	}, author)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return snap
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %v: %v", v, err)
	}
	return b
}

func update(t *testing.T, path string, v any, author string, ts time.Time) model.Operation {
	t.Helper()
	return model.Operation{Kind: model.OpUpdate, Path: path, Value: raw(t, v), Author: author, Timestamp: ts}
}

var baseTS = time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

func TestCreate(t *testing.T) {
	s := newTestEngine(t)
	snap := createPlan(t, s, "t1")
	if snap.ID == "" {
		t.Fatal("expected allocated document ID")
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d, want 1", snap.Version)
	}
	if snap.Clock.Get("t1") != 1 || len(snap.Clock) != 1 {
		t.Fatalf("clock = %v, want {t1:1}", snap.Clock)
	}
	if snap.Status != model.StatusDraft {
		t.Fatalf("status = %q, want draft", snap.Status)
	}
	if got := snap.Fields["title"]; got != "Reading Support Plan" {
		t.Fatalf("title = %v", got)
	}
	// Declared but unsupplied fields start at their defaults.
	if v, ok := snap.Fields["present_levels"]; !ok || v != nil {
		t.Fatalf("present_levels = %v (present=%v), want nil default", v, ok)
	}
	if goals, ok := snap.Collections["goals"]; !ok || len(goals) != 0 {
		t.Fatalf("goals = %v, want declared empty collection", goals)
	}
}

func TestCreate_MissingRequiredField(t *testing.T) {
	s := newTestEngine(t)
	_, err := s.Create(map[string]any{"title": "Plan"}, "t1")
	if CodeOf(err) != ErrCodeInvalidInitialState {
		t.Fatalf("got %v, want INVALID_INITIAL_STATE", err)
	}
}

func TestCreate_UndeclaredField(t *testing.T) {
	s := newTestEngine(t)
	_, err := s.Create(map[string]any{
		"title": "Plan", "student_id": "s-1", "iq_score": 120,
	}, "t1")
	if CodeOf(err) != ErrCodeInvalidInitialState {
		t.Fatalf("got %v, want INVALID_INITIAL_STATE", err)
	}
}

func TestSnapshot_NotFound(t *testing.T) {
	s := newTestEngine(t)
	_, err := s.Snapshot("nope")
	if !IsNotFound(err) {
		t.Fatalf("got %v, want NOT_FOUND", err)
	}
}

func TestSnapshot_DoesNotAliasLiveState(t *testing.T) {
	s := newTestEngine(t)
	snap := createPlan(t, s, "t1")
	snap.Fields["title"] = "tampered"
	again, err := s.Snapshot(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Fields["title"] != "Reading Support Plan" {
		t.Fatal("snapshot mutation leaked into live document")
	}
}

func TestCreate_DoesNotAliasCallerValues(t *testing.T) {
	s := newTestEngine(t)
	levels := map[string]any{"reading": "grade 2"}
	snap, err := s.Create(map[string]any{
		"title": "Plan", "student_id": "s-1", "present_levels": levels,
	}, "t1")
	if err != nil {
		t.Fatal(err)
	}
	levels["reading"] = "tampered"
	again, _ := s.Snapshot(snap.ID)
	got, ok := again.Fields["present_levels"].(map[string]any)
	if !ok || got["reading"] != "grade 2" {
		t.Fatalf("present_levels = %v, want caller mutation kept out", again.Fields["present_levels"])
	}
}

func TestSetStatus(t *testing.T) {
	s := newTestEngine(t)
	snap := createPlan(t, s, "t1")
	if err := s.SetStatus(snap.ID, model.StatusApproved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	again, _ := s.Snapshot(snap.ID)
	if again.Status != model.StatusApproved {
		t.Fatalf("status = %q, want approved", again.Status)
	}
	// Status is not an operation: neither log nor clock moves.
	if again.Version != 1 || again.Clock.Get("t1") != 1 {
		t.Fatalf("version/clock moved on SetStatus: v=%d clock=%v", again.Version, again.Clock)
	}
}

func TestList(t *testing.T) {
	s := newTestEngine(t)
	a := createPlan(t, s, "t1")
	b := createPlan(t, s, "t2")
	ids := s.List()
	if len(ids) != 2 {
		t.Fatalf("List: got %d ids, want 2", len(ids))
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen[a.ID] || !seen[b.ID] {
		t.Fatalf("List = %v, missing created ids", ids)
	}
}

func TestLoadExportRoundTrip(t *testing.T) {
	s := newTestEngine(t)
	snap := createPlan(t, s, "t1")
	if err := s.Apply(snap.ID, update(t, "present_levels", "X", "t1", baseTS)); err != nil {
		t.Fatal(err)
	}

	exported, err := s.Export(snap.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(exported.Log) != 1 {
		t.Fatalf("exported log length = %d, want 1", len(exported.Log))
	}

	other := newTestEngine(t)
	other.Load(exported)
	got, err := other.Snapshot(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fields["present_levels"] != "X" || got.Version != 2 {
		t.Fatalf("loaded document: present_levels=%v version=%d", got.Fields["present_levels"], got.Version)
	}
}

func TestExport_IsACopy(t *testing.T) {
	s := newTestEngine(t)
	snap := createPlan(t, s, "t1")
	exported, _ := s.Export(snap.ID)
	exported.Fields["title"] = "tampered"
	again, _ := s.Snapshot(snap.ID)
	if again.Fields["title"] != "Reading Support Plan" {
		t.Fatal("export mutation leaked into live document")
	}
}

func TestOnChange_FiresAfterApply(t *testing.T) {
	var mu sync.Mutex
	var changed []string
	cfg := DefaultConfig()
	cfg.OnChange = func(id string) {
		mu.Lock()
		changed = append(changed, id)
		mu.Unlock()
	}
	s := New(model.PlanSchema(), cfg)
	snap, err := s.Create(map[string]any{"title": "Plan", "student_id": "s-1"}, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(snap.ID, update(t, "title", "Plan v2", "t1", baseTS)); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changed) != 1 || changed[0] != snap.ID {
		t.Fatalf("OnChange calls = %v, want one for %s", changed, snap.ID)
	}
}

func TestConcurrentCreates(t *testing.T) {
	s := newTestEngine(t)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(map[string]any{
				"title": "Plan", "student_id": fmt.Sprintf("s-%d", i),
			}, fmt.Sprintf("t%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Create: %v", err)
		}
	}
	if got := len(s.List()); got != 16 {
		t.Fatalf("got %d documents, want 16", got)
	}
}

func TestConcurrentWritersToDifferentDocuments(t *testing.T) {
	s := newTestEngine(t)
	a := createPlan(t, s, "t1")
	b := createPlan(t, s, "t2")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Apply(a.ID, update(t, "present_levels", fmt.Sprintf("a%d", i), "t1", baseTS.Add(time.Duration(i))))
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = s.Apply(b.ID, update(t, "present_levels", fmt.Sprintf("b%d", i), "t2", baseTS.Add(time.Duration(i))))
		}(i)
	}
	wg.Wait()
	sa, _ := s.Snapshot(a.ID)
	sb, _ := s.Snapshot(b.ID)
	if sa.Version != 51 || sb.Version != 51 {
		t.Fatalf("versions = %d/%d, want 51/51", sa.Version, sb.Version)
	}
	if sa.Clock.Get("t1") != 51 || sb.Clock.Get("t2") != 51 {
		t.Fatalf("clocks = %v / %v", sa.Clock, sb.Clock)
	}
}
