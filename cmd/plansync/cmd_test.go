package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daviddao/plansync/pkg/engine"
	"github.com/daviddao/plansync/pkg/model"
	"github.com/daviddao/plansync/pkg/store"
	"github.com/daviddao/plansync/pkg/vclock"
)

// --- envOr tests ---

func TestEnvOr_EnvSet(t *testing.T) {
	t.Setenv("TEST_PS_ENV", "hello")
	if got := envOr("TEST_PS_ENV", "default"); got != "hello" {
		t.Fatalf("envOr with set env: got %q, want %q", got, "hello")
	}
}

func TestEnvOr_EnvUnset(t *testing.T) {
	if got := envOr("TEST_PS_UNSET_KEY_XYZ", "fallback"); got != "fallback" {
		t.Fatalf("envOr with unset env: got %q, want %q", got, "fallback")
	}
}

// --- resolveAuthor tests ---

func TestResolveAuthor_FlagValue(t *testing.T) {
	a := &app{author: "env-author"}
	got, err := a.resolveAuthor("flag-author")
	if err != nil || got != "flag-author" {
		t.Fatalf("resolveAuthor with flag: got %q, err=%v", got, err)
	}
}

func TestResolveAuthor_EnvFallback(t *testing.T) {
	a := &app{author: "env-author"}
	got, err := a.resolveAuthor("")
	if err != nil || got != "env-author" {
		t.Fatalf("resolveAuthor with env: got %q, err=%v", got, err)
	}
}

func TestResolveAuthor_NoAuthor(t *testing.T) {
	a := &app{}
	if _, err := a.resolveAuthor(""); err == nil {
		t.Fatal("resolveAuthor with no author should return error")
	}
}

// --- parseValue tests ---

func TestParseValue_JSON(t *testing.T) {
	if got := string(parseValue(`{"title":"Goal"}`)); got != `{"title":"Goal"}` {
		t.Fatalf("parseValue JSON object: got %s", got)
	}
	if got := string(parseValue("3")); got != "3" {
		t.Fatalf("parseValue number: got %s", got)
	}
}

func TestParseValue_BareString(t *testing.T) {
	if got := string(parseValue("Reading Plan")); got != `"Reading Plan"` {
		t.Fatalf("parseValue bare string: got %s", got)
	}
}

func TestParseValue_Empty(t *testing.T) {
	if got := parseValue(""); got != nil {
		t.Fatalf("parseValue empty: got %s, want nil", got)
	}
}

// --- fieldFlags tests ---

func TestFieldFlags_Set(t *testing.T) {
	f := fieldFlags{}
	if err := f.Set("title=Reading Plan"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := f.Set("count=3"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if f["title"] != "Reading Plan" {
		t.Fatalf("title = %v, want Reading Plan", f["title"])
	}
	if f["count"] != float64(3) {
		t.Fatalf("count = %v, want 3", f["count"])
	}
}

func TestFieldFlags_SetRejectsBareKey(t *testing.T) {
	f := fieldFlags{}
	if err := f.Set("title"); err == nil {
		t.Fatal("Set without = should return error")
	}
}

// --- command tests ---

func newTestApp(t *testing.T) *app {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &app{
		store:  s,
		docs:   engine.New(model.PlanSchema(), engine.DefaultConfig()),
		author: "test",
	}
}

func createTestDoc(t *testing.T, a *app) string {
	t.Helper()
	snap, err := a.docs.Create(map[string]any{
		"title":      "Reading Plan",
		"student_id": "S-100",
	}, "test")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := a.persist(snap.ID); err != nil {
		t.Fatalf("persist: %v", err)
	}
	return snap.ID
}

func TestCmdCreate(t *testing.T) {
	a := newTestApp(t)
	out := captureStdout(t, func() {
		code := a.cmdCreate([]string{"--field", "title=Reading Plan", "--field", "student_id=S-100"})
		if code != 0 {
			t.Fatalf("cmdCreate: expected exit 0, got %d", code)
		}
	})
	if !strings.Contains(out, "created") || !strings.Contains(out, "version 1") {
		t.Fatalf("cmdCreate output: got %q", out)
	}

	ids, err := a.store.ListIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d persisted documents, want 1", len(ids))
	}
}

func TestCmdCreate_MissingRequiredField(t *testing.T) {
	a := newTestApp(t)
	code := a.cmdCreate([]string{"--field", "title=Only Title"})
	if code != 1 {
		t.Fatalf("cmdCreate without student_id: expected exit 1, got %d", code)
	}
}

func TestCmdApply_UpdatePersists(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)

	out := captureStdout(t, func() {
		code := a.cmdApply([]string{id, "update", "title", "--value", "Revised Plan"})
		if code != 0 {
			t.Fatalf("cmdApply: expected exit 0, got %d", code)
		}
	})
	if !strings.Contains(out, "version 2") {
		t.Fatalf("cmdApply output: got %q", out)
	}

	got, err := a.store.GetDocument(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fields["title"] != "Revised Plan" {
		t.Fatalf("persisted title = %v, want Revised Plan", got.Fields["title"])
	}
	if n := a.store.CountOperations(id); n != 1 {
		t.Fatalf("got %d persisted operations, want 1", n)
	}
}

func TestCmdApply_InsertWithPosition(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)

	code := a.cmdApply([]string{id, "insert", "goals", "--value", `{"title":"Fluency"}`, "--position", "0"})
	if code != 0 {
		t.Fatalf("cmdApply insert: expected exit 0, got %d", code)
	}

	snap, err := a.docs.Snapshot(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Collections["goals"]) != 1 {
		t.Fatalf("got %d goals, want 1", len(snap.Collections["goals"]))
	}
}

func TestCmdApply_UnknownField(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)
	code := a.cmdApply([]string{id, "update", "nonexistent", "--value", "x"})
	if code != 1 {
		t.Fatalf("cmdApply unknown field: expected exit 1, got %d", code)
	}
}

func TestCmdMerge_CleanBatch(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)
	snap, _ := a.docs.Snapshot(id)

	req := mergeRequest{
		VectorClock: snap.Clock,
		Operations: []model.Operation{
			{ID: "op-a", Kind: model.OpUpdate, Path: "title",
				Value: json.RawMessage(`"Merged Plan"`), Author: "t2", Timestamp: time.Now().UTC()},
		},
	}
	body, _ := json.Marshal(req)
	path := filepath.Join(t.TempDir(), "batch.json")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}

	out := captureStdout(t, func() {
		code := a.cmdMerge([]string{id, "--file", path})
		if code != 0 {
			t.Fatalf("cmdMerge: expected exit 0, got %d", code)
		}
	})
	if !strings.Contains(out, "merged 1/1") {
		t.Fatalf("cmdMerge output: got %q", out)
	}

	got, err := a.store.GetDocument(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fields["title"] != "Merged Plan" {
		t.Fatalf("persisted title = %v, want Merged Plan", got.Fields["title"])
	}
}

func TestCmdMerge_ConflictExitCode(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)

	req := mergeRequest{
		VectorClock: vclock.Clock{"test": 1},
		Operations: []model.Operation{
			{ID: "op-bad", Kind: model.OpUpdate, Path: "nonexistent",
				Value: json.RawMessage(`"x"`), Author: "t2", Timestamp: time.Now().UTC()},
		},
	}
	body, _ := json.Marshal(req)
	path := filepath.Join(t.TempDir(), "batch.json")
	os.WriteFile(path, body, 0644)

	out := captureStdout(t, func() {
		code := a.cmdMerge([]string{id, "--file", path})
		if code != 2 {
			t.Fatalf("cmdMerge with conflict: expected exit 2, got %d", code)
		}
	})
	if !strings.Contains(out, "conflicted op-bad") {
		t.Fatalf("cmdMerge output should list conflicted op, got %q", out)
	}
}

func TestCmdShow(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)

	out := captureStdout(t, func() {
		code := a.cmdShow([]string{id})
		if code != 0 {
			t.Fatalf("cmdShow: expected exit 0, got %d", code)
		}
	})
	if !strings.Contains(out, "Reading Plan") || !strings.Contains(out, "version=1") {
		t.Fatalf("cmdShow output: got %q", out)
	}
}

func TestCmdShow_JSON(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)

	out := captureStdout(t, func() {
		code := a.cmdShow([]string{id, "--json"})
		if code != 0 {
			t.Fatalf("cmdShow JSON: expected exit 0, got %d", code)
		}
	})
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("cmdShow JSON output not parseable: %v\n%s", err, out)
	}
	if snap.ID != id {
		t.Fatalf("cmdShow JSON ID = %q, want %q", snap.ID, id)
	}
}

func TestCmdShow_NotFound(t *testing.T) {
	a := newTestApp(t)
	if code := a.cmdShow([]string{"nonexistent"}); code != 1 {
		t.Fatalf("cmdShow nonexistent: expected exit 1, got %d", code)
	}
}

func TestCmdLog(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)
	a.cmdApply([]string{id, "update", "title", "--value", "Second"})

	out := captureStdout(t, func() {
		code := a.cmdLog([]string{id})
		if code != 0 {
			t.Fatalf("cmdLog: expected exit 0, got %d", code)
		}
	})
	if !strings.Contains(out, "[seq=1]") || !strings.Contains(out, "update title") {
		t.Fatalf("cmdLog output: got %q", out)
	}
}

func TestCmdLog_Empty(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)
	out := captureStdout(t, func() { a.cmdLog([]string{id}) })
	if !strings.Contains(out, "no operations") {
		t.Fatalf("cmdLog on fresh doc: got %q", out)
	}
}

func TestCmdList(t *testing.T) {
	a := newTestApp(t)
	createTestDoc(t, a)
	createTestDoc(t, a)

	out := captureStdout(t, func() {
		code := a.cmdList(nil)
		if code != 0 {
			t.Fatalf("cmdList: expected exit 0, got %d", code)
		}
	})
	if strings.Count(out, "version=") != 2 {
		t.Fatalf("cmdList should show 2 documents, got %q", out)
	}
}

func TestCmdStatus(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)

	code := a.cmdStatus([]string{id, "approved"})
	if code != 0 {
		t.Fatalf("cmdStatus: expected exit 0, got %d", code)
	}

	got, err := a.store.GetDocument(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusApproved {
		t.Fatalf("persisted status = %q, want approved", got.Status)
	}
	// Status is the approval workflow's field, not an operation.
	if got.Version != 1 {
		t.Fatalf("status change moved version to %d, want 1", got.Version)
	}
}

func TestCmdStatus_Invalid(t *testing.T) {
	a := newTestApp(t)
	id := createTestDoc(t, a)
	if code := a.cmdStatus([]string{id, "frozen"}); code != 1 {
		t.Fatalf("cmdStatus invalid: expected exit 1, got %d", code)
	}
}

// --- persistence round trip across app instances ---

func TestReloadAcrossApps(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s1, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	a1 := &app{store: s1, docs: engine.New(model.PlanSchema(), engine.DefaultConfig()), author: "test"}
	id := createTestDoc(t, a1)
	if code := a1.cmdApply([]string{id, "update", "title", "--value", "Persisted"}); code != 0 {
		t.Fatal("cmdApply failed")
	}
	s1.Close()

	// Second invocation: fresh store and engine over the same database.
	s2, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	a2 := &app{store: s2, docs: engine.New(model.PlanSchema(), engine.DefaultConfig()), author: "test"}
	persisted, err := s2.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range persisted {
		a2.docs.Load(d)
	}

	snap, err := a2.docs.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot after reload: %v", err)
	}
	if snap.Fields["title"] != "Persisted" {
		t.Fatalf("reloaded title = %v, want Persisted", snap.Fields["title"])
	}
	if snap.Version != 2 {
		t.Fatalf("reloaded version = %d, want 2", snap.Version)
	}

	// The reloaded document keeps accepting operations with full history.
	if code := a2.cmdApply([]string{id, "update", "title", "--value", "Third"}); code != 0 {
		t.Fatal("cmdApply after reload failed")
	}
	snap, _ = a2.docs.Snapshot(id)
	if snap.Version != 3 {
		t.Fatalf("version after reload apply = %d, want 3", snap.Version)
	}
}

// --- Helpers ---

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}
