package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/plansync/pkg/engine"
	"github.com/daviddao/plansync/pkg/model"
	"github.com/daviddao/plansync/pkg/store"
)

const defaultDB = "plansync.db"

// app holds shared state for all CLI subcommands.
type app struct {
	store  *store.Store
	docs   *engine.DocumentStore
	author string // default author from PLANSYNC_AUTHOR
}

// newApp opens the database, builds the engine, and loads every persisted
// document into it. Each CLI invocation is a full load/mutate/persist
// cycle; the database is the only state shared between invocations.
func newApp() (*app, error) {
	dbPath := envOr("PLANSYNC_DB", defaultDB)
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", dbPath, err)
	}

	cfg := engine.DefaultConfig()
	if raw := os.Getenv("PLANSYNC_WINDOW"); raw != "" {
		w, err := time.ParseDuration(raw)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bad PLANSYNC_WINDOW %q: %w", raw, err)
		}
		cfg.LookbackWindow = w
	}
	if id := os.Getenv("PLANSYNC_SERVER_ID"); id != "" {
		cfg.ServerID = id
	}

	docs := engine.New(model.PlanSchema(), cfg)
	persisted, err := s.LoadAll()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("cannot load documents: %w", err)
	}
	for _, d := range persisted {
		docs.Load(d)
	}

	return &app{
		store:  s,
		docs:   docs,
		author: envOr("PLANSYNC_AUTHOR", ""),
	}, nil
}

// Close releases the database connection.
func (a *app) Close() { a.store.Close() }

// resolveAuthor returns the author ID from the flag (if non-empty),
// falling back to the PLANSYNC_AUTHOR environment variable.
func (a *app) resolveAuthor(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	if a.author != "" {
		return a.author, nil
	}
	return "", fmt.Errorf("no author ID: pass --author or set PLANSYNC_AUTHOR")
}

// persist writes the document (state plus logs) back to SQLite. Mutating
// commands call this after the engine accepts the change.
func (a *app) persist(docID string) error {
	d, err := a.docs.Export(docID)
	if err != nil {
		return err
	}
	return a.store.SaveDocument(d)
}

// parseValue interprets a flag value as JSON when it parses, otherwise as
// a bare string. Lets callers write --value 3 and --value Reading without
// shell-quoting JSON.
func parseValue(raw string) json.RawMessage {
	if raw == "" {
		return nil
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
