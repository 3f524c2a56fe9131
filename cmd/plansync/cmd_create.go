package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
)

// fieldFlags collects repeated --field k=v pairs.
type fieldFlags map[string]any

func (f fieldFlags) String() string { return fmt.Sprintf("%v", map[string]any(f)) }

func (f fieldFlags) Set(raw string) error {
	k, v, ok := strings.Cut(raw, "=")
	if !ok {
		return fmt.Errorf("want k=v, got %q", raw)
	}
	var parsed any
	if err := json.Unmarshal(parseValue(v), &parsed); err != nil {
		return err
	}
	f[k] = parsed
	return nil
}

func (a *app) cmdCreate(args []string) int {
	flags := flag.NewFlagSet("create", flag.ContinueOnError)
	fields := fieldFlags{}
	flags.Var(fields, "field", "initial field value as k=v (repeatable)")
	author := flags.String("author", "", "creating author ID")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	authorID, err := a.resolveAuthor(*author)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plansync: %v\n", err)
		return 1
	}

	snap, err := a.docs.Create(fields, authorID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plansync: create: %v\n", err)
		return 1
	}
	if err := a.persist(snap.ID); err != nil {
		fmt.Fprintf(os.Stderr, "plansync: create: persist: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(snap)
	} else {
		fmt.Printf("created %s (version %d, author %s)\n", snap.ID, snap.Version, authorID)
	}
	return 0
}
