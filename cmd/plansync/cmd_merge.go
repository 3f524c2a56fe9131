package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/daviddao/plansync/pkg/model"
	"github.com/daviddao/plansync/pkg/vclock"
)

// mergeRequest is the JSON body a reconnecting client submits: its
// buffered offline operations plus its last-known vector clock.
type mergeRequest struct {
	VectorClock vclock.Clock      `json:"vector_clock"`
	Operations  []model.Operation `json:"operations"`
}

func (a *app) cmdMerge(args []string) int {
	flags := flag.NewFlagSet("merge", flag.ContinueOnError)
	file := flags.String("file", "", "batch JSON file (default: stdin)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: plansync merge <doc> [--file F] [--json]  (batch JSON on stdin)")
		return 1
	}
	docID := flags.Arg(0)

	var raw []byte
	var err error
	if *file != "" {
		raw, err = os.ReadFile(*file)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "plansync: merge: read batch: %v\n", err)
		return 1
	}

	var req mergeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		fmt.Fprintf(os.Stderr, "plansync: merge: parse batch: %v\n", err)
		return 1
	}

	res, err := a.docs.MergeBatch(docID, req.VectorClock, req.Operations)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plansync: merge: %v\n", err)
		return 1
	}
	if err := a.persist(docID); err != nil {
		fmt.Fprintf(os.Stderr, "plansync: merge: persist: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(res)
	} else {
		fmt.Printf("merged %d/%d operations into %s (%d conflicts resolved)\n",
			len(res.Accepted), len(req.Operations), docID, res.ConflictsResolved)
		for _, c := range res.Conflicted {
			fmt.Printf("  conflicted %s (%s): %s\n", c.OpID, c.Path, c.Reason)
		}
		if len(res.ServerOperations) > 0 {
			fmt.Printf("  %d server operation(s) to fetch\n", len(res.ServerOperations))
		}
	}
	if len(res.Conflicted) > 0 {
		return 2
	}
	return 0
}
