package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdLog(args []string) int {
	flags := flag.NewFlagSet("log", flag.ContinueOnError)
	since := flags.Int64("since", 0, "fetch entries with seq > this")
	limit := flags.Int("limit", 50, "max entries to return")
	author := flags.String("author", "", "filter by author")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: plansync log <doc> [--since N] [--limit N] [--author ID]")
		return 1
	}
	docID := flags.Arg(0)

	entries, err := a.store.ListOperations(docID, *since, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plansync: log: %v\n", err)
		return 1
	}

	if *author != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Op.Author == *author {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"entries": entries, "count": len(entries)})
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("no operations")
		return 0
	}
	for _, e := range entries {
		switch {
		case len(e.Op.Value) > 0 && e.Op.Position != nil:
			fmt.Printf("[seq=%d] %s %s %s pos=%d %s\n",
				e.Seq, e.Op.Author, e.Op.Kind, e.Op.Path, *e.Op.Position, e.Op.Value)
		case len(e.Op.Value) > 0:
			fmt.Printf("[seq=%d] %s %s %s %s\n", e.Seq, e.Op.Author, e.Op.Kind, e.Op.Path, e.Op.Value)
		default:
			fmt.Printf("[seq=%d] %s %s %s\n", e.Seq, e.Op.Author, e.Op.Kind, e.Op.Path)
		}
	}
	return 0
}
