package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
)

func (a *app) cmdShow(args []string) int {
	flags := flag.NewFlagSet("show", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: plansync show <doc> [--json]")
		return 1
	}

	snap, err := a.docs.Snapshot(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "plansync: show: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(snap)
		return 0
	}

	fmt.Printf("%s  version=%d  status=%s  by=%s\n", snap.ID, snap.Version, snap.Status, snap.CreatedBy)
	fmt.Printf("clock: %v\n", snap.Clock)

	names := make([]string, 0, len(snap.Fields))
	for name := range snap.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-16s %v\n", name, snap.Fields[name])
	}

	colls := make([]string, 0, len(snap.Collections))
	for name := range snap.Collections {
		colls = append(colls, name)
	}
	sort.Strings(colls)
	for _, name := range colls {
		fmt.Printf("  %s (%d):\n", name, len(snap.Collections[name]))
		for i, el := range snap.Collections[name] {
			fmt.Printf("    [%d] %v\n", i, el)
		}
	}
	return 0
}
