package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdMerges(args []string) int {
	flags := flag.NewFlagSet("merges", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: plansync merges <doc> [--json]")
		return 1
	}

	entries, err := a.store.ListMergeEntries(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "plansync: merges: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"entries": entries, "count": len(entries)})
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("no resolved conflicts")
		return 0
	}
	for _, m := range entries {
		fmt.Printf("%s  %s beat %s (%s)\n", m.Path, m.WinningAuthor, m.LosingAuthor, m.Strategy)
		fmt.Printf("  kept %s (%s), discarded %s (%s)\n",
			m.WinningValue, m.WinningTimestamp.Format("15:04:05.000"),
			m.LosingValue, m.LosingTimestamp.Format("15:04:05.000"))
	}
	return 0
}
