package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdList(args []string) int {
	flags := flag.NewFlagSet("list", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	ids := a.docs.List()
	if *jsonOut {
		type row struct {
			ID      string `json:"id"`
			Version int64  `json:"version"`
			Status  string `json:"status"`
			Ops     int64  `json:"operations"`
		}
		rows := make([]row, 0, len(ids))
		for _, id := range ids {
			snap, err := a.docs.Snapshot(id)
			if err != nil {
				continue
			}
			rows = append(rows, row{
				ID: id, Version: snap.Version, Status: string(snap.Status),
				Ops: a.store.CountOperations(id),
			})
		}
		printJSON(map[string]interface{}{"documents": rows, "count": len(rows)})
		return 0
	}

	if len(ids) == 0 {
		fmt.Println("no documents")
		return 0
	}
	for _, id := range ids {
		snap, err := a.docs.Snapshot(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "plansync: list: %v\n", err)
			return 1
		}
		fmt.Printf("%s  version=%-4d status=%-9s ops=%d\n",
			id, snap.Version, snap.Status, a.store.CountOperations(id))
	}
	return 0
}
