package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/plansync/pkg/model"
)

var validStatuses = map[model.Status]bool{
	model.StatusDraft:    true,
	model.StatusPending:  true,
	model.StatusApproved: true,
	model.StatusRejected: true,
	model.StatusExpired:  true,
}

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: plansync status <doc> <draft|pending|approved|rejected|expired>")
		return 1
	}
	docID := flags.Arg(0)
	status := model.Status(flags.Arg(1))
	if !validStatuses[status] {
		fmt.Fprintf(os.Stderr, "plansync: status: unknown status %q\n", flags.Arg(1))
		return 1
	}

	if err := a.docs.SetStatus(docID, status); err != nil {
		fmt.Fprintf(os.Stderr, "plansync: status: %v\n", err)
		return 1
	}
	if err := a.persist(docID); err != nil {
		fmt.Fprintf(os.Stderr, "plansync: status: persist: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"id": docID, "status": status})
	} else {
		fmt.Printf("%s status=%s\n", docID, status)
	}
	return 0
}
