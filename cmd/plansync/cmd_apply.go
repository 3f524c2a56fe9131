package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/plansync/pkg/model"
)

func (a *app) cmdApply(args []string) int {
	flags := flag.NewFlagSet("apply", flag.ContinueOnError)
	value := flags.String("value", "", "operation value (JSON or bare string)")
	position := flags.Int("position", -1, "element position (-1 = unset)")
	seq := flags.Int64("seq", 0, "author sequence for replay detection (0 = unset)")
	author := flags.String("author", "", "author ID")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 3 {
		fmt.Fprintln(os.Stderr, "usage: plansync apply <doc> <insert|update|delete> <path> [--value V] [--position N]")
		return 1
	}

	authorID, err := a.resolveAuthor(*author)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plansync: %v\n", err)
		return 1
	}

	docID := flags.Arg(0)
	op := model.Operation{
		Kind:      model.OperationKind(flags.Arg(1)),
		Path:      flags.Arg(2),
		Value:     parseValue(*value),
		Author:    authorID,
		Timestamp: time.Now().UTC(),
		Seq:       *seq,
	}
	if *position >= 0 {
		op.Position = position
	}

	if err := a.docs.Apply(docID, op); err != nil {
		fmt.Fprintf(os.Stderr, "plansync: apply: %v\n", err)
		return 1
	}
	if err := a.persist(docID); err != nil {
		fmt.Fprintf(os.Stderr, "plansync: apply: persist: %v\n", err)
		return 1
	}

	snap, err := a.docs.Snapshot(docID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plansync: apply: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(snap)
	} else {
		fmt.Printf("applied %s %s on %s (version %d)\n", op.Kind, op.Path, docID, snap.Version)
	}
	return 0
}
