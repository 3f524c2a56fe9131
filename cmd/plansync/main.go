// Command plansync is the plan-document sync CLI — concurrent edits to
// structured plan documents reconciled with vector clocks and
// last-writer-wins resolution over shared SQLite.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("plansync", version)
		return
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	switch os.Args[1] {
	case "create":
		os.Exit(a.cmdCreate(os.Args[2:]))
	case "apply":
		os.Exit(a.cmdApply(os.Args[2:]))
	case "merge":
		os.Exit(a.cmdMerge(os.Args[2:]))
	case "show":
		os.Exit(a.cmdShow(os.Args[2:]))
	case "log":
		os.Exit(a.cmdLog(os.Args[2:]))
	case "merges":
		os.Exit(a.cmdMerges(os.Args[2:]))
	case "list", "ls":
		os.Exit(a.cmdList(os.Args[2:]))
	case "status":
		os.Exit(a.cmdStatus(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "plansync: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'plansync --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`plansync — offline-tolerant sync for structured plan documents

Vector clocks for causal ordering. Last-writer-wins for concurrent
conflicts. Shared SQLite for zero-config persistence.

Usage:
  plansync <command> [flags]

Commands:
  create --field k=v ...      Create a document from initial field values
  apply <doc> <kind> <path>   Apply a single edit (insert, update, delete)
  merge <doc> [--file F]      Merge an offline batch (JSON on stdin or file)
  show <doc>                  Show a document snapshot
  log <doc> [--since N]       Query the append-only operation log
  merges <doc>                Show resolved-conflict audit records
  list                        List documents with version and status
  status <doc> <status>       Set workflow status (draft|pending|approved|rejected|expired)

Aliases:
  ls = list

Environment:
  PLANSYNC_DB         SQLite database path (default: plansync.db)
  PLANSYNC_AUTHOR     Default author ID (avoids passing --author every time)
  PLANSYNC_WINDOW     Conflict lookback window, Go duration (default: 5m)
  PLANSYNC_SERVER_ID  Server vector-clock component (default: server)

All commands support --json for machine-readable output.
Mutating commands support --author <id> to override PLANSYNC_AUTHOR.

Exit codes:
  0  success
  1  error
  2  batch merged with conflicts
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "plansync: "+format+"\n", args...)
	os.Exit(1)
}
