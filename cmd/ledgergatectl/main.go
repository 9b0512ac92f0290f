// ledgergatectl is the operator CLI for a running ledgergated instance:
// health, statistics, switchboard snapshots and rollback, corruption scans,
// and idempotency cleanup, all over the daemon's JSON API.
//
// Exit codes: 0 success, 1 usage error, 2 request or server error.
package main

import (
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ledgergatectl [-addr URL] <command> [flags]

Commands:
  health          daemon and idempotency-store health
  stats           idempotency-store statistics
  snapshot-create take a switchboard snapshot
  snapshot-list   list switchboard snapshots
  rollback        restore switchboard flags from a snapshot
  scan            run a corruption scan and print the repair report
  orphans         list journal entries failing source-linkage validation
  backfill        repair an orphan's source triple (supports -dry-run)
  cleanup         purge expired idempotency records

The daemon address defaults to $LEDGERGATE_ADDR or http://localhost:8080.
`)
}

func main() {
	addr := os.Getenv("LEDGERGATE_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}

	args := os.Args[1:]
	// -addr may precede the command verb.
	if len(args) > 1 && args[0] == "-addr" {
		addr = args[1]
		args = args[2:]
	}
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := newClient(addr)
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "health":
		err = runHealth(client)
	case "stats":
		err = runStats(client)
	case "snapshot-create":
		err = runSnapshotCreate(client, rest)
	case "snapshot-list":
		err = runSnapshotList(client)
	case "rollback":
		err = runRollback(client, rest)
	case "scan":
		err = runScan(client)
	case "orphans":
		err = runOrphans(client)
	case "backfill":
		err = runBackfill(client, rest)
	case "cleanup":
		err = runCleanup(client, rest)
	default:
		fmt.Fprintf(os.Stderr, "ledgergatectl: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgergatectl: %v\n", err)
		os.Exit(2)
	}
}
