package main

import (
	"flag"
	"fmt"
)

func runHealth(c *client) error {
	var daemon map[string]any
	if err := c.get("/healthz", &daemon); err != nil {
		return err
	}
	var idem map[string]any
	if err := c.get("/api/v1/idempotency/health", &idem); err != nil {
		return err
	}
	return printJSON(map[string]any{"daemon": daemon, "idempotency": idem})
}

func runStats(c *client) error {
	var stats map[string]any
	if err := c.get("/api/v1/idempotency/statistics", &stats); err != nil {
		return err
	}
	return printJSON(stats)
}

func runSnapshotCreate(c *client, args []string) error {
	fs := flag.NewFlagSet("snapshot-create", flag.ExitOnError)
	reason := fs.String("reason", "", "why the snapshot is being taken (required)")
	actorID := fs.Int64("actor", 0, "operator user id (required)")
	actorName := fs.String("actor-name", "", "operator display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *reason == "" || *actorID == 0 {
		return fmt.Errorf("snapshot-create requires -reason and -actor")
	}
	var snap map[string]any
	err := c.post("/api/v1/switchboard/snapshots", map[string]any{
		"reason": *reason, "actor_id": *actorID, "actor_name": *actorName,
	}, &snap)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func runSnapshotList(c *client) error {
	var snaps []map[string]any
	if err := c.get("/api/v1/switchboard/snapshots", &snaps); err != nil {
		return err
	}
	return printJSON(snaps)
}

func runRollback(c *client, args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	snapshotID := fs.Int64("snapshot", 0, "snapshot id to restore (required)")
	reason := fs.String("reason", "", "why the rollback is happening (required)")
	actorID := fs.Int64("actor", 0, "operator user id (required)")
	actorName := fs.String("actor-name", "", "operator display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *snapshotID == 0 || *reason == "" || *actorID == 0 {
		return fmt.Errorf("rollback requires -snapshot, -reason and -actor")
	}
	var out map[string]any
	err := c.post(fmt.Sprintf("/api/v1/switchboard/snapshots/%d/rollback", *snapshotID), map[string]any{
		"reason": *reason, "actor_id": *actorID, "actor_name": *actorName,
	}, &out)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runScan(c *client) error {
	var report map[string]any
	if err := c.post("/api/v1/repair/report", nil, &report); err != nil {
		return err
	}
	return printJSON(report)
}

func runOrphans(c *client) error {
	var out map[string]any
	if err := c.get("/api/v1/linkage/orphans", &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runBackfill(c *client, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	entryID := fs.Int64("entry", 0, "journal entry id to repair (required)")
	module := fs.String("module", "", "replacement source module (required)")
	model := fs.String("model", "", "replacement source model (required)")
	sourceID := fs.String("id", "", "replacement source record uuid (required)")
	dryRun := fs.Bool("dry-run", false, "validate only, write nothing")
	actorID := fs.Int64("actor", 0, "operator user id (required)")
	actorName := fs.String("actor-name", "", "operator display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *entryID == 0 || *module == "" || *model == "" || *sourceID == "" || *actorID == 0 {
		return fmt.Errorf("backfill requires -entry, -module, -model, -id and -actor")
	}
	var out map[string]any
	err := c.post("/api/v1/linkage/backfill", map[string]any{
		"entry_id": *entryID, "module": *module, "model": *model, "source_id": *sourceID,
		"dry_run": *dryRun, "actor_id": *actorID, "actor_name": *actorName,
	}, &out)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runCleanup(c *client, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	batchSize := fs.Int("batch", 500, "delete batch size")
	maxAge := fs.String("max-age", "168h", "purge records older than this Go duration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var out map[string]any
	err := c.post("/api/v1/idempotency/cleanup", map[string]any{
		"batch_size": *batchSize, "max_age": *maxAge,
	}, &out)
	if err != nil {
		return err
	}
	return printJSON(out)
}
