package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/glass-erp/deleteflow/pkg/config"
	"github.com/glass-erp/deleteflow/pkg/snapshot"
)

type snapshotView struct {
	*snapshot.Snapshot
	Age   string `json:"age"`
	Fresh bool   `json:"fresh"`
}

func runSnapshotCmd(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: deleteflow snapshot <show|clear> --entry <id>")
		return 2
	}
	sub := args[0]
	if sub != "show" && sub != "clear" {
		_, _ = fmt.Fprintf(stderr, "Unknown snapshot subcommand: %s\n", sub)
		return 2
	}

	cmd := flag.NewFlagSet("snapshot "+sub, flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var entryID string
	cmd.StringVar(&entryID, "entry", "", "ID of the daily-work entry (REQUIRED)")
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if entryID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --entry is required")
		return 2
	}

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	store, closeStore, err := openSnapshots(cfg, policy)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: snapshot store: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	ctx := context.Background()
	key := snapshot.Key(entryID)

	if sub == "clear" {
		if err := store.Remove(ctx, key); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "Cleared snapshot for %s\n", entryID)
		return 0
	}

	data, err := store.Get(ctx, key)
	if errors.Is(err, snapshot.ErrNotFound) {
		_, _ = fmt.Fprintf(stderr, "No snapshot for %s\n", entryID)
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	age := snap.Age(time.Now())
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snapshotView{
		Snapshot: snap,
		Age:      age.Round(time.Second).String(),
		Fresh:    age < policy.AutoSave.Freshness,
	})
	return 0
}
