package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"slices"

	"github.com/glass-erp/deleteflow/pkg/analytics"
	"github.com/glass-erp/deleteflow/pkg/archive"
	"github.com/glass-erp/deleteflow/pkg/config"
	"github.com/glass-erp/deleteflow/pkg/contracts"
)

func runSummaryCmd(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("summary", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sessionID   string
		fromArchive bool
		jsonOutput  bool
	)
	cmd.StringVar(&sessionID, "session", "", "Only summarize this session")
	cmd.BoolVar(&fromArchive, "archive", false, "Read the event archive instead of the SQLite store")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	var (
		events []contracts.Event
		err    error
	)
	if fromArchive {
		events, err = archivedEvents(ctx, cfg, sessionID)
	} else {
		events, err = storedEvents(ctx, cfg, sessionID)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	sum := analytics.Summarize(events)
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
		return 0
	}
	printSummary(stdout, sum)
	return 0
}

func storedEvents(ctx context.Context, cfg *config.Config, sessionID string) ([]contracts.Event, error) {
	if cfg.AnalyticsDriver != "sqlite" {
		return nil, fmt.Errorf("summary reads the sqlite store; ANALYTICS_DRIVER is %q", cfg.AnalyticsDriver)
	}
	db, err := analytics.OpenSQLite(cfg.AnalyticsDSN)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	sink, err := analytics.NewSQLiteSink(db)
	if err != nil {
		return nil, err
	}
	return sink.Events(ctx, sessionID)
}

func archivedEvents(ctx context.Context, cfg *config.Config, sessionID string) ([]contracts.Event, error) {
	store, err := archive.Open(ctx, archiveOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	events, err := analytics.ReadArchive(ctx, store, archivePrefix)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return events, nil
	}
	return slices.DeleteFunc(events, func(e contracts.Event) bool { return e.SessionID != sessionID }), nil
}

func printSummary(w io.Writer, s analytics.Summary) {
	_, _ = fmt.Fprintf(w, "Events:            %d\n", s.TotalEvents)
	_, _ = fmt.Fprintf(w, "Security flagged:  %d\n", s.SecurityFlagged)
	reason := s.MostFrequentReason
	if reason == "" {
		reason = "-"
	}
	_, _ = fmt.Fprintf(w, "Top reason:        %s\n", reason)
	_, _ = fmt.Fprintf(w, "Avg completion:    %.0fms\n", s.AverageCompletionMs)
	_, _ = fmt.Fprintf(w, "Abandonment rate:  %.1f%%\n", s.AbandonmentRate*100)

	types := make([]string, 0, len(s.EventsByType))
	for t := range s.EventsByType {
		types = append(types, string(t))
	}
	slices.Sort(types)
	for _, t := range types {
		_, _ = fmt.Fprintf(w, "  %-28s %d\n", t, s.EventsByType[contracts.EventType(t)])
	}
}
