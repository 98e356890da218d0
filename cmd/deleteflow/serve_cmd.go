package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/glass-erp/deleteflow/pkg/api"
	"github.com/glass-erp/deleteflow/pkg/config"
	"github.com/glass-erp/deleteflow/pkg/contracts"
	"github.com/glass-erp/deleteflow/pkg/session"
)

const idempotencyTTL = 24 * time.Hour

type serveOptions struct {
	seed  string
	rps   float64
	burst int
}

func runServeCmd(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		addr string
		opts serveOptions
	)
	cmd.StringVar(&addr, "addr", ":"+cfg.Port, "Listen address")
	cmd.StringVar(&opts.seed, "seed", "42:submitted", "Entries to serve as id[:status[:phase]], comma-separated")
	cmd.Float64Var(&opts.rps, "rps", 5, "Requests per second allowed per client IP (0 disables)")
	cmd.IntVar(&opts.burst, "burst", 10, "Burst allowed per client IP")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := newDemoServer(ctx, cfg, opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	obs, err := newObservability(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: observability: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.WithoutCancel(ctx)) }()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.ListenAndServe() }()
	_, _ = fmt.Fprintf(stdout, "deleteflow demo server listening on %s\n", addr)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}

// newDemoServer wires the demo endpoint and starts its background sweepers.
// They stop when ctx is done; cleanup releases the idempotency database.
func newDemoServer(ctx context.Context, cfg *config.Config, opts serveOptions) (*api.Server, func(), error) {
	cleanup := func() {}
	logger := slog.Default().With("component", "serve")

	entries, err := parseSeed(opts.seed)
	if err != nil {
		return nil, cleanup, err
	}

	token := cfg.CSRFToken
	if token == "" {
		token = uuid.NewString()
	}

	so := api.ServerOptions{
		CSRFToken:     token,
		Entries:       api.NewMemoryEntries(entries...),
		RatePerSecond: opts.rps,
		Burst:         opts.burst,
	}
	if cfg.SessionSecret != "" {
		tm, err := session.NewTokenManager([]byte(cfg.SessionSecret))
		if err != nil {
			return nil, cleanup, err
		}
		so.Sessions = tm
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open idempotency db: %w", err)
		}
		store := api.NewPostgresIdempotencyStore(db, idempotencyTTL)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, cleanup, fmt.Errorf("migrate idempotency db: %w", err)
		}
		cleanup = func() { _ = db.Close() }
		so.Idempotency = store
		go every(ctx, time.Hour, func() {
			if n, err := store.Cleanup(ctx); err != nil {
				logger.Warn("idempotency cleanup failed", "error", err)
			} else if n > 0 {
				logger.Debug("idempotency keys expired", "count", n)
			}
		})
		logger.Info("idempotency: postgres")
	} else {
		store := api.NewIdempotencyStore(idempotencyTTL)
		so.Idempotency = store
		go every(ctx, time.Hour, store.Sweep)
	}

	srv, err := api.NewServer(so)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	if l := srv.Limiter(); l != nil {
		go l.Run(ctx, time.Minute)
	}
	logger.Info("demo server ready", "entries", len(entries), "csrf_from_env", cfg.CSRFToken != "")
	return srv, cleanup, nil
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// parseSeed reads "id[:status[:phase]]" items.
func parseSeed(seed string) ([]contracts.WorkEntry, error) {
	var out []contracts.WorkEntry
	for _, item := range splitList(seed) {
		parts := strings.Split(item, ":")
		if len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid seed entry %q", item)
		}
		e := contracts.WorkEntry{
			ID:           parts[0],
			Status:       contracts.WorkStatusSubmitted,
			ProjectPhase: contracts.PhaseActive,
			CreatedAt:    time.Now(),
		}
		if len(parts) > 1 {
			e.Status = contracts.WorkStatus(parts[1])
		}
		if len(parts) > 2 {
			e.ProjectPhase = contracts.ProjectPhase(parts[2])
		}
		switch e.Status {
		case contracts.WorkStatusDraft, contracts.WorkStatusSubmitted, contracts.WorkStatusApproved, contracts.WorkStatusBilled:
		default:
			return nil, fmt.Errorf("invalid status %q in seed entry %q", e.Status, item)
		}
		out = append(out, e)
	}
	return out, nil
}
