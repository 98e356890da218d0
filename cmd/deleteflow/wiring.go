package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/glass-erp/deleteflow/pkg/analytics"
	"github.com/glass-erp/deleteflow/pkg/archive"
	"github.com/glass-erp/deleteflow/pkg/config"
	"github.com/glass-erp/deleteflow/pkg/observability"
	"github.com/glass-erp/deleteflow/pkg/snapshot"
)

const archivePrefix = "analytics/"

func openSnapshots(cfg *config.Config, policy *config.Policy) (snapshot.Store, func() error, error) {
	return snapshot.Open(snapshot.Options{
		Backend:       cfg.StateBackend,
		Dir:           cfg.StateDir,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		TTL:           policy.AutoSave.Freshness,
	})
}

// openAnalyticsDB opens the configured analytics database. The "none"
// driver returns a nil db.
func openAnalyticsDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	switch cfg.AnalyticsDriver {
	case "none", "":
		return nil, nil
	case "sqlite":
		return analytics.OpenSQLite(cfg.AnalyticsDSN)
	case "postgres":
		if cfg.AnalyticsDSN == "" {
			return nil, errors.New("ANALYTICS_DSN is required for the postgres driver")
		}
		db, err := sql.Open("postgres", cfg.AnalyticsDSN)
		if err != nil {
			return nil, fmt.Errorf("open analytics db: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping analytics db: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown analytics driver %q", cfg.AnalyticsDriver)
	}
}

// newAnalyticsSink builds the durable sinks events are shipped to. The
// returned close function is always non-nil.
func newAnalyticsSink(ctx context.Context, cfg *config.Config) (analytics.Sink, func() error, error) {
	var sinks analytics.MultiSink
	closeFn := func() error { return nil }

	db, err := openAnalyticsDB(ctx, cfg)
	if err != nil {
		return nil, closeFn, err
	}
	if db != nil {
		closeFn = db.Close
		switch cfg.AnalyticsDriver {
		case "sqlite":
			s, err := analytics.NewSQLiteSink(db)
			if err != nil {
				_ = db.Close()
				return nil, func() error { return nil }, err
			}
			sinks = append(sinks, s)
		case "postgres":
			s := analytics.NewPostgresSink(db)
			if err := s.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, func() error { return nil }, err
			}
			sinks = append(sinks, s)
		}
	}

	if cfg.ArchiveEnabled {
		store, err := archive.Open(ctx, archiveOptions(cfg))
		if err != nil {
			_ = closeFn()
			return nil, func() error { return nil }, fmt.Errorf("archive: %w", err)
		}
		sinks = append(sinks, analytics.NewArchiveSink(store, archivePrefix))
	}

	if len(sinks) == 0 {
		return nil, closeFn, nil
	}
	return sinks, closeFn, nil
}

func archiveOptions(cfg *config.Config) archive.Options {
	return archive.Options{
		Backend:  archive.Backend(cfg.ArchiveBackend),
		Dir:      cfg.ArchiveDir,
		Bucket:   cfg.ArchiveBucket,
		Region:   cfg.ArchiveRegion,
		Endpoint: cfg.ArchiveEndpoint,
		Prefix:   cfg.ArchivePrefix,
	}
}

func newObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = version
	if env := os.Getenv("DELETEFLOW_ENV"); env != "" {
		oc.Environment = env
	}
	if cfg.OTLPEndpoint != "" {
		oc.Enabled = true
		oc.OTLPEndpoint = cfg.OTLPEndpoint
	}
	p, err := observability.New(ctx, oc)
	if err != nil {
		return nil, err
	}
	slog.Debug("observability ready", "exporting", oc.Enabled)
	return p, nil
}
