package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// PostgresSink persists events in PostgreSQL for cross-session reporting.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate creates the events table if it does not exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS analytics_events (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			data JSONB
		)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate analytics_events: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, events []contracts.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO analytics_events (id, session_id, type, occurred_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	for _, e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, e.ID, e.SessionID, string(e.Type), e.Timestamp, data); err != nil {
			return fmt.Errorf("failed to persist event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// CountByType returns the number of stored events per type.
func (s *PostgresSink) CountByType(ctx context.Context) (map[contracts.EventType]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM analytics_events GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[contracts.EventType]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[contracts.EventType(typ)] = n
	}
	return out, rows.Err()
}
