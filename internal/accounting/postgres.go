package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamgate/streamgate/internal/reliability"
)

// PostgresSink persists usage records in PostgreSQL.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	// The database is often still starting when we are. Ride out connection
	// refusals before giving up.
	err = reliability.Retry(ctx, 5, 200*time.Millisecond, 3*time.Second, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		return initSchema(ctx, pool)
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSink{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			event TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			session_id TEXT,
			connection_id TEXT,
			units INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_principal_created ON usage_records (principal_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, record UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_records (id, event, principal_id, session_id, connection_id, units, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID,
		record.Event,
		record.PrincipalID,
		record.SessionID,
		record.ConnectionID,
		record.Units,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *PostgresSink) RecentUsage(ctx context.Context, principalID string, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, event, principal_id, session_id, connection_id, units, created_at
		 FROM usage_records WHERE principal_id=$1 ORDER BY created_at DESC LIMIT $2`,
		principalID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent usage: %w", err)
	}
	defer rows.Close()

	items := make([]UsageRecord, 0, limit)
	for rows.Next() {
		var r UsageRecord
		if err := rows.Scan(&r.ID, &r.Event, &r.PrincipalID, &r.SessionID, &r.ConnectionID, &r.Units, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
