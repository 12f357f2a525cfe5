package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hearthd/hearth/pkg/config"
)

// Store persists batches of records.
type Store interface {
	Write(ctx context.Context, records []Record) error
	Close() error
}

// The id is a caller-supplied uuid, so the same DDL works across
// sqlite, postgres and mysql; only placeholders differ per dialect.
const createUsageTableSQL = `
CREATE TABLE IF NOT EXISTS usage_records (
    id VARCHAR(64) PRIMARY KEY,
    provider VARCHAR(32) NOT NULL,
    model VARCHAR(128) NOT NULL,
    input_tokens INTEGER NOT NULL,
    output_tokens INTEGER NOT NULL,
    cost_usd DOUBLE PRECISION NOT NULL,
    latency_ms BIGINT NOT NULL,
    ttft_ms BIGINT,
    streaming BOOLEAN NOT NULL,
    request_id VARCHAR(64),
    session_id VARCHAR(64),
    intent VARCHAR(32),
    was_fallback BOOLEAN NOT NULL,
    fallback_reason VARCHAR(64),
    stored_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_provider_model ON usage_records(provider, model);
CREATE INDEX IF NOT EXISTS idx_usage_stored_at ON usage_records(stored_at);
`

const insertUsageSQL = `
INSERT INTO usage_records (id, provider, model, input_tokens, output_tokens, cost_usd,
    latency_ms, ttft_ms, streaming, request_id, session_id, intent,
    was_fallback, fallback_reason, stored_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// SQLStore writes records through a pooled database connection.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(pool *config.DBPool, cfg *config.DatabaseConfig) (*SQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	db, err := pool.Get(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	s := &SQLStore{
		db:      db,
		dialect: cfg.Dialect(),
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize usage schema: %w", err)
	}

	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ddl := createUsageTableSQL
	if s.dialect == "mysql" {
		// MySQL has no IF NOT EXISTS for indexes; rely on the table guard
		// and swallow duplicate-index errors instead.
		for _, stmt := range strings.Split(ddl, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				if strings.Contains(stmt, "CREATE INDEX") && strings.Contains(err.Error(), "Duplicate") {
					continue
				}
				return err
			}
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *SQLStore) insertQuery() string {
	if s.dialect != "postgres" {
		return insertUsageSQL
	}

	query := insertUsageSQL
	for i := 1; strings.Contains(query, "?"); i++ {
		query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
	}
	return query
}

// Write persists a batch in one transaction.
func (s *SQLStore) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.insertQuery())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens,
			rec.CostUSD, rec.LatencyMS, rec.TTFTMS, rec.Streaming,
			rec.RequestID, rec.SessionID, rec.Intent,
			rec.WasFallback, rec.FallbackReason, rec.StoredAt,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert usage record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// Close is a no-op: the pool owns the connection lifecycle.
func (s *SQLStore) Close() error {
	return nil
}
