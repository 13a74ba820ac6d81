package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/api-fetcher/pkg/flatten"
)

// FormatPostgres is the descriptor key of the postgres sink.
const FormatPostgres = "postgres"

// PostgresSink stores each record as a JSONB row. All rows of one batch are
// inserted in a single transaction.
type PostgresSink struct {
	db     *sql.DB
	table  string
	now    Clock
	logger zerolog.Logger
}

// OpenPostgres opens a lib/pq connection pool.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// NewPostgresSink creates a sink writing to table.
func NewPostgresSink(db *sql.DB, table string) *PostgresSink {
	return &PostgresSink{
		db:     db,
		table:  table,
		now:    time.Now,
		logger: log.With().Str("component", "postgres-sink").Logger(),
	}
}

func (s *PostgresSink) ensureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	batch TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	record JSONB NOT NULL
)`, pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Accept inserts records. The descriptor is "<table>#<batch>".
func (s *PostgresSink) Accept(ctx context.Context, baseName string, records []flatten.Record) (Descriptors, error) {
	out := Descriptors{}
	if len(records) == 0 {
		return out, nil
	}
	if err := s.ensureTable(ctx); err != nil {
		return out, err
	}

	now := s.now()
	batch := BatchName(baseName, now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (batch, fetched_at, record) VALUES ($1, $2, $3)",
		pq.QuoteIdentifier(s.table)))
	if err != nil {
		return out, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		doc, err := json.Marshal(r)
		if err != nil {
			return out, fmt.Errorf("marshal record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, batch, now, string(doc)); err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				s.logger.Error().Str("code", string(pqErr.Code)).Str("table", s.table).Msg("Insert rejected")
			}
			return out, fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return out, fmt.Errorf("commit: %w", err)
	}

	recordsWrittenTotal.WithLabelValues(FormatPostgres).Add(float64(len(records)))
	s.logger.Info().Str("table", s.table).Str("batch", batch).Int("records", len(records)).Msg("Saved output")
	out[FormatPostgres] = s.table + "#" + batch
	return out, nil
}
