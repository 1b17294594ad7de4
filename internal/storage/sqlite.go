package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink is the local-dev/single-node storage backend: WAL mode
// plus a busy timeout so the one-writer-many-readers access pattern
// from C5/C7 doesn't trip SQLITE_BUSY under light concurrency.
type SQLiteSink struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteSink, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	if err = migrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate sqlite: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY,
			providers  TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at   DATETIME NOT NULL,
			count      INTEGER NOT NULL,
			avg_ms     REAL NOT NULL,
			p50_ms     REAL NOT NULL,
			p95_ms     REAL NOT NULL,
			min_ms     REAL NOT NULL,
			max_ms     REAL NOT NULL
		);
		CREATE TABLE IF NOT EXISTS availability_records (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id TEXT NOT NULL,
			observed_at DATETIME NOT NULL,
			available   INTEGER NOT NULL,
			reason      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_availability_records_provider ON availability_records (provider_id, observed_at);
	`)
	return err
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func (s *SQLiteSink) WriteSessionSummary(sum SessionSummary) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO session_summaries
			(session_id, providers, started_at, ended_at, count, avg_ms, p50_ms, p95_ms, min_ms, max_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, providersToText(sum.Providers), sum.StartedAt.UTC(), sum.EndedAt.UTC(),
		sum.Count, sum.AvgMs, sum.P50Ms, sum.P95Ms, sum.MinMs, sum.MaxMs,
	)
	return err
}

func (s *SQLiteSink) WriteAvailabilityRecord(rec ProviderAvailabilityRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO availability_records (provider_id, observed_at, available, reason) VALUES (?, ?, ?, ?)`,
		rec.ProviderID, rec.ObservedAt.UTC(), rec.Available, rec.Reason,
	)
	return err
}

func providersToText(providers []string) string {
	out := ""
	for i, p := range providers {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
