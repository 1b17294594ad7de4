package storage

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresSink persists SessionSummary and ProviderAvailabilityRecord
// rows to PostgreSQL: sql.Open("pgx", ...) plus a schema_version-
// tracked embedded migration runner.
type PostgresSink struct {
	db *sql.DB
}

func OpenPostgres(connStr string) (*PostgresSink, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if err = migratePostgres(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func migratePostgres(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

func (s *PostgresSink) Close() error { return s.db.Close() }

func (s *PostgresSink) WriteSessionSummary(sum SessionSummary) error {
	_, err := s.db.Exec(
		`INSERT INTO session_summaries
			(session_id, providers, started_at, ended_at, count, avg_ms, p50_ms, p95_ms, min_ms, max_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sum.SessionID, providersToText(sum.Providers), sum.StartedAt.UTC(), sum.EndedAt.UTC(),
		sum.Count, sum.AvgMs, sum.P50Ms, sum.P95Ms, sum.MinMs, sum.MaxMs,
	)
	return err
}

func (s *PostgresSink) WriteAvailabilityRecord(rec ProviderAvailabilityRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO availability_records (provider_id, observed_at, available, reason)
		 VALUES ($1, $2, $3, $4)`,
		rec.ProviderID, rec.ObservedAt.UTC(), rec.Available, rec.Reason,
	)
	return err
}
