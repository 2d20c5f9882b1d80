package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hihikaAAa/team-reports/internal/model"
)

type DB struct {
	SQL *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s.SetMaxOpenConns(1)
	if err := migrate(context.Background(), s); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{SQL: s}, nil
}

func (d *DB) Close() error { return d.SQL.Close() }

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS teams (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            description TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tg_id INTEGER UNIQUE NOT NULL,
            name TEXT NOT NULL,
            username TEXT,
            role TEXT NOT NULL DEFAULT 'employee' CHECK (role IN ('employee', 'manager', 'admin')),
            team_id INTEGER REFERENCES teams(id) ON DELETE SET NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		// team_id is a copy taken at creation time and may outlive its team.
		`CREATE TABLE IF NOT EXISTS reports (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            team_id INTEGER NOT NULL,
            description TEXT NOT NULL CHECK (length(trim(description)) > 0),
            metric_name TEXT,
            metric_value REAL,
            report_date DATETIME NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            CHECK ((metric_name IS NULL) = (metric_value IS NULL))
        );`,
		`CREATE INDEX IF NOT EXISTS idx_reports_team_date ON reports(team_id, report_date);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_user_date ON reports(user_id, report_date);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_date ON reports(report_date);`,
		`CREATE TABLE IF NOT EXISTS digest_deliveries (
            user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            week_start DATETIME NOT NULL,
            sent_at DATETIME NOT NULL,
            PRIMARY KEY (user_id, week_start)
        );`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Now is the storage clock. Timestamps are kept in UTC so that range
// comparisons on the stored text are ordered.
func Now() time.Time {
	return time.Now().UTC()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
