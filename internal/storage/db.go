package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pmd_failure_logs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id     TEXT,
	work_id       TEXT,
	case_number   INTEGER,
	step_name     TEXT,
	attachment_id TEXT NOT NULL UNIQUE,
	datacenter    TEXT,
	content       BLOB,
	report_date   DATE
);
CREATE INDEX IF NOT EXISTS idx_pmd_case_number ON pmd_failure_logs(case_number);
CREATE INDEX IF NOT EXISTS idx_pmd_step_name ON pmd_failure_logs(step_name);
CREATE INDEX IF NOT EXISTS idx_pmd_report_date ON pmd_failure_logs(report_date);

CREATE TABLE IF NOT EXISTS step_names (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	step_name TEXT NOT NULL UNIQUE
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS pmd_failure_logs (
	id            BIGSERIAL PRIMARY KEY,
	record_id     VARCHAR(64),
	work_id       VARCHAR(64),
	case_number   INTEGER,
	step_name     VARCHAR(255),
	attachment_id VARCHAR(128) NOT NULL UNIQUE,
	datacenter    VARCHAR(64),
	content       BYTEA,
	report_date   DATE
);
CREATE INDEX IF NOT EXISTS idx_pmd_case_number ON pmd_failure_logs(case_number);
CREATE INDEX IF NOT EXISTS idx_pmd_step_name ON pmd_failure_logs(step_name);
CREATE INDEX IF NOT EXISTS idx_pmd_report_date ON pmd_failure_logs(report_date);

CREATE TABLE IF NOT EXISTS step_names (
	id        BIGSERIAL PRIMARY KEY,
	step_name VARCHAR(255) NOT NULL UNIQUE
);
`

// Store wraps the failure-log database. It speaks both SQLite and Postgres;
// statements are written with ? placeholders and rebound per driver.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects with the given driver and creates the schema if missing.
func Open(driver, dsn string) (*Store, error) {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = sqliteSchema
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// Writers from the import pool would otherwise race for the file lock.
		db.SetMaxOpenConns(1)
	}

	if driver == DriverPostgres {
		for _, stmt := range strings.Split(schema, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("apply schema: %w", err)
			}
		}
	} else if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// InitDB opens a SQLite store at path.
func InitDB(path string) (*Store, error) {
	return Open(DriverSQLite, path)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
