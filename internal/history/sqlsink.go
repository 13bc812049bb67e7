package history

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects placeholders and column types of a SQL sink.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// TableName is the audit table shared by the SQL sinks.
const TableName = "worker_history"

// SQLSink appends events to worker_history. The sqlite and postgres
// packages open the database and hand it over.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLSink takes ownership of db and creates the table when missing.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLSink, error) {
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	var stmts []string
	switch s.dialect {
	case DialectSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS worker_history(
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				occurred_at TIMESTAMP NOT NULL,
				event TEXT NOT NULL,
				team TEXT NOT NULL,
				member TEXT NOT NULL,
				pid INTEGER NOT NULL,
				workspace TEXT NOT NULL,
				run_id TEXT NOT NULL,
				exit_code INTEGER NULL,
				error TEXT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_worker_history_member ON worker_history(team, member);`,
		}
	case DialectPostgres:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS worker_history(
				id BIGSERIAL PRIMARY KEY,
				occurred_at TIMESTAMPTZ NOT NULL,
				event TEXT NOT NULL,
				team TEXT NOT NULL,
				member TEXT NOT NULL,
				pid INTEGER NOT NULL,
				workspace TEXT NOT NULL,
				run_id TEXT NOT NULL,
				exit_code INTEGER NULL,
				error TEXT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_worker_history_member ON worker_history(team, member);`,
		}
	default:
		return fmt.Errorf("unsupported SQL dialect %q", s.dialect)
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	q := `INSERT INTO worker_history(occurred_at, event, team, member, pid, workspace, run_id, exit_code, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.dialect == DialectPostgres {
		q = `INSERT INTO worker_history(occurred_at, event, team, member, pid, workspace, run_id, exit_code, error)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	}
	rec := e.Record
	var exitCode any
	if rec.ExitCode != nil {
		exitCode = *rec.ExitCode
	}
	var errText any
	if rec.Error != "" {
		errText = rec.Error
	}
	_, err := s.db.ExecContext(ctx, q,
		e.OccurredAt.UTC(), string(e.Type), rec.Team, rec.Member, rec.PID,
		rec.Workspace, rec.RunID, exitCode, errText)
	return err
}

// DB exposes the handle for read-side tooling.
func (s *SQLSink) DB() *sql.DB { return s.db }

func (s *SQLSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
