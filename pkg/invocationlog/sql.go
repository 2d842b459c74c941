package invocationlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aixgo-dev/composer/agent"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQLLogger inserts invocations into a Postgres "agent_logs" table:
//
//	CREATE TABLE agent_logs (
//	    id          UUID PRIMARY KEY,
//	    agent_name  TEXT NOT NULL,
//	    input       TEXT NOT NULL,
//	    messages    JSONB NOT NULL,
//	    output      JSONB,
//	    error       TEXT,
//	    duration_ms BIGINT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
type SQLLogger struct {
	db *sql.DB
}

// OpenSQLLogger opens a Postgres connection through the pgx driver
func OpenSQLLogger(ctx context.Context, dsn string) (*SQLLogger, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewSQLLogger(db), nil
}

// NewSQLLogger wraps an open database handle
func NewSQLLogger(db *sql.DB) *SQLLogger {
	return &SQLLogger{db: db}
}

const insertInvocation = `
	INSERT INTO agent_logs (id, agent_name, input, messages, output, error, duration_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`

// LogInvocation implements agent.InvocationLogger
func (l *SQLLogger) LogInvocation(ctx context.Context, inv agent.Invocation) error {
	messages, err := json.Marshal(inv.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	var output []byte
	if inv.Output != nil {
		if output, err = json.Marshal(inv.Output); err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
	}

	_, err = l.db.ExecContext(ctx, insertInvocation,
		inv.ID, inv.Agent, inv.Input, messages, output, inv.Error,
		inv.Duration.Milliseconds(), inv.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert invocation %s: %w", inv.ID, err)
	}
	return nil
}

// Ping checks the database connection
func (l *SQLLogger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database handle
func (l *SQLLogger) Close() error {
	return l.db.Close()
}
