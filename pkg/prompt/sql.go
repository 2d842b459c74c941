package prompt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQLStore reads the newest prompt row per agent from a Postgres "prompts"
// table:
//
//	CREATE TABLE prompts (
//	    id          BIGSERIAL PRIMARY KEY,
//	    agent_name  TEXT NOT NULL,
//	    system_prompt TEXT NOT NULL,
//	    user_prompt TEXT,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens a Postgres connection through the pgx driver
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewSQLStore(db), nil
}

// NewSQLStore wraps an open database handle
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const selectLatestPrompt = `
	SELECT system_prompt, user_prompt
	FROM prompts
	WHERE agent_name = $1
	ORDER BY created_at DESC
	LIMIT 1`

// GetPrompts implements Store
func (s *SQLStore) GetPrompts(ctx context.Context, agentName string) (*Prompts, error) {
	var (
		p    Prompts
		user sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectLatestPrompt, agentName).Scan(&p.System, &user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query prompts for %s: %w", agentName, err)
	}
	p.User = user.String
	return &p, nil
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}
