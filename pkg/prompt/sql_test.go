package prompt

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// promptRow is one row of the fake prompts table; a nil user is NULL
type promptRow struct {
	agent  string
	system string
	user   *string
}

// fakePrompts serves selectLatestPrompt from rows held newest first
type fakePrompts struct {
	rows    []promptRow
	err     error
	queries []string
}

func (f *fakePrompts) Connect(context.Context) (driver.Conn, error) { return &fakePromptConn{f}, nil }
func (f *fakePrompts) Open(string) (driver.Conn, error)              { return &fakePromptConn{f}, nil }
func (f *fakePrompts) Driver() driver.Driver                         { return f }

type fakePromptConn struct{ db *fakePrompts }

func (c *fakePromptConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *fakePromptConn) Close() error              { return nil }
func (c *fakePromptConn) Begin() (driver.Tx, error) { return nil, errors.New("tx not supported") }

func (c *fakePromptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.db.queries = append(c.db.queries, query)
	if c.db.err != nil {
		return nil, c.db.err
	}
	name, _ := args[0].Value.(string)
	out := &fakePromptRows{}
	for _, r := range c.db.rows {
		if r.agent != name {
			continue
		}
		var user driver.Value
		if r.user != nil {
			user = *r.user
		}
		out.rows = append(out.rows, []driver.Value{r.system, user})
	}
	if strings.Contains(query, "LIMIT 1") && len(out.rows) > 1 {
		out.rows = out.rows[:1]
	}
	return out, nil
}

type fakePromptRows struct{ rows [][]driver.Value }

func (r *fakePromptRows) Columns() []string { return []string{"system_prompt", "user_prompt"} }
func (r *fakePromptRows) Close() error      { return nil }

func (r *fakePromptRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}

func newFakeSQLStore(t *testing.T, f *fakePrompts) *SQLStore {
	t.Helper()
	store := NewSQLStore(sql.OpenDB(f))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func TestSQLStore_GetPrompts(t *testing.T) {
	f := &fakePrompts{rows: []promptRow{
		{agent: "coach", system: "newest", user: strPtr("Context:")},
		{agent: "coach", system: "older", user: strPtr("old user")},
		{agent: "planner", system: "plan"},
	}}
	store := newFakeSQLStore(t, f)

	got, err := store.GetPrompts(context.Background(), "coach")
	require.NoError(t, err)
	assert.Equal(t, &Prompts{System: "newest", User: "Context:"}, got)

	require.Len(t, f.queries, 1)
	assert.Contains(t, f.queries[0], "ORDER BY created_at DESC")
}

func TestSQLStore_NullUserPrompt(t *testing.T) {
	store := newFakeSQLStore(t, &fakePrompts{rows: []promptRow{{agent: "planner", system: "plan"}}})

	got, err := store.GetPrompts(context.Background(), "planner")
	require.NoError(t, err)
	assert.Equal(t, "plan", got.System)
	assert.Empty(t, got.User)
}

func TestSQLStore_NotFound(t *testing.T) {
	store := newFakeSQLStore(t, &fakePrompts{rows: []promptRow{{agent: "coach", system: "s"}}})

	_, err := store.GetPrompts(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_QueryError(t *testing.T) {
	store := newFakeSQLStore(t, &fakePrompts{err: errors.New("connection reset")})

	_, err := store.GetPrompts(context.Background(), "coach")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "connection reset")
}

// TestSQLStore_Postgres runs against a live database when DATABASE_URL is set
func TestSQLStore_Postgres(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	store, err := OpenSQLStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	// the temp table lives on a single session
	store.db.SetMaxOpenConns(1)

	_, err = store.db.ExecContext(ctx, `
		CREATE TEMP TABLE prompts (
			id            BIGSERIAL PRIMARY KEY,
			agent_name    TEXT NOT NULL,
			system_prompt TEXT NOT NULL,
			user_prompt   TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `
		INSERT INTO prompts (agent_name, system_prompt, user_prompt, created_at) VALUES
			('coach', 'older', 'old user', now() - interval '1 hour'),
			('coach', 'newest', NULL, now())`)
	require.NoError(t, err)

	got, err := store.GetPrompts(ctx, "coach")
	require.NoError(t, err)
	assert.Equal(t, &Prompts{System: "newest"}, got)

	_, err = store.GetPrompts(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Ping(ctx))
}
