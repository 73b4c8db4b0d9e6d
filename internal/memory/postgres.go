package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool so other components (the pgvector index)
// can share one connection budget.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			scope_id TEXT NOT NULL DEFAULT '',
			user_text TEXT NOT NULL,
			response_text TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_thread ON conversation_turns (tenant_id, session_id, scope_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn Turn) error {
	turn, err := prepareTurn(turn)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, tenant_id, session_id, scope_id, user_text, response_text, mode, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		turn.ID,
		turn.TenantID,
		turn.SessionID,
		turn.ScopeID,
		turn.UserText,
		turn.ResponseText,
		turn.Mode,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) FetchRecent(ctx context.Context, q RecentQuery) ([]Turn, error) {
	q, err := q.normalized()
	if err != nil {
		return nil, err
	}

	where, args := recentWhere(q, func(n int) string { return fmt.Sprintf("$%d", n) })
	args = append(args, q.Limit)
	query := fmt.Sprintf(
		`SELECT id, tenant_id, session_id, scope_id, user_text, response_text, mode, created_at
		 FROM conversation_turns WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		where, len(args),
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, q.Limit)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.TenantID, &t.SessionID, &t.ScopeID, &t.UserText, &t.ResponseText, &t.Mode, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// recentWhere builds the WHERE clause shared by the SQL backends. placeholder
// renders the n-th bind parameter in the dialect of the caller.
func recentWhere(q RecentQuery, placeholder func(n int) string) (string, []any) {
	clauses := []string{
		"tenant_id = " + placeholder(1),
		"session_id = " + placeholder(2),
	}
	args := []any{q.TenantID, q.SessionID}
	if !q.Filtered {
		return strings.Join(clauses, " AND "), args
	}

	scope := ""
	if q.Scoped {
		scope = q.ScopeID
	}
	args = append(args, scope)
	clauses = append(clauses, "scope_id = "+placeholder(len(args)))

	if !q.Since.IsZero() {
		args = append(args, q.Since.UTC())
		clauses = append(clauses, "created_at >= "+placeholder(len(args)))
	}
	return strings.Join(clauses, " AND "), args
}
