package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps conversation turns in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.autoMigrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) autoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			scope_id TEXT NOT NULL DEFAULT '',
			user_text TEXT NOT NULL,
			response_text TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			created_at_unix_nano INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_thread ON conversation_turns (tenant_id, session_id, scope_id, created_at_unix_nano DESC);`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, turn Turn) error {
	turn, err := prepareTurn(turn)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (id, tenant_id, session_id, scope_id, user_text, response_text, mode, created_at_unix_nano)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID,
		turn.TenantID,
		turn.SessionID,
		turn.ScopeID,
		turn.UserText,
		turn.ResponseText,
		turn.Mode,
		turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FetchRecent(ctx context.Context, q RecentQuery) ([]Turn, error) {
	q, err := q.normalized()
	if err != nil {
		return nil, err
	}

	where, args := recentWhere(q, func(int) string { return "?" })
	// recentWhere binds time.Time; the sqlite schema stores unix nanos.
	for i, a := range args {
		if ts, ok := a.(time.Time); ok {
			args[i] = ts.UnixNano()
		}
	}
	where = strings.Replace(where, "created_at >=", "created_at_unix_nano >=", 1)
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, session_id, scope_id, user_text, response_text, mode, created_at_unix_nano
		 FROM conversation_turns WHERE `+where+` ORDER BY created_at_unix_nano DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, q.Limit)
	for rows.Next() {
		var (
			t     Turn
			nanos int64
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &t.SessionID, &t.ScopeID, &t.UserText, &t.ResponseText, &t.Mode, &nanos); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.CreatedAt = time.Unix(0, nanos).UTC()
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
