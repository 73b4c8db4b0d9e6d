package similarity

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/complyassist/internal/memory"
)

// PgvectorIndex keeps turn embeddings in PostgreSQL with the pgvector
// extension. It shares the pool of the turn store when both live in the same
// database.
type PgvectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPgvectorIndex(ctx context.Context, pool *pgxpool.Pool, dimension int) (*PgvectorIndex, error) {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	idx := &PgvectorIndex{pool: pool, dimension: dimension}
	if err := idx.migrate(ctx); err != nil {
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}
	return idx, nil
}

func (p *PgvectorIndex) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversation_turn_vectors (
			turn_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			scope_id TEXT NOT NULL DEFAULT '',
			user_text TEXT NOT NULL,
			response_text TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			embedding vector(%d) NOT NULL
		)`, p.dimension),
		`CREATE INDEX IF NOT EXISTS idx_turn_vectors_thread
			ON conversation_turn_vectors(tenant_id, session_id, scope_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *PgvectorIndex) Upsert(ctx context.Context, turn memory.Turn, vec []float32) error {
	if turn.TenantID == "" {
		return memory.ErrTenantRequired
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversation_turn_vectors
			(turn_id, tenant_id, session_id, scope_id, user_text, response_text, mode, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector)
		ON CONFLICT (turn_id) DO UPDATE SET embedding = EXCLUDED.embedding
	`, turn.ID, turn.TenantID, memory.NormalizeSessionID(turn.SessionID), turn.ScopeID,
		turn.UserText, turn.ResponseText, turn.Mode, turn.CreatedAt, vectorLiteral(vec))
	return err
}

func (p *PgvectorIndex) Search(ctx context.Context, vec []float32, q memory.SimilarQuery) ([]Hit, error) {
	if q.TenantID == "" {
		return nil, memory.ErrTenantRequired
	}
	scope := ""
	if q.Scoped {
		scope = q.ScopeID
	}
	limit := q.TopK
	if limit <= 0 {
		limit = 5
	}
	rows, err := p.pool.Query(ctx, `
		SELECT turn_id, tenant_id, session_id, scope_id, user_text, response_text, mode, created_at,
			1 - (embedding <=> $1::vector) AS score
		FROM conversation_turn_vectors
		WHERE tenant_id = $2 AND session_id = $3 AND scope_id = $4
		ORDER BY embedding <=> $1::vector
		LIMIT $5
	`, vectorLiteral(vec), q.TenantID, memory.NormalizeSessionID(q.SessionID), scope, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h     Hit
			score float64
		)
		if err := rows.Scan(&h.Turn.ID, &h.Turn.TenantID, &h.Turn.SessionID, &h.Turn.ScopeID,
			&h.Turn.UserText, &h.Turn.ResponseText, &h.Turn.Mode, &h.Turn.CreatedAt, &score); err != nil {
			return nil, err
		}
		h.Score = float32(score)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
