package memory

import (
	"context"
	"fmt"
	"strings"
)

// NewStore creates a turn store for the configured URL:
// empty selects the in-memory store, postgres:// and postgresql:// select
// PostgreSQL, sqlite:// and file: select SQLite, redis:// and rediss:// select Redis.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	lower := strings.ToLower(databaseURL)
	switch {
	case databaseURL == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return NewPostgresStore(ctx, databaseURL)
	case strings.HasPrefix(lower, "sqlite://"):
		return NewSQLiteStore(ctx, databaseURL[len("sqlite://"):])
	case strings.HasPrefix(lower, "file:"):
		return NewSQLiteStore(ctx, databaseURL)
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		probeCtx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		return NewRedisStore(probeCtx, databaseURL, RedisConfig{})
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme in %q", databaseURL)
	}
}

// Backend names the store implementation behind s for health output.
func Backend(s Store) string {
	switch s.(type) {
	case *InMemoryStore:
		return "in-memory"
	case *PostgresStore:
		return "postgres"
	case *SQLiteStore:
		return "sqlite"
	case *RedisStore:
		return "redis"
	default:
		return "custom"
	}
}
