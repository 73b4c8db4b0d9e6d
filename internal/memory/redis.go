package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each conversation thread in Redis sorted sets scored by
// creation time (unix microseconds). Every turn is written to the set for its
// scope and to an all-scopes set used by relaxed lookups.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Prefix string // key prefix, default "turns"
}

func NewRedisStore(ctx context.Context, redisURL string, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg), nil
}

func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "turns"
	}
	return &RedisStore{client: client, prefix: cfg.Prefix}
}

const (
	redisGeneralScope = "_general"
	redisAllScopes    = "_all"
)

func (s *RedisStore) key(tenantID, sessionID, scope string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, url.QueryEscape(tenantID), url.QueryEscape(sessionID), url.QueryEscape(scope))
}

func (s *RedisStore) scopeKey(tenantID, sessionID, scopeID string) string {
	if scopeID == "" {
		return s.key(tenantID, sessionID, redisGeneralScope)
	}
	return s.key(tenantID, sessionID, "s."+scopeID)
}

func (s *RedisStore) SaveTurn(ctx context.Context, turn Turn) error {
	turn, err := prepareTurn(turn)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	member := redis.Z{Score: float64(turn.CreatedAt.UnixMicro()), Member: string(payload)}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.scopeKey(turn.TenantID, turn.SessionID, turn.ScopeID), member)
		pipe.ZAdd(ctx, s.key(turn.TenantID, turn.SessionID, redisAllScopes), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *RedisStore) FetchRecent(ctx context.Context, q RecentQuery) ([]Turn, error) {
	q, err := q.normalized()
	if err != nil {
		return nil, err
	}

	key := s.key(q.TenantID, q.SessionID, redisAllScopes)
	minScore := "-inf"
	if q.Filtered {
		scope := ""
		if q.Scoped {
			scope = q.ScopeID
		}
		key = s.scopeKey(q.TenantID, q.SessionID, scope)
		if !q.Since.IsZero() {
			minScore = strconv.FormatInt(q.Since.UnixMicro(), 10)
		}
	}

	raw, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   minScore,
		Max:   "+inf",
		Count: int64(q.Limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}

	items := make([]Turn, 0, len(raw))
	for _, member := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(member), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		items = append(items, t)
	}
	return items, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisTimeout bounds the connectivity probe performed by NewStore.
const redisTimeout = 5 * time.Second
