package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant context service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	SessionRetention         time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	DatabaseURL string

	// VectorIndex selects where turn embeddings live: "memory" or "pgvector".
	VectorIndex        string
	EmbeddingURL       string
	EmbeddingAPIKey    string
	EmbeddingModel     string
	EmbeddingDim       int
	EmbeddingRetries   int
	SimilarityMinScore float64

	ModelAdapterMode string
	AnthropicAPIKey  string
	AnthropicURL     string
	ModelHTTPURL     string
	ModelHTTPStrict  bool
	DefaultModel     string
	ModelLimitsFile  string

	HistoryRecentLimit   int
	HistoryTopK          int
	HistoryGeneralWindow time.Duration
	HistoryDedupPrefix   int
	HistorySourceTimeout time.Duration
	HistoryMinAckTokens  int

	PlaceholderBaseTokens int
	ModeContextTimeout    time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "complyassist"),
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		AllowAnyOrigin:   false,
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		VectorIndex:      strings.ToLower(envOrDefault("VECTOR_INDEX", "memory")),
		EmbeddingURL:     stringsTrimSpace("EMBEDDING_URL"),
		EmbeddingAPIKey:  stringsTrimSpace("EMBEDDING_API_KEY"),
		EmbeddingModel:   envOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		// The hash embedder default; HTTP embedders usually want 1536.
		EmbeddingDim:       256,
		EmbeddingRetries:   1,
		SimilarityMinScore: 0.2,
		ModelAdapterMode:   strings.ToLower(envOrDefault("MODEL_ADAPTER_MODE", "auto")),
		AnthropicAPIKey:    stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicURL:       stringsTrimSpace("ANTHROPIC_BASE_URL"),
		ModelHTTPURL:       stringsTrimSpace("MODEL_HTTP_URL"),
		DefaultModel:       envOrDefault("DEFAULT_MODEL", "claude-sonnet-4-5"),
		ModelLimitsFile:    stringsTrimSpace("MODEL_LIMITS_FILE"),

		HistoryRecentLimit:   20,
		HistoryTopK:          5,
		HistoryGeneralWindow: 24 * time.Hour,
		HistoryDedupPrefix:   100,
		HistorySourceTimeout: 2 * time.Second,
		HistoryMinAckTokens:  16,

		PlaceholderBaseTokens:    1500,
		ModeContextTimeout:       3 * time.Second,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		SessionRetention:         10 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetention, err = durationFromEnv("APP_SESSION_RETENTION", cfg.SessionRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingRetries, err = intFromEnv("EMBEDDING_MAX_RETRIES", cfg.EmbeddingRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.SimilarityMinScore, err = floatFromEnv("SIMILARITY_MIN_SCORE", cfg.SimilarityMinScore)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelHTTPStrict, err = boolFromEnv("MODEL_HTTP_STREAM_STRICT", cfg.ModelHTTPStrict)
	if err != nil {
		return Config{}, err
	}

	cfg.HistoryRecentLimit, err = intFromEnv("HISTORY_RECENT_LIMIT", cfg.HistoryRecentLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryTopK, err = intFromEnv("HISTORY_TOP_K", cfg.HistoryTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryGeneralWindow, err = durationFromEnv("HISTORY_GENERAL_WINDOW", cfg.HistoryGeneralWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryDedupPrefix, err = intFromEnv("HISTORY_DEDUP_PREFIX", cfg.HistoryDedupPrefix)
	if err != nil {
		return Config{}, err
	}
	cfg.HistorySourceTimeout, err = durationFromEnv("HISTORY_SOURCE_TIMEOUT", cfg.HistorySourceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMinAckTokens, err = intFromEnv("HISTORY_MIN_ACK_TOKENS", cfg.HistoryMinAckTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaceholderBaseTokens, err = intFromEnv("PROMPT_PLACEHOLDER_BASE_TOKENS", cfg.PlaceholderBaseTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.ModeContextTimeout, err = durationFromEnv("MODE_CONTEXT_TIMEOUT", cfg.ModeContextTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if cfg.EmbeddingRetries < 0 {
		return Config{}, fmt.Errorf("EMBEDDING_MAX_RETRIES must be >= 0")
	}
	if cfg.SimilarityMinScore < -1 || cfg.SimilarityMinScore > 1 {
		return Config{}, fmt.Errorf("SIMILARITY_MIN_SCORE must be within [-1, 1]")
	}
	switch cfg.VectorIndex {
	case "memory":
	case "pgvector":
		if !strings.HasPrefix(strings.ToLower(cfg.DatabaseURL), "postgres") {
			return Config{}, fmt.Errorf("VECTOR_INDEX=pgvector requires a postgres DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("VECTOR_INDEX must be memory or pgvector, got %q", cfg.VectorIndex)
	}
	switch cfg.ModelAdapterMode {
	case "auto", "anthropic", "http", "mock":
	default:
		return Config{}, fmt.Errorf("MODEL_ADAPTER_MODE must be auto, anthropic, http or mock, got %q", cfg.ModelAdapterMode)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", cfg.LogLevel)
	}
	if cfg.HistoryRecentLimit <= 0 || cfg.HistoryTopK <= 0 {
		return Config{}, fmt.Errorf("HISTORY_RECENT_LIMIT and HISTORY_TOP_K must be positive")
	}
	if cfg.HistoryGeneralWindow <= 0 || cfg.HistorySourceTimeout <= 0 {
		return Config{}, fmt.Errorf("HISTORY_GENERAL_WINDOW and HISTORY_SOURCE_TIMEOUT must be positive")
	}
	if cfg.HistoryDedupPrefix <= 0 {
		return Config{}, fmt.Errorf("HISTORY_DEDUP_PREFIX must be positive")
	}
	if cfg.HistoryMinAckTokens <= 0 || cfg.PlaceholderBaseTokens <= 0 {
		return Config{}, fmt.Errorf("HISTORY_MIN_ACK_TOKENS and PROMPT_PLACEHOLDER_BASE_TOKENS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
