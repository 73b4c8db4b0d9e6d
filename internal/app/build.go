package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/complyassist/internal/assistant"
	"github.com/ent0n29/complyassist/internal/config"
	"github.com/ent0n29/complyassist/internal/history"
	"github.com/ent0n29/complyassist/internal/httpapi"
	"github.com/ent0n29/complyassist/internal/llm"
	"github.com/ent0n29/complyassist/internal/memory"
	"github.com/ent0n29/complyassist/internal/observability"
	"github.com/ent0n29/complyassist/internal/session"
	"github.com/ent0n29/complyassist/internal/similarity"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Engine   *history.Engine
	Pipeline *assistant.Pipeline
	Models   *history.ModelTable
	Metrics  *observability.Metrics
	// Watcher is nil unless MODEL_LIMITS_FILE is set.
	Watcher *config.ModelLimitsWatcher
	Store   string

	// Cleanup should be called on shutdown to release external resources (DB, watchers, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	models, err := LoadModels(cfg)
	if err != nil {
		return nil, err
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	searcher, err := buildSearcher(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	engine := history.NewEngine(store, searcher, HistoryOptions(cfg), logger, metrics)

	adapter, err := llm.NewAdapter(llm.Config{
		Mode:            cfg.ModelAdapterMode,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicURL:    cfg.AnthropicURL,
		HTTPURL:         cfg.ModelHTTPURL,
		HTTPStrict:      cfg.ModelHTTPStrict,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("model adapter init failed: %w", err)
	}

	pipeline, err := assistant.NewPipeline(assistant.Deps{
		History:          engine,
		Models:           models,
		Model:            adapter,
		Writer:           store,
		Indexer:          searcher,
		DefaultModel:     cfg.DefaultModel,
		PlaceholderBase:  cfg.PlaceholderBaseTokens,
		ModeContextLimit: cfg.ModeContextTimeout,
		Logger:           logger,
		Metrics:          metrics,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("assistant pipeline init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetEndedRetention(cfg.SessionRetention)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
		logger.Info("session expired", "tenant_id", s.TenantID, "session_id", s.ID)
	})

	var watcher *config.ModelLimitsWatcher
	if strings.TrimSpace(cfg.ModelLimitsFile) != "" {
		watcher, err = config.NewModelLimitsWatcher(cfg.ModelLimitsFile, models, logger)
		if err != nil {
			// Hot reload is optional; the table loaded at startup stays in use.
			logger.Warn("model limits hot reload disabled", "path", cfg.ModelLimitsFile, "error", err)
			watcher = nil
		}
	}

	backend := memory.Backend(store)
	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:     sessions,
		Assistant:    pipeline,
		History:      engine,
		Metrics:      metrics,
		Logger:       logger,
		StoreBackend: backend,
	})

	logger.Info("assistant wired",
		"store_backend", backend,
		"vector_index", cfg.VectorIndex,
		"model_provider", llm.Provider(adapter),
		"default_model", cfg.DefaultModel,
		"models", len(models.Models()))

	cleanup := func() error {
		var errs []error
		if watcher != nil {
			if err := watcher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Engine:   engine,
		Pipeline: pipeline,
		Models:   models,
		Metrics:  metrics,
		Watcher:  watcher,
		Store:    backend,
		Cleanup:  cleanup,
	}, nil
}

// LoadModels builds the model table and checks that the default model is in it.
func LoadModels(cfg config.Config) (*history.ModelTable, error) {
	limits, err := config.LoadModelLimits(cfg.ModelLimitsFile)
	if err != nil {
		return nil, err
	}
	models, err := history.NewModelTable(limits)
	if err != nil {
		return nil, fmt.Errorf("model table init failed: %w", err)
	}
	if _, err := models.Lookup(cfg.DefaultModel); err != nil {
		return nil, fmt.Errorf("DEFAULT_MODEL: %w", err)
	}
	return models, nil
}

// HistoryOptions maps configuration onto engine options.
func HistoryOptions(cfg config.Config) history.Options {
	return history.Options{
		RecentLimit:   cfg.HistoryRecentLimit,
		TopK:          cfg.HistoryTopK,
		GeneralWindow: cfg.HistoryGeneralWindow,
		DedupPrefix:   cfg.HistoryDedupPrefix,
		SourceTimeout: cfg.HistorySourceTimeout,
		MinAckTokens:  cfg.HistoryMinAckTokens,
	}
}

func buildSearcher(ctx context.Context, cfg config.Config, store memory.Store) (*similarity.Searcher, error) {
	var embedder similarity.Embedder = similarity.NewHashEmbedder(cfg.EmbeddingDim)
	if strings.TrimSpace(cfg.EmbeddingURL) != "" {
		e, err := similarity.NewHTTPEmbedder(similarity.HTTPEmbedderConfig{
			BaseURL:    cfg.EmbeddingURL,
			APIKey:     cfg.EmbeddingAPIKey,
			Model:      cfg.EmbeddingModel,
			MaxRetries: cfg.EmbeddingRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("embedder init failed: %w", err)
		}
		embedder = e
	}

	// In process only: it holds turns logged since startup and is not backfilled
	// from the turn store.
	var index similarity.Index = similarity.NewMemoryIndex()
	if cfg.VectorIndex == "pgvector" {
		pg, ok := store.(*memory.PostgresStore)
		if !ok {
			return nil, errors.New("VECTOR_INDEX=pgvector requires the postgres turn store")
		}
		idx, err := similarity.NewPgvectorIndex(ctx, pg.Pool(), cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("pgvector index init failed: %w", err)
		}
		index = idx
	}
	return similarity.NewSearcher(embedder, index, float32(cfg.SimilarityMinScore)), nil
}
