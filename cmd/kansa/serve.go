package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kansa/internal/auth"
	"github.com/ashita-ai/kansa/internal/capability"
	"github.com/ashita-ai/kansa/internal/config"
	"github.com/ashita-ai/kansa/internal/embedding"
	"github.com/ashita-ai/kansa/internal/engine"
	"github.com/ashita-ai/kansa/internal/guardrail"
	"github.com/ashita-ai/kansa/internal/ledger"
	"github.com/ashita-ai/kansa/internal/mcp"
	"github.com/ashita-ai/kansa/internal/ratelimit"
	"github.com/ashita-ai/kansa/internal/search"
	"github.com/ashita-ai/kansa/internal/server"
	"github.com/ashita-ai/kansa/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("kansa starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	store, err := openStoreCtx(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Auth is opt-in: no admin key means an open server (local development).
	var jwtMgr *auth.JWTManager
	var adminKeyHash string
	if cfg.AdminAPIKey != "" {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		adminKeyHash, err = auth.HashAPIKey(cfg.AdminAPIKey)
		if err != nil {
			return fmt.Errorf("auth: hash admin key: %w", err)
		}
	} else {
		logger.Warn("auth: disabled (no KANSA_ADMIN_API_KEY)")
	}

	embedder := newEmbeddingProvider(ctx, cfg, logger)

	// Policy search runs against Qdrant when configured, otherwise against
	// the store's own vector search.
	var searcher search.Searcher
	if cfg.QdrantURL != "" {
		qdrantIndex, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = qdrantIndex.Close() }()

		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		searcher = qdrantIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		searcher = search.NewStoreSearcher(store)
		logger.Info("qdrant: disabled (no KANSA_QDRANT_URL)")
	}

	var drafter capability.Drafter
	if cfg.Drafter == "gemini" {
		gemini, err := capability.NewGeminiDrafter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return fmt.Errorf("gemini: %w", err)
		}
		defer func() { _ = gemini.Close() }()
		drafter = gemini
		logger.Info("drafter: gemini", "model", cfg.GeminiModel)
	} else {
		drafter = capability.NewMockDrafter()
		logger.Info("drafter: mock")
	}

	registry, err := capability.NewRegistry(
		capability.NewTransactionIngest(store),
		capability.NewAnomalyDetect(),
		capability.NewPolicyRetrieve(embedder, searcher),
		capability.NewExplanationDraft(drafter),
	)
	if err != nil {
		return fmt.Errorf("capability registry: %w", err)
	}

	gate, err := guardrail.NewGate(registry, guardrail.DefaultPolicy())
	if err != nil {
		return fmt.Errorf("guardrail: %w", err)
	}

	orchestrator := engine.New(store, ledger.NewStoreLedger(store), registry, gate, logger)
	pool := engine.NewPool(orchestrator, int64(cfg.MaxConcurrentRuns), logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(store, pool, logger, version)

	srv := server.New(server.Config{
		Store:               store,
		Scheduler:           pool,
		Logger:              logger,
		JWTMgr:              jwtMgr,
		AdminKeyHash:        adminKeyHash,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Stop accepting requests first so nothing new is
	// scheduled, then let in-flight runs persist their terminal state.
	logger.Info("kansa shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := pool.Shutdown(poolCtx); err != nil {
		logger.Error("run pool shutdown error", "error", err)
	}
	poolCancel()

	logger.Info("kansa stopped")
	return nil
}

// newEmbeddingProvider selects the embedding provider. Auto mode prefers
// Ollama if reachable (embeddings stay local), then OpenAI if a key is
// present, and falls back to the deterministic hash provider.
func newEmbeddingProvider(ctx context.Context, cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when KANSA_EMBEDDING_PROVIDER=openai")
			return embedding.NewHashProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "hash":
		logger.Info("embedding provider: hash (deterministic, no semantic quality)")
		return embedding.NewHashProvider(dims)

	default: // "auto"
		if ollamaReachable(ctx, cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using hash fallback")
		return embedding.NewHashProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
