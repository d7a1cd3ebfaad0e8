package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/normcite/retrieval-core/internal/answer"
	"github.com/normcite/retrieval-core/internal/auth"
	"github.com/normcite/retrieval-core/internal/comprehensive"
	"github.com/normcite/retrieval-core/internal/config"
	"github.com/normcite/retrieval-core/internal/embedding"
	"github.com/normcite/retrieval-core/internal/hybrid"
	"github.com/normcite/retrieval-core/internal/llm"
	"github.com/normcite/retrieval-core/internal/multiquery"
	"github.com/normcite/retrieval-core/internal/reranker"
	"github.com/normcite/retrieval-core/internal/repo"
	"github.com/normcite/retrieval-core/internal/scope"
	"github.com/normcite/retrieval-core/internal/server"
)

// container holds every process-owned resource with explicit
// startup/shutdown hooks, per the design note against lazy module
// globals: the embedding service and retrieval broker are long-lived
// and constructed once here, not behind package-level init().
type container struct {
	vectorRepo *repo.QdrantRepo
	treeRepo   *repo.PostgresRepo
	httpServer *server.Server
}

func (c *container) shutdown(ctx context.Context) {
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down HTTP server", "error", err)
		}
	}
	if c.vectorRepo != nil {
		if err := c.vectorRepo.Close(); err != nil {
			slog.Warn("error closing qdrant connection", "error", err)
		}
	}
	if c.treeRepo != nil {
		c.treeRepo.Close()
	}
}

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting retrieval core",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	c := &container{}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		c.shutdown(shutdownCtx)
	}()

	c.treeRepo, err = repo.NewPostgresRepo(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	logger.Info("connected to postgres")

	c.vectorRepo, err = repo.NewQdrantRepo(ctx, cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	logger.Info("connected to qdrant")

	repository := repo.NewCompositeRepo(c.vectorRepo, c.treeRepo)

	cloudEmbedder := embedding.NewCloudProvider(cfg.CloudEmbeddingURL, cfg.CloudEmbeddingModel, cfg.EmbeddingDimension)
	var fallbackEmbedder embedding.Port
	if cfg.IngestEmbedFallbackURL != "" {
		fallbackEmbedder = embedding.NewLocalProvider(cfg.IngestEmbedFallbackURL, cfg.IngestEmbedFallbackModel, cfg.EmbeddingDimension)
	}

	var primary embedding.Port = cloudEmbedder
	if cfg.EmbeddingProviderDefault == "LOCAL" {
		primary = embedding.NewLocalProvider(cfg.LocalEmbeddingURL, cfg.LocalEmbeddingModel, cfg.EmbeddingDimension)
	}

	selector := embedding.NewSelector(primary, fallbackEmbedder, cfg.IsDeployed())
	embedder := embedding.NewCachedPort(selector, cfg.EmbeddingCacheMaxSize, cfg.EmbeddingCacheTTLSeconds, cfg.EmbeddingConcurrency)
	logger.Info("initialized embedding port", "provider", primary.Profile().Provider)

	rerankPort := reranker.NewHTTPReranker(cfg.RerankerURL, cfg.RerankMinRelevanceScore)

	resolver := scope.New(scope.DefaultDomain)
	validator := scope.NewValidator(resolver)

	retriever := hybrid.New(embedder, repository, rerankPort, validator, logger)

	multiQueryCoord := multiquery.New(retriever, multiquery.Options{
		MaxParallel:                cfg.MultiQueryMaxParallel,
		SubqueryTimeout:            time.Duration(cfg.MultiQuerySubqueryTimeoutMS) * time.Millisecond,
		DropScopePenalizedBranches: cfg.MultiQueryDropScopePenalized,
		ScopePenaltyDropThreshold:  cfg.MultiQueryScopePenaltyThreshold,
	})

	comprehensiveCoord := comprehensive.New(retriever, embedder, repository, cfg.CoverageGraphExpansionMaxHops)

	llmClient := llm.NewOllamaSynthesizer(cfg.LLMBaseURL, cfg.LLMModel)
	answerHandler := answer.New(resolver, comprehensiveCoord, llmClient, cfg.LLMModel)

	handlers := &server.Handlers{
		Resolver:           resolver,
		Validator:          validator,
		HybridRetriever:    retriever,
		MultiQueryCoord:    multiQueryCoord,
		ComprehensiveCoord: comprehensiveCoord,
		AnswerHandler:      answerHandler,
		RRFK:               cfg.RRFK,
	}

	authMiddleware := auth.NewMiddleware(cfg.IsDeployed(), cfg.AuthBearerSecret)

	httpServer := server.New(server.Config{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		AllowedOrigins: []string{"*"},
		Auth:           authMiddleware,
	}, handlers)
	c.httpServer = httpServer

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	}

	return nil
}
