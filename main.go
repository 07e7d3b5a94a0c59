package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xiaot623/gogo/uxrunner/internal/adapter/figma"
	"github.com/xiaot623/gogo/uxrunner/internal/adapter/llm"
	"github.com/xiaot623/gogo/uxrunner/internal/adapter/session"
	"github.com/xiaot623/gogo/uxrunner/internal/analysis"
	"github.com/xiaot623/gogo/uxrunner/internal/config"
	"github.com/xiaot623/gogo/uxrunner/internal/embedding"
	"github.com/xiaot623/gogo/uxrunner/internal/findings"
	"github.com/xiaot623/gogo/uxrunner/internal/hub"
	"github.com/xiaot623/gogo/uxrunner/internal/knowledge"
	"github.com/xiaot623/gogo/uxrunner/internal/oracle"
	"github.com/xiaot623/gogo/uxrunner/internal/repository"
	"github.com/xiaot623/gogo/uxrunner/internal/runner"
	"github.com/xiaot623/gogo/uxrunner/internal/service"
	"github.com/xiaot623/gogo/uxrunner/internal/similarity"
	handler "github.com/xiaot623/gogo/uxrunner/internal/transport/http"
	"github.com/xiaot623/gogo/uxrunner/internal/transport/rpc"
	"github.com/xiaot623/gogo/uxrunner/policy"
)

var rootCmd = &cobra.Command{
	Use:   "uxrunner",
	Short: "Automated usability testing runs",
	Long: `uxrunner drives a persona through a live page or prototype, records every
step of the session and turns what it saw into clustered usability findings.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP, stream and RPC servers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if level == "debug" {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

// newEmbedder returns nil when no embedding model is configured.
func newEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	if cfg.EmbeddingModel == "" || cfg.GenAIAPIKey == "" {
		return nil, nil
	}
	return embedding.NewGenAIEmbedder(ctx, cfg.GenAIAPIKey, cfg.EmbeddingModel)
}

func newIndex(store *repository.SQLiteStore, embedder embedding.Embedder, logger *zap.Logger) *knowledge.Index {
	opts := []knowledge.IndexOption{
		knowledge.WithLexicalScorer(similarity.Coverage{}),
		knowledge.WithLogger(logger),
	}
	if embedder != nil {
		opts = append(opts, knowledge.WithEmbedder(embedder))
	}
	return knowledge.NewIndex(store, opts...)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting uxrunner",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("rpc_port", cfg.RPCPort),
		zap.String("database", cfg.DatabaseURL),
		zap.String("session_mode", cfg.SessionMode),
		zap.String("llm_provider", cfg.LLMProvider))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer db.Close()

	// Initialize session backend
	var backend session.Backend
	switch cfg.SessionMode {
	case config.SessionModeRod:
		opts := session.DefaultRodOptions()
		opts.ControlURL = cfg.ChromeURL
		opts.ViewportWidth = cfg.Runner.ViewportWidth
		opts.ViewportHeight = cfg.Runner.ViewportHeight
		opts.NavigationTimeout = cfg.SessionTimeout
		rb := session.NewRodBackend(opts, logger.Named("rod"))
		defer rb.Shutdown()
		go rb.RunReaper(ctx, time.Minute)
		backend = rb
	default:
		backend = session.NewClient(cfg.SessionBackendURL, cfg.SessionTimeout)
	}

	// Initialize decision oracle
	llmClient, err := llm.NewLLMClient(ctx, llm.Options{
		Provider:    cfg.LLMProvider,
		BaseURL:     cfg.LiteLLMURL,
		APIKey:      cfg.LiteLLMAPIKey,
		Timeout:     cfg.LLMTimeout,
		GenAIAPIKey: cfg.GenAIAPIKey,
		GenAIModel:  cfg.GenAIModel,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize llm client: %w", err)
	}
	model := cfg.LLMModel
	if cfg.LLMProvider == llm.ProviderGenAI {
		model = cfg.GenAIModel
	}
	chat := oracle.NewChatOracle(llmClient, model)

	// Initialize knowledge retrieval and clustering
	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize embedder: %w", err)
	}
	var retriever knowledge.Retriever
	if cfg.KnowledgeURL != "" {
		retriever = knowledge.NewClient(cfg.KnowledgeURL, cfg.LLMTimeout)
	} else {
		retriever = newIndex(db, embedder, logger.Named("knowledge"))
	}

	clusterOpts := []findings.ClustererOption{
		findings.WithThreshold(cfg.Analysis.ClusterThresholdFor(embedder != nil)),
		findings.WithLogger(logger),
	}
	if embedder != nil {
		clusterOpts = append(clusterOpts, findings.WithScorer(similarity.NewEmbedding(embedder)))
	}
	clusterer := findings.NewClusterer(clusterOpts...)

	pass := analysis.NewPass(chat, retriever,
		analysis.WithLogger(logger.Named("analysis")),
		analysis.WithRetrieval(cfg.Analysis.KnowledgeThreshold, cfg.Analysis.KnowledgeLimit))

	// Initialize policy engine
	var policyEngine *policy.Engine
	if cfg.PolicyFile != "" {
		policyEngine, err = policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	} else {
		policyEngine, err = policy.NewEngine(ctx, policy.DefaultPolicy)
	}
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	var cache runner.RunCache
	if cfg.RunCacheDir != "" {
		fc, err := runner.NewFileCache(cfg.RunCacheDir)
		if err != nil {
			return fmt.Errorf("initialize run cache: %w", err)
		}
		cache = fc
	} else {
		cache = runner.NewMemoryCache()
	}

	// Initialize stream hub
	h := hub.NewHub(logger.Named("hub"))
	go h.Run(ctx)

	// Initialize service
	svc := service.New(db, runner.Deps{
		Backend: backend,
		Oracle:  chat,
		Cache:   cache,
		Pass:    pass,
		Policy:  policyEngine,
		Figma:   figma.NewClient(cfg.FigmaAPIToken),
	}, cfg.Runner,
		service.WithPublisher(h),
		service.WithLogger(logger),
		service.WithClusterer(clusterer),
		service.WithRunTimeout(cfg.RunTimeout),
	)
	if cfg.RunTimeout > 0 {
		go svc.RunTimeoutMonitor(ctx)
	}

	// Start HTTP server
	e := handler.NewServer(svc, hub.NewStreamer(h, hub.DefaultStreamConfig()))
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	// Start RPC server
	rpcServer, err := rpc.NewServer(svc, logger.Named("rpc"))
	if err != nil {
		return err
	}
	go func() {
		addr := fmt.Sprintf(":%d", cfg.RPCPort)
		if err := rpcServer.Start(addr); err != nil {
			logger.Error("rpc server failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("uxrunner started")
	<-ctx.Done()
	logger.Info("shutting down uxrunner")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server did not shut down gracefully", zap.Error(err))
	}
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc server did not shut down gracefully", zap.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs still active at shutdown", zap.Error(err))
	}

	logger.Info("uxrunner stopped")
	return nil
}
