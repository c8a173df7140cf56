package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/calderhq/navigator/internal/ai"
	"github.com/calderhq/navigator/internal/config"
	"github.com/calderhq/navigator/internal/db"
	"github.com/calderhq/navigator/internal/filestore"
	"github.com/calderhq/navigator/internal/handler"
	"github.com/calderhq/navigator/internal/ingest"
	"github.com/calderhq/navigator/internal/job"
	"github.com/calderhq/navigator/internal/lookup"
	"github.com/calderhq/navigator/internal/middleware"
	"github.com/calderhq/navigator/internal/repo"
	"github.com/calderhq/navigator/internal/retrieval"
	"github.com/calderhq/navigator/internal/schedule"
	"github.com/calderhq/navigator/internal/sentiment"
	"github.com/calderhq/navigator/internal/service"
	"github.com/calderhq/navigator/internal/ticketing"
	"github.com/calderhq/navigator/internal/tool"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "navigator",
		Short: "navigator support assistant backend",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run navigator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(conn); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, conn)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	logutil.GetLogger(context.Background()).Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("file_store", cfg.FileStore.Type),
	)

	docRepo := repo.NewDocumentRepo(conn)
	chunkRepo := repo.NewChunkRepo(conn)
	convRepo := repo.NewConversationRepo(conn)
	turnRepo := repo.NewTurnRepo(conn)
	escalationRepo := repo.NewEscalationRepo(conn)

	providerArgs := cfg.AI.Data
	if providerArgs == nil {
		providerArgs = cfg.AI
	}
	aiProvider, err := ai.NewProvider(cfg.AI.Provider, providerArgs)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	generator := ai.NewGenerator(aiProvider, cfg.AI.Model)
	embedder := ai.NewEmbedder(aiProvider, cfg.AI.EmbedModel)

	chunker := ingest.NewChunker(cfg.Chunking.MaxChars, cfg.Chunking.Overlap)
	indexer := ingest.NewIndexer(docRepo, chunkRepo, embedder, chunker, cfg.Retrieval.EmbedConcurrency)

	engine := retrieval.NewEngine(chunkRepo, embedder, retrieval.Options{
		TopK:          cfg.Retrieval.TopK,
		CandidateK:    cfg.Retrieval.CandidateK,
		LexicalWeight: cfg.Retrieval.LexicalWeight,
		Timeout:       time.Duration(cfg.Retrieval.TimeoutSeconds) * time.Second,
		CacheSize:     cfg.Retrieval.CacheSize,
		CacheTTL:      time.Duration(cfg.Retrieval.CacheTTLMinutes) * time.Minute,
	})

	sentimentClient := sentiment.New(cfg.Sentiment.Endpoint, cfg.Sentiment.APIKey,
		time.Duration(cfg.Sentiment.TimeoutSeconds)*time.Second, cfg.Sentiment.MaxAttempts)
	ticketClient := ticketing.New(cfg.Ticketing.Endpoint, cfg.Ticketing.APIKey,
		time.Duration(cfg.Ticketing.TimeoutSeconds)*time.Second, cfg.Escalation.DeliveryAttempts)
	lookupClient := lookup.New(cfg.Lookup.Endpoint, cfg.Lookup.APIKey,
		time.Duration(cfg.Lookup.TimeoutSeconds)*time.Second)

	registry := tool.NewRegistry(time.Duration(cfg.Agent.ToolTimeoutSeconds) * time.Second)
	if err := registry.Register(tool.NewSearchTool(engine)); err != nil {
		return err
	}
	if err := registry.Register(tool.NewEscalateTool()); err != nil {
		return err
	}
	if cfg.Lookup.Endpoint != "" {
		if err := registry.Register(tool.NewLookupTool(lookupClient)); err != nil {
			return err
		}
	}

	escalationService := service.NewEscalationService(
		service.EscalationPolicy{
			SentimentThreshold: cfg.Escalation.SentimentThreshold,
			FailureThreshold:   cfg.Escalation.FailureThreshold,
		},
		escalationRepo, convRepo, ticketClient, turnRepo)

	chatService := service.NewChatService(
		convRepo, turnRepo, engine,
		service.NewContextAssembler(cfg.Context.HistoryTurns, cfg.Context.TokenBudget),
		service.NewAgentService(generator, registry, cfg.Agent.MaxSteps),
		service.NewGenerationService(generator),
		escalationService, sentimentClient, cfg.Context.HistoryTurns)

	var store filestore.Store
	if cfg.FileStore.Type != "" {
		store, err = filestore.New(cfg.FileStore)
		if err != nil {
			return fmt.Errorf("init file store: %w", err)
		}
	}

	deps := handler.RouterDeps{
		Chat:          handler.NewChatHandler(chatService),
		Conversations: handler.NewConversationHandler(chatService, escalationService),
		Ingest:        handler.NewIngestHandler(indexer, store),
		Health:        handler.NewHealthHandler(conn, cfg.Environment, cfg.AI.Provider),
		JWTSecret:     []byte(cfg.JWTSecret),
		ChatWindow:    time.Duration(cfg.ChatRateLimit) * time.Second,
	}

	webEngine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewChunkSweepJob(indexer), cfg.Escalation.SweepSpec); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewEscalationRedeliverJob(escalationService), cfg.Escalation.RedeliverSpec); err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := webEngine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()
	logutil.GetLogger(context.Background()).Info("http server listening",
		zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
