package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/padhai/ragserver/internal/ai"
	"github.com/padhai/ragserver/internal/chunker"
	"github.com/padhai/ragserver/internal/config"
	"github.com/padhai/ragserver/internal/docstore"
	"github.com/padhai/ragserver/internal/extract"
	"github.com/padhai/ragserver/internal/handler"
	"github.com/padhai/ragserver/internal/indexcache"
	"github.com/padhai/ragserver/internal/job"
	"github.com/padhai/ragserver/internal/schedule"
	"github.com/padhai/ragserver/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ragserver",
		Short: "study-document RAG backend",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the ragserver http service",
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
			return runServer(cfg)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("doc_store", cfg.DocStore.Type),
		zap.String("embed_provider", cfg.AI.Embed.Provider),
		zap.String("chat_provider", cfg.AI.Chat.Provider),
	)

	store, err := docstore.New(cfg.DocStore)
	if err != nil {
		return fmt.Errorf("init doc store: %w", err)
	}
	embedProvider, err := ai.NewEmbedProvider(cfg.AI.Embed.Provider, cfg.AI.Embed.Data)
	if err != nil {
		return fmt.Errorf("init embed provider: %w", err)
	}
	chatProvider, err := ai.NewProvider(cfg.AI.Chat.Provider, cfg.AI.Chat.Data)
	if err != nil {
		return fmt.Errorf("init chat provider: %w", err)
	}
	ck, err := chunker.New(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("init chunker: %w", err)
	}

	cache := indexcache.New(
		cfg.Pipeline.IndexCacheSize,
		time.Duration(cfg.Pipeline.IndexCacheTTLMinutes)*time.Minute,
	)
	ragService := service.NewRAGService(
		store,
		extract.Pages,
		ck,
		ai.NewEmbedder(embedProvider, cfg.AI.Embed.Model),
		ai.NewGenerator(chatProvider, cfg.AI.Chat.Model),
		cache,
		cfg.Pipeline.TopK,
		cfg.Pipeline.EmbedBatchSize,
	)

	router := handler.NewRouter(handler.RouterDeps{
		RAG:             handler.NewRAGHandler(ragService),
		JWTSecret:       []byte(cfg.JWTSecret),
		JWTAudience:     cfg.JWTAudience,
		CORSAllowlist:   cfg.CORSAllowlist,
		IndexRateWindow: time.Duration(cfg.Pipeline.IndexRateLimitSecs) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewIndexSweepJob(cache, ragService), cfg.Pipeline.SweepSpec); err != nil {
		return fmt.Errorf("schedule index sweep: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler: router,
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
