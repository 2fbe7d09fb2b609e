package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aipriceaction/priceproxy/api"
	"github.com/aipriceaction/priceproxy/internal/config"
	"github.com/aipriceaction/priceproxy/internal/ingest"
	"github.com/aipriceaction/priceproxy/internal/reputation"
	"github.com/aipriceaction/priceproxy/internal/store"
	"github.com/aipriceaction/priceproxy/internal/timeutil"
	"github.com/aipriceaction/priceproxy/internal/upstream"
	"github.com/aipriceaction/priceproxy/internal/worker"
	"github.com/aipriceaction/priceproxy/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Load the ticker catalogue
	groups, err := config.LoadTickerGroups(cfg.TickerGroupFile)
	if err != nil {
		zapLogger.Fatal("Failed to load ticker groups", zap.Error(err))
	}

	clock := timeutil.NewClock(cfg.Environment, zapLogger)
	hours := timeutil.NewOfficeHours(
		cfg.OfficeHours.Enabled,
		cfg.OfficeHours.Timezone,
		cfg.OfficeHours.StartHour,
		cfg.OfficeHours.EndHour,
		cfg.OfficeHours.WeekdaysOnly,
		zapLogger,
	)

	st := store.New()
	registry := reputation.New()
	pipeline := ingest.NewPipeline(st, registry, cfg.PrimaryToken, cfg.SecondaryToken, clock, zapLogger)
	status := worker.NewStatus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the background loop for the node's mode
	if cfg.IsFollower() {
		follower := worker.NewFollower(cfg.CoreNetworkURL, st, cfg.PublicRefreshInterval, status, clock, zapLogger)
		go follower.Run(ctx)
		zapLogger.Info("node running in follower mode",
			zap.String("core_url", cfg.CoreNetworkURL))
	} else {
		fetcher := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamRateLimit, true, zapLogger)
		broadcaster := worker.NewBroadcaster(cfg.InternalPeers, cfg.PublicPeers, cfg.PrimaryToken, cfg.IsProduction(), zapLogger)
		core := worker.NewCore(
			fetcher,
			st,
			broadcaster,
			groups.AllSymbols(),
			hours,
			cfg.CoreWorkerInterval,
			cfg.CoreWorkerQuietInterval,
			status,
			clock,
			zapLogger,
		)
		go core.Run(ctx)
		zapLogger.Info("node running in core mode",
			zap.Int("symbols", len(groups.AllSymbols())),
			zap.Int("internal_peers", len(cfg.InternalPeers)),
			zap.Int("public_peers", len(cfg.PublicPeers)))
	}

	// Create API server
	apiServer := api.NewServer(cfg, st, pipeline, groups, status, hours, clock, zapLogger)

	// Start HTTP server in a goroutine
	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		if err := apiServer.Start(addr); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	cancel()
	apiServer.Stop()

	zapLogger.Info("Server exited properly")
}
