// Package api exposes the node's HTTP surface: series reads, the two
// gossip ingestion paths, health, and Prometheus metrics.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/aipriceaction/priceproxy/internal/config"
	"github.com/aipriceaction/priceproxy/internal/ingest"
	"github.com/aipriceaction/priceproxy/internal/store"
	"github.com/aipriceaction/priceproxy/internal/timeutil"
	"github.com/aipriceaction/priceproxy/internal/worker"
)

// Server is the HTTP front of a node. It owns the gin engine and the
// public-gossip rate limiter; everything else is injected.
type Server struct {
	router  *gin.Engine
	logger  *zap.Logger
	limiter *ipRateLimiter

	cfg      *config.Config
	store    *store.SymbolStore
	pipeline *ingest.Pipeline
	groups   config.TickerGroups
	status   *worker.Status
	hours    timeutil.OfficeHours
	clock    timeutil.Clock

	instanceID   string
	totalTickers int
	startedAt    time.Time
}

// NewServer wires routes and middleware around the injected components.
func NewServer(
	cfg *config.Config,
	st *store.SymbolStore,
	pipeline *ingest.Pipeline,
	groups config.TickerGroups,
	status *worker.Status,
	hours timeutil.OfficeHours,
	clock timeutil.Clock,
	logger *zap.Logger,
) *Server {
	server := &Server{
		logger:       logger.Named("api"),
		limiter:      newIPRateLimiter(logger.Named("ratelimit")),
		cfg:          cfg,
		store:        st,
		pipeline:     pipeline,
		groups:       groups,
		status:       status,
		hours:        hours,
		clock:        clock,
		instanceID:   uuid.NewString(),
		totalTickers: len(groups.AllSymbols()),
		startedAt:    time.Now(),
	}

	// Create router
	router := gin.New()

	// Add middleware
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("priceproxy"))

	// Configure CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	server.router = router
	server.registerRoutes()
	return server
}

// registerRoutes registers all API routes.
func (s *Server) registerRoutes() {
	s.router.GET("/tickers", s.getTickers)
	s.router.GET("/tickers/group", s.getTickerGroups)
	s.router.POST("/gossip", s.postGossip)
	s.router.POST("/public/gossip", s.limiter.Middleware(), s.postPublicGossip)
	s.router.GET("/health", s.getHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Start serves requests until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting API server",
		zap.String("addr", addr),
		zap.String("instance_id", s.instanceID))
	return s.router.Run(addr)
}

// Router returns the internal gin engine for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Stop halts the rate limiter's background cleanup.
func (s *Server) Stop() {
	s.limiter.Stop()
}
