// Package server wires the sentinel together and runs the HTTP surface.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Khongirad/INOMAD-sub003/internal/alerts"
	"github.com/Khongirad/INOMAD-sub003/internal/config"
	"github.com/Khongirad/INOMAD-sub003/internal/guard"
	"github.com/Khongirad/INOMAD-sub003/internal/health"
	"github.com/Khongirad/INOMAD-sub003/internal/idgen"
	"github.com/Khongirad/INOMAD-sub003/internal/indexer"
	"github.com/Khongirad/INOMAD-sub003/internal/logging"
	"github.com/Khongirad/INOMAD-sub003/internal/metrics"
	"github.com/Khongirad/INOMAD-sub003/internal/protection"
	"github.com/Khongirad/INOMAD-sub003/internal/ratelimit"
	"github.com/Khongirad/INOMAD-sub003/internal/realtime"
	"github.com/Khongirad/INOMAD-sub003/internal/risk"
	"github.com/Khongirad/INOMAD-sub003/internal/security"
	"github.com/Khongirad/INOMAD-sub003/internal/traces"
	"github.com/Khongirad/INOMAD-sub003/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the sentinel pipeline.
type Server struct {
	cfg          *config.Config
	scorer       *risk.Scorer
	detector     *indexer.Detector
	dispatcher   *alerts.Dispatcher
	orchestrator *protection.Orchestrator
	guardClient  guard.Contract
	eventIndexer *indexer.Indexer
	hub          *realtime.Hub
	limiter      *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	tracesShutdown func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGuard sets a custom enforcement contract (for testing)
func WithGuard(g guard.Contract) Option {
	return func(s *Server) {
		s.guardClient = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, cfg.LogFormat),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set guard/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Audit storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var store risk.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		store = risk.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL audit storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		store = risk.NewMemoryStore()
		s.logger.Info("using in-memory audit storage (snapshots will not persist)")
	}

	s.scorer = risk.NewScorer(store)

	// Alert stream hub doubles as the dispatcher's publish hook.
	s.hub = realtime.NewHub(s.logger)
	s.dispatcher = alerts.NewDispatcher(s.hub, s.logger)

	// Pattern detector. The large-transfer threshold comes from config as a
	// decimal string in the token's smallest unit.
	var largeTx *big.Int
	if cfg.LargeTxThreshold != "" {
		v, ok := new(big.Int).SetString(cfg.LargeTxThreshold, 10)
		if !ok {
			return nil, fmt.Errorf("invalid LARGE_TX_THRESHOLD %q", cfg.LargeTxThreshold)
		}
		largeTx = v
	}
	s.detector = indexer.NewDetector(s.scorer, largeTx)

	// Enforcement contract client, when a signing key is configured.
	if s.guardClient == nil && cfg.EnforcementEnabled() {
		g, err := guard.New(guard.Config{
			RPCURL:     cfg.RPCURL,
			PrivateKey: cfg.PrivateKey,
			ChainID:    cfg.ChainID,
			Contract:   cfg.GuardContract,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create guard client: %w", err)
		}
		s.guardClient = g
		s.logger.Info("enforcement enabled", "contract", cfg.GuardContract, "signer", g.Address())
	} else if s.guardClient == nil {
		s.logger.Warn("enforcement disabled, lock attempts will report failure")
	}

	s.orchestrator = protection.New(s.scorer, s.dispatcher, s.guardClient, s.detector, s.logger)

	// Chain event source. A missing or unreachable RPC just means offline
	// mode; suspicion reports still arrive through the HTTP surface.
	idxCfg := indexer.DefaultConfig()
	idxCfg.RPCURL = cfg.RPCURL
	idxCfg.TokenContract = common.HexToAddress(cfg.TokenContract)
	idxCfg.PollInterval = cfg.PollInterval
	idxCfg.StartBlock = cfg.StartBlock
	s.eventIndexer = indexer.New(idxCfg, s.detector, s.orchestrator, s.logger)

	s.registerHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) registerHealthChecks() {
	s.healthReg.Register("indexer", func(ctx context.Context) health.Status {
		if s.eventIndexer.Offline() {
			return health.Status{Name: "indexer", Healthy: true, Detail: "offline mode"}
		}
		return health.Status{Name: "indexer", Healthy: true}
	})
	s.healthReg.Register("database", func(ctx context.Context) health.Status {
		if s.db == nil {
			return health.Status{Name: "database", Healthy: true, Detail: "in-memory"}
		}
		if err := s.db.PingContext(ctx); err != nil {
			return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "database", Healthy: true}
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers and CORS
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(nil))

	// Request body size cap
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Per-IP rate limiting
	s.limiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.limiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket alert stream
	s.router.GET("/ws/alerts", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")

	alerts.NewHandler(s.dispatcher).RegisterRoutes(v1)
	protection.NewHandler(s.orchestrator, s.dispatcher).RegisterRoutes(v1)

	v1.GET("/stream/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": s.hub.Stats()})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "wallet-sentinel",
		"description": "Real-time wallet risk scoring and automated protection",
		"version":     "0.1.0",
		"chainId":     s.cfg.ChainID,
		"enforcement": s.guardClient != nil,
		"offline":     s.eventIndexer.Offline(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the chain event indexer
	if err := s.eventIndexer.Start(runCtx); err != nil {
		s.logger.Error("failed to start event indexer", "error", err)
	}

	// Start alert stream hub
	go s.hub.Run(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, indexer poll loop)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop the indexer poll loop
	if !s.eventIndexer.Offline() {
		s.eventIndexer.Stop()
		s.logger.Info("event indexer stopped")
	}

	// Stop the rate limiter cleanup goroutine
	if s.limiter != nil {
		s.limiter.Stop()
	}

	// Flush traces
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close enforcement client connection
	if closer, ok := s.guardClient.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
