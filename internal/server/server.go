// Package server wires the dashboard service together: upstream loader,
// virtual clock and playback driver, audit service, realtime hub, and
// the HTTP surface they share.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/potionwatch/internal/analysis"
	"github.com/mbd888/potionwatch/internal/clock"
	"github.com/mbd888/potionwatch/internal/config"
	"github.com/mbd888/potionwatch/internal/dataset"
	"github.com/mbd888/potionwatch/internal/health"
	"github.com/mbd888/potionwatch/internal/logging"
	"github.com/mbd888/potionwatch/internal/metrics"
	"github.com/mbd888/potionwatch/internal/network"
	"github.com/mbd888/potionwatch/internal/ratelimit"
	"github.com/mbd888/potionwatch/internal/realtime"
	"github.com/mbd888/potionwatch/internal/security"
	"github.com/mbd888/potionwatch/internal/traces"
	"github.com/mbd888/potionwatch/internal/upstream"
	"github.com/mbd888/potionwatch/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	catalog    *dataset.Catalog
	loader     *dataset.Loader
	clk        *clock.Clock
	driver     *clock.Driver
	audit      *analysis.Service
	auditTimer *analysis.Timer
	alerts     *analysis.Dispatcher
	hub        *realtime.Hub

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	db          *sql.DB // nil when running on the in-memory store
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	fetcher      dataset.Fetcher
	stopTraces   func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Travel-time graph, memoized per catalog revision.
	graphMu  sync.Mutex
	graph    *network.Graph
	graphRev uint64

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

// WithFetcher sets a custom upstream fetcher (for testing)
func WithFetcher(f dataset.Fetcher) Option {
	return func(s *Server) {
		s.fetcher = f
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set fetcher/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Report storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var store analysis.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		pgStore := analysis.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate audit report store", "error", err)
		}
		store = pgStore
		s.logger.Info("using PostgreSQL report storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		store = analysis.NewMemoryStore()
		s.logger.Info("using in-memory report storage (reports will not persist)")
	}

	// Dataset catalog and the clock that plays through it
	s.catalog = dataset.NewCatalog()
	s.clk = clock.New(clock.WithSpeed(cfg.DefaultSpeed), clock.WithPaused(true))
	s.driver = clock.NewDriver(s.clk,
		time.Duration(cfg.PlaybackTickMS)*time.Millisecond,
		clock.WithDriverLogger(s.logger))

	// Upstream client (injected in tests)
	if s.fetcher == nil {
		s.fetcher = upstream.New(cfg.UpstreamURL,
			upstream.WithLogger(s.logger),
			upstream.WithTimeout(time.Duration(cfg.UpstreamTimeout)*time.Second))
		s.logger.Info("upstream client configured", "url", cfg.UpstreamURL)
	}

	// Loader feeds the catalog; every metadata load re-seats clock bounds
	s.loader = dataset.NewLoader(s.fetcher, s.catalog,
		dataset.WithLoaderLogger(s.logger),
		dataset.WithRangeHook(func(r dataset.Range) {
			s.clk.ApplyRange(r)
		}))

	// Audit alert sinks
	if len(cfg.AlertSinkURLs) > 0 {
		s.alerts = analysis.NewDispatcher(cfg.AlertSinkURLs, cfg.AlertHMACSecret,
			analysis.WithDispatcherLogger(s.logger))
		s.logger.Info("audit alerting enabled", "sinks", len(cfg.AlertSinkURLs))
	}

	// Realtime hub for WebSocket streaming
	s.hub = realtime.NewHub(s.logger)

	// Audit service: local engine, or delegation when ANALYSIS_URL is set
	auditOpts := []analysis.ServiceOption{
		analysis.WithStore(store),
		analysis.WithAlerts(s.alerts),
		analysis.WithServiceLogger(s.logger),
		analysis.WithEngine(analysis.NewEngine(
			analysis.WithDiscrepancyThreshold(cfg.DiscrepancyThreshold))),
		analysis.WithFlaggedHook(func(rep analysis.DayReport) {
			s.hub.BroadcastAuditAlert(rep, auditCauldronIDs(rep))
		}),
	}
	if cfg.AnalysisURL != "" {
		auditOpts = append(auditOpts, analysis.WithRemote(cfg.AnalysisURL))
		s.logger.Info("audit computation delegated", "url", cfg.AnalysisURL)
	}
	s.audit = analysis.NewService(s.catalog, auditOpts...)

	if cfg.AuditSweepMinutes > 0 {
		s.auditTimer = analysis.NewTimer(s.audit,
			time.Duration(cfg.AuditSweepMinutes)*time.Minute, s.logger)
	}

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

// auditCauldronIDs collects the cauldrons a flagged report touches, for
// subscription filtering on the broadcast.
func auditCauldronIDs(rep analysis.DayReport) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, ft := range rep.FlaggedTickets {
		add(ft.CauldronID)
	}
	for _, d := range rep.UnloggedDrains {
		add(d.CauldronID)
	}
	return out
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
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (the dashboard pages and API share an origin; * keeps external
	// dashboards working in development)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

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
			requestID = generateRequestID()
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
// Health
// -----------------------------------------------------------------------------

func (s *Server) registerHealthChecks() {
	s.checks.Register("dataset", func(ctx context.Context) health.Status {
		st := health.Status{Name: "dataset", Healthy: true}
		if !s.catalog.Ready() {
			st.Detail = "level series not loaded yet"
		}
		for _, ds := range s.catalog.States() {
			if ds.LastError != "" {
				st.Healthy = false
				st.Detail = fmt.Sprintf("%s: %s", ds.Name, ds.LastError)
				break
			}
		}
		return st
	})

	if s.cfg.DatabaseURL != "" {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			st := health.Status{Name: "database", Healthy: true}
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no endpoint is configured)
	stopTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTraces = stopTraces
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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"upstream", s.cfg.UpstreamURL,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// First dataset load runs in the background; the pages render their
	// pending state until it lands.
	go func() {
		loadCtx, loadCancel := context.WithTimeout(runCtx,
			time.Duration(s.cfg.UpstreamTimeout)*time.Second*2)
		defer loadCancel()
		if err := s.loader.Refresh(loadCtx); err != nil {
			s.logger.Error("initial dataset load failed", "error", err)
		}
	}()
	s.loader.Start(time.Duration(s.cfg.RefreshSeconds) * time.Second)

	// Every clock change nudges the playback driver and streams out
	s.clk.OnChange(func() {
		s.driver.Wake()
		s.hub.BroadcastClock(s.clk.Snapshot())
	})
	s.driver.Start()

	go s.hub.Run(runCtx)
	go s.broadcastLoop(runCtx)

	if s.auditTimer != nil {
		go s.auditTimer.Start(runCtx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 30*time.Second)
	}

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

// broadcastLoop streams scene and dataset-state updates to websocket
// clients. Scenes go out only when the clock instant moved since the
// last send, so a paused timeline costs nothing; a revision change
// pushes the new load states once.
func (s *Server) broadcastLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.PlaybackTickMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastNow string
	var lastRev uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rev := s.catalog.Revision(); rev != lastRev {
				lastRev = rev
				s.hub.BroadcastDataset(s.catalog.States())
			}

			st := s.clk.Snapshot()
			if !st.HasRange || st.Now == lastNow {
				continue
			}
			lastNow = st.Now
			sc := s.buildScene(st)
			s.hub.BroadcastScene(sc, nil)
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers, sweeps)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop playback
	s.driver.Stop()
	s.logger.Info("playback driver stopped")

	// Stop dataset refresh
	s.loader.Stop()
	s.logger.Info("dataset loader stopped")

	// Stop audit sweep timer
	if s.auditTimer != nil {
		s.auditTimer.Stop()
		s.logger.Info("audit timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Drain in-flight alert deliveries
	if s.alerts != nil {
		s.alerts.Wait()
		s.logger.Info("alert dispatcher drained")
	}

	// Flush traces
	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
