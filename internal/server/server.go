// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cryptoc/txguard/internal/circuitbreaker"
	"github.com/cryptoc/txguard/internal/config"
	"github.com/cryptoc/txguard/internal/database"
	"github.com/cryptoc/txguard/internal/effects"
	"github.com/cryptoc/txguard/internal/health"
	"github.com/cryptoc/txguard/internal/idgen"
	"github.com/cryptoc/txguard/internal/ledger"
	"github.com/cryptoc/txguard/internal/logging"
	"github.com/cryptoc/txguard/internal/metrics"
	"github.com/cryptoc/txguard/internal/oracle"
	"github.com/cryptoc/txguard/internal/phishing"
	"github.com/cryptoc/txguard/internal/ratelimit"
	"github.com/cryptoc/txguard/internal/risk"
	"github.com/cryptoc/txguard/internal/security"
	"github.com/cryptoc/txguard/internal/signatures"
	"github.com/cryptoc/txguard/internal/simulation"
	"github.com/cryptoc/txguard/internal/traces"
	"github.com/cryptoc/txguard/internal/validation"
)

// Version is reported by the health and info endpoints.
const Version = "0.1.0"

const healthCheckTimeout = 3 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *database.DB // nil for the in-memory store
	store        ledger.Store
	ledger       *ledger.Ledger
	oracle       *oracle.Oracle
	simulator    *simulation.Simulator
	classifiers  []phishing.Classifier
	chain        *phishing.Chain
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	stopTracing  func(context.Context) error
	drainTimeout time.Duration

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

// WithStore sets the ledger store, bypassing STORAGE (for testing)
func WithStore(store ledger.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithClassifiers sets the URL classifier chain, bypassing CLASSIFIER_URLS
func WithClassifiers(cs ...phishing.Classifier) Option {
	return func(s *Server) {
		s.classifiers = cs
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		drainTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	stop, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stop

	if s.store == nil {
		if err := s.openStore(ctx); err != nil {
			s.close(ctx)
			return nil, err
		}
	}

	// Chain-state oracle is optional; a bad RPC URL degrades to local-only
	// prediction instead of refusing to start.
	var predictorOpts []effects.Option
	predictorOpts = append(predictorOpts, effects.WithLogger(s.logger))
	if cfg.OracleEnabled() {
		o, err := oracle.Dial(ctx, cfg.RPCURL,
			oracle.WithCache(cfg.OracleCacheMB, oracle.DefaultCacheTTL),
			oracle.WithLogger(s.logger),
		)
		if err != nil {
			s.logger.Warn("oracle disabled", "error", s.redactRPC(err))
		} else {
			s.oracle = o
			predictorOpts = append(predictorOpts, effects.WithOracle(o, cfg.OracleTimeout))
			s.logger.Info("oracle enabled", "rpc", maskRPCURL(cfg.RPCURL), "timeout", cfg.OracleTimeout)
		}
	}

	s.simulator = simulation.New(effects.NewPredictor(predictorOpts...), risk.NewEngine(), s.logger)
	s.ledger = ledger.New(s.store,
		ledger.WithSeedBalances(cfg.SeedBalances),
		ledger.WithLogger(s.logger),
	)

	if s.classifiers == nil {
		cs, err := phishing.FromEndpoints(cfg.ClassifierURLs, cfg.ClassifierTimeout, circuitbreaker.New(3, 30*time.Second))
		if err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("invalid CLASSIFIER_URLS: %w", err)
		}
		s.classifiers = cs
	}
	s.chain = phishing.NewChain(s.logger, s.classifiers...)

	s.setupHealth()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// openStore selects the ledger backend from cfg.Storage and applies the
// schema.
func (s *Server) openStore(ctx context.Context) error {
	var (
		engine database.Engine
		dsn    string
	)
	switch s.cfg.Storage {
	case config.StorageMemory:
		s.store = ledger.NewMemoryStore()
		s.logger.Warn("using in-memory ledger; balances are lost on restart")
		return nil
	case config.StorageSQLite:
		engine, dsn = database.SQLite, s.cfg.SQLitePath
	case config.StoragePostgres:
		engine, dsn = database.Postgres, s.cfg.DatabaseURL
	default:
		return fmt.Errorf("unknown storage %q", s.cfg.Storage)
	}

	db, err := database.Open(ctx, engine, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := metrics.RegisterDB(db.DB.DB, string(engine)); err != nil {
		s.logger.Warn("db metrics not registered", "error", err)
	}

	s.store = ledger.NewSQLStore(db)
	s.logger.Info("using SQL ledger", "engine", engine, "dsn", maskURL(dsn))
	return nil
}

func (s *Server) setupHealth() {
	s.health = health.NewRegistry(s.logger)
	s.health.Register(health.Ping("ledger", false, healthCheckTimeout, s.ledger.Ping))

	if s.oracle != nil {
		s.health.Register(health.Ping("oracle", true, healthCheckTimeout, func(ctx context.Context) error {
			return s.redactRPC(s.oracle.Ping(ctx))
		}))
	} else {
		s.health.Register(health.Static("oracle", "disabled"))
	}

	s.health.Register(health.Static("classifiers", fmt.Sprintf("%d configured", s.chain.Len())))
}

// maskURL hides the password in a connection string or RPC URL for logging
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	if u.RawQuery != "" {
		u.RawQuery = "***"
	}
	return u.String()
}

// maskRPCURL is maskURL plus the path, where hosted providers put the API key.
func maskRPCURL(raw string) string {
	masked := maskURL(raw)
	u, err := url.Parse(masked)
	if err != nil || u.Scheme == "" {
		return masked
	}
	if u.Path != "" && u.Path != "/" {
		u.Path, u.RawPath = "/***", ""
	}
	return u.String()
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redactRPC rewrites err so the configured RPC URL never appears in its text.
// errors.Is still sees the original chain.
func (s *Server) redactRPC(err error) error {
	if err == nil || s.cfg.RPCURL == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, s.cfg.RPCURL) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(msg, s.cfg.RPCURL, maskRPCURL(s.cfg.RPCURL)), err: err}
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig(s.cfg.RateLimitRPM))
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := validation.SanitizeString(c.GetHeader("X-Request-ID"), 64)
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/", s.infoHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	simulation.NewHandler(s.simulator, s.logger).RegisterRoutes(s.router)
	ledger.NewHandler(s.ledger, s.simulator, s.logger).RegisterRoutes(s.router)
	phishing.NewHandler(s.chain, s.logger).RegisterRoutes(s.router)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		switch {
		case !st.Healthy:
			checks[st.Name] = "unhealthy"
		case st.Detail != "":
			checks[st.Name] = st.Detail
		default:
			checks[st.Name] = "healthy"
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   Version,
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
	s.health.ReadyHandler()(c)
}

func tokenSymbols() []string {
	out := []string{signatures.NativeToken().Symbol}
	for _, t := range signatures.KnownTokens() {
		out = append(out, t.Symbol)
	}
	return out
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "txguard",
		"version":     Version,
		"storage":     s.cfg.Storage,
		"oracle":      s.oracle != nil,
		"classifiers": s.chain.Names(),
		"tokens":      tokenSymbols(),
		"endpoints": []string{
			"POST /simulate",
			"POST /predict",
			"POST /wallet/create",
			"POST /wallet/swap",
			"POST /wallet/execute",
			"POST /wallet/log",
			"POST /wallet/approvals/revoke",
			"GET /wallet/balances",
			"GET /wallet/transactions",
			"GET /wallet/logs",
			"GET /wallet/approvals",
			"GET /wallet/stats",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"storage", s.cfg.Storage,
			"oracle", s.oracle != nil,
			"classifiers", s.chain.Len(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.ready.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.close(context.Background())
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

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	if s.httpSrv != nil {
		if err = s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
		}
	}

	s.close(ctx)
	s.logger.Info("server stopped")
	return err
}

// close releases the oracle, the database pool and the trace exporter.
func (s *Server) close(ctx context.Context) {
	if s.oracle != nil {
		s.oracle.Close()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Ledger returns the wallet ledger.
func (s *Server) Ledger() *ledger.Ledger {
	return s.ledger
}
