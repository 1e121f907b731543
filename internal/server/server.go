// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rsolberg/authgate/internal/admin"
	"github.com/rsolberg/authgate/internal/auth"
	"github.com/rsolberg/authgate/internal/config"
	"github.com/rsolberg/authgate/internal/gate"
	"github.com/rsolberg/authgate/internal/health"
	"github.com/rsolberg/authgate/internal/hooks"
	"github.com/rsolberg/authgate/internal/logging"
	"github.com/rsolberg/authgate/internal/mailer"
	"github.com/rsolberg/authgate/internal/metrics"
	"github.com/rsolberg/authgate/internal/ratelimit"
	"github.com/rsolberg/authgate/internal/screening"
	"github.com/rsolberg/authgate/internal/security"
	"github.com/rsolberg/authgate/internal/traces"
	"github.com/rsolberg/authgate/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	store       auth.Store
	manager     *auth.Manager
	providers   map[string]auth.SocialProvider
	engine      *screening.Engine
	notifier    *mailer.Notifier
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	db          *sql.DB       // nil if using in-memory
	rdb         *redis.Client // nil if no Redis configured
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	shutdownTr  func(context.Context) error
	cancelRun   context.CancelFunc

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

// WithProviders sets the social providers (for testing)
func WithProviders(providers map[string]auth.SocialProvider) Option {
	return func(s *Server) {
		s.providers = providers
	}
}

// WithEngine sets a custom screening engine (for testing)
func WithEngine(engine *screening.Engine) Option {
	return func(s *Server) {
		s.engine = engine
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set providers/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
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
		s.store = auth.NewPostgresStore(db)
		s.healthReg.Register("database", health.DatabaseChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = auth.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Redis backs the screening windows across replicas; without it each
	// replica counts alone.
	var counter screening.Counter
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.rdb = redis.NewClient(opt)
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		counter = screening.NewRedisCounter(s.rdb, "authgate:screen")
		s.healthReg.Register("redis", health.RedisChecker(s.rdb))
		s.logger.Info("screening windows backed by Redis")
	} else {
		counter = screening.NewMemoryCounter()
		s.logger.Info("screening windows in-memory (single replica only)")
	}

	// Mail delivery
	var sender mailer.Sender
	if cfg.MailAPIKey != "" {
		sender = mailer.NewAPIClient(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom)
		s.logger.Info("mail delivery enabled", "from", cfg.MailFrom)
	} else {
		sender = &mailer.LogSender{Logger: s.logger}
		s.logger.Info("mail delivery disabled, emails will be logged")
	}
	s.notifier = mailer.NewNotifier(sender, "Authgate", s.logger)

	// Auth manager with lifecycle hooks
	s.manager = auth.NewManager(s.store, s.notifier, auth.Config{
		SessionTTL:  cfg.SessionTTL,
		TokenSecret: []byte(cfg.TokenSecret),
		BaseURL:     cfg.BaseURL,
		AdminEmails: cfg.AdminEmails,
	}, s.logger)
	s.manager.After(hooks.Welcome(s.notifier, s.logger))

	// Social providers, unless injected for tests
	if s.providers == nil {
		providers, err := socialProviders(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.providers = providers
	}
	for name := range s.providers {
		s.logger.Info("social provider enabled", "provider", name)
	}

	// Screening engine in front of the auth surface, unless injected
	if s.engine == nil {
		mode := screening.ModeEnforce
		if cfg.ScreeningMode == "monitor" {
			mode = screening.ModeMonitor
		}
		s.engine = screening.NewEngine(screening.DefaultPolicies(mode), counter,
			screening.WithLogger(s.logger))
		s.logger.Info("request screening enabled", "mode", string(mode))
	}

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

	// CORS restricted to the public origin; credentials ride on cookies
	s.router.Use(security.CORSMiddleware([]string{s.cfg.BaseURL}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Ambient rate limiting (coarse, per-IP; screening windows are separate)
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
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

	s.router.GET("/", s.infoHandler)

	// Auth surface, fronted by the screening gate. Every mutating request
	// is screened before its handler runs.
	authGroup := s.router.Group("/api/auth")
	authGroup.Use(gate.New(s.engine, s.manager, s.cfg.SessionCookie).Middleware())

	authHandler := auth.NewHandler(s.manager, s.providers, s.cfg.SessionCookie, s.cfg.IsProduction())
	authHandler.Register(authGroup)

	// Admin surface (session with admin role required)
	adminHandler := admin.NewHandler(s.store, s.manager, s.cfg.SessionCookie)
	adminHandler.RegisterRoutes(s.router.Group("/api"))
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
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

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
	providers := make([]string, 0, len(s.providers))
	for name := range s.providers {
		providers = append(providers, name)
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        "Authgate",
		"description": "Screened authentication service",
		"version":     "0.1.0",
		"providers":   providers,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdownTr, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTr = shutdownTr
	}

	// Periodic DB stats for the metrics endpoint
	if s.db != nil {
		metrics.StartDBCollector(runCtx, s.db, 15*time.Second)
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

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

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

	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Let in-flight email deliveries finish before closing the backends.
	if s.notifier != nil {
		s.notifier.Flush()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownTr != nil {
		if err := s.shutdownTr(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

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
	return uuid.NewString()
}
