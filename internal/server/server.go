// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rmarchiori/gameswap/internal/catalog"
	"github.com/rmarchiori/gameswap/internal/chat"
	"github.com/rmarchiori/gameswap/internal/checkout"
	"github.com/rmarchiori/gameswap/internal/config"
	"github.com/rmarchiori/gameswap/internal/escrow"
	"github.com/rmarchiori/gameswap/internal/gateway"
	"github.com/rmarchiori/gameswap/internal/identity"
	"github.com/rmarchiori/gameswap/internal/ledger"
	"github.com/rmarchiori/gameswap/internal/logging"
	"github.com/rmarchiori/gameswap/internal/metrics"
	"github.com/rmarchiori/gameswap/internal/notify"
	"github.com/rmarchiori/gameswap/internal/payout"
	"github.com/rmarchiori/gameswap/internal/ratelimit"
	"github.com/rmarchiori/gameswap/internal/realtime"
	"github.com/rmarchiori/gameswap/internal/security"
	"github.com/rmarchiori/gameswap/internal/traces"
	"github.com/rmarchiori/gameswap/internal/webhook"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	gw            *gateway.StripeGateway
	users         identity.Store
	authn         *identity.Authenticator
	products      catalog.Store
	balances      *ledger.Ledger
	inbox         notify.Store
	notifier      *notify.Notifier
	chats         *chat.Service
	engine        *escrow.Engine
	payouts       *payout.Service
	builder       *checkout.Builder
	realtimeHub   *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	tracesCleanup func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var escrowStore escrow.Store
	var payoutStore payout.Store
	var chatStore chat.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.users = identity.NewPostgresStore(db)
		s.products = catalog.NewPostgresStore(db)
		s.balances = ledger.New(ledger.NewPostgresStore(db))
		s.inbox = notify.NewPostgresStore(db)
		chatStore = chat.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		payoutStore = payout.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.users = identity.NewMemoryStore()
		s.products = catalog.NewMemoryStore()
		s.balances = ledger.New(ledger.NewMemoryStore())
		s.inbox = notify.NewMemoryStore()
		chatStore = chat.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore(s.products)
		payoutStore = payout.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.authn = identity.NewAuthenticator(cfg.AuthSecret, s.users)

	// Payment gateway
	s.gw = gateway.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, s.logger)
	if cfg.StripeSecretKey == "" {
		s.logger.Warn("STRIPE_SECRET_KEY not set, outbound gateway calls will fail")
	}

	// Realtime hub pushing notification events over WebSocket
	s.realtimeHub = realtime.NewHub(s.logger)

	// Notifier writes the inbox and mirrors to connected clients
	s.notifier = notify.New(s.inbox, s.logger).WithPusher(s.realtimeHub)

	// Fulfillment channels (one chat per transaction)
	s.chats = chat.NewService(chatStore, s.logger)

	// Escrow settlement engine
	s.engine = escrow.NewEngine(escrowStore, s.balances, s.products, s.logger).
		WithRefunder(s.gw).
		WithChats(s.chats).
		WithNotifier(s.notifier)

	// Checkout session builder
	s.builder = checkout.NewBuilder(s.products, s.gw, checkout.Config{
		Currency:      cfg.Currency,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
		ExpiryMinutes: cfg.CheckoutExpiryMinutes,
	}, s.logger)

	// Payout reconciler
	s.payouts = payout.NewService(payoutStore, s.balances, s.users, s.gw, cfg.Currency, s.logger).
		WithNotifier(s.notifier)

	// Tracing (no-op when OTLP endpoint unset)
	cleanup, err := traces.Init(context.Background(), cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesCleanup = cleanup
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

	// CORS (allow all origins for dev - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Rate limiting. Webhook deliveries and probes are never shed: a
	// 429 to Stripe burns one of its redelivery attempts.
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware("/v1/webhooks", "/health", "/metrics"))

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
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket notification stream (token via middleware, same as the API)
	s.router.GET("/ws", identity.Middleware(s.authn), identity.RequireAuth(), func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request, identity.CurrentUserID(c))
	})

	v1 := s.router.Group("/v1")
	v1.Use(identity.Middleware(s.authn))

	// PUBLIC ROUTES (no auth required)
	// The gateway webhook authenticates with its signature, not a bearer token.
	webhookHandler := webhook.NewHandler(s.gw, s.engine)
	webhookHandler.RegisterRoutes(v1)

	// PROTECTED ROUTES (require bearer token)
	protected := v1.Group("")
	protected.Use(identity.RequireAuth())
	{
		checkout.NewHandler(s.builder).RegisterRoutes(protected)
		escrow.NewHandler(s.engine).RegisterRoutes(protected)
		chat.NewHandler(s.chats).RegisterRoutes(protected)
		notify.NewHandler(s.inbox).RegisterRoutes(protected)
		ledger.NewHandler(s.balances).RegisterRoutes(protected)
		payout.NewHandler(s.payouts).RegisterRoutes(protected)
	}

	// ADMIN ROUTES
	admin := v1.Group("/admin")
	admin.Use(identity.RequireAuth(), identity.RequireAdmin())
	{
		escrow.NewHandler(s.engine).RegisterAdminRoutes(admin)
		payout.NewHandler(s.payouts).RegisterAdminRoutes(admin)
		catalog.NewHandler(s.products).RegisterAdminRoutes(admin)
	}
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
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

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

	// Cancel the context for background goroutines (realtime hub)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Flush pending trace spans
	if s.tracesCleanup != nil {
		if err := s.tracesCleanup(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
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
