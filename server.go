package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/middlewares"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/providers"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/mmdatafocus/momo_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = "8080"

var tracer = otel.Tracer("momo-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	limit  int64
	window time.Duration
}

// apiServer holds the workflows the HTTP handlers call into.
type apiServer struct {
	payments *workflow.PaymentWorkflow
	recons   *workflow.ReconciliationWorkflow
	events   *workflow.EventProcessor
	logger   *logrus.Logger
}

func newAPIServer(logger *logrus.Logger, registry *providers.Registry) *apiServer {
	return &apiServer{
		payments: workflow.NewPaymentWorkflow(registry, logger),
		recons:   workflow.NewReconciliationWorkflow(logger),
		events:   workflow.NewEventProcessor(logger),
		logger:   logger,
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// readinessGate answers 503 until DB and Redis are connected.
func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

// tracingMiddleware opens one span per request named after the route.
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
			span.SetAttributes(attribute.String("correlation_id", cid))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if c.Writer.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(c.Writer.Status()))
		}
	}
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist; elsewhere every origin is allowed.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "Idempotency-Key", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

// rateLimiterFromEnv returns nil unless RATE_LIMIT_ENABLED=true.
//
// Env:
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func rateLimiterFromEnv() *RateLimiter {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil
	}
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	windowSec := int64(60)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			windowSec = n
		}
	}
	return NewRateLimiter(limit, time.Duration(windowSec)*time.Second)
}

// registerRoutes wires every endpoint. Webhooks and Pub/Sub push sit outside operator auth.
func registerRoutes(r *gin.Engine, s *apiServer, limiter *RateLimiter) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/webhooks/momo/:providerId", s.receiveWebhook())
	r.POST("/pubsub/momo-events", s.momoEventsPushHandler())

	api := r.Group("/api/v1", middlewares.RequireAuth())
	if limiter != nil {
		api.Use(limiter.RateLimitMiddleware)
	}

	api.POST("/transactions", s.initiateTransaction())
	api.GET("/transactions", s.listTransactions())
	api.GET("/transactions/:id", s.getTransaction())
	api.POST("/transactions/:id/approve", middlewares.RequireRole(models.UserRoleApprover), s.approveTransaction())
	api.POST("/transactions/:id/cancel", s.cancelTransaction())
	api.POST("/transactions/:id/status", s.checkTransactionStatus())
	api.GET("/transactions/:id/events", s.transactionEvents())
	api.GET("/transactions/:id/audit", s.verifyTransactionAudit())
	api.POST("/transactions/:id/review/resolve", middlewares.RequireRole(models.UserRoleApprover), s.resolveTransactionReview())
	api.GET("/transactions/:id/ledger", s.transactionLedger())
	api.GET("/transactions/:id/outbox", s.transactionOutbox())

	api.GET("/providers", s.listProviders())
	api.GET("/providers/:id", s.getProvider())
	api.POST("/providers", middlewares.RequireRole(models.UserRoleAdmin), s.createProvider())
	api.PUT("/providers/:id", middlewares.RequireRole(models.UserRoleAdmin), s.updateProvider())
	api.PUT("/providers/:id/active", middlewares.RequireRole(models.UserRoleAdmin), s.toggleProvider())

	api.GET("/webhooks", s.listWebhooks())
	api.GET("/webhooks/:id", s.getWebhook())

	api.GET("/reconciliations", s.listReconciliations())
	api.POST("/reconciliations", s.startReconciliation())
	api.GET("/reconciliations/:id", s.reconciliationSummary())
	api.GET("/reconciliations/:id/actions", s.reconciliationActions())
	api.POST("/reconciliations/:id/statement", s.importStatement())
	api.POST("/reconciliations/:id/run", s.runReconciliation())
	api.POST("/reconciliations/:id/force-match", s.forceMatch())
	api.POST("/reconciliations/:id/force-unmatch", s.forceUnmatch())
	api.POST("/reconciliations/:id/complete", s.completeReconciliation())
	api.POST("/reconciliations/:id/approve", s.approveReconciliation())
	api.POST("/reconciliations/:id/reopen", s.reopenReconciliation())
	api.GET("/reconciliations/:id/export", s.exportReconciliation())
	api.POST("/reconciliations/:id/export/gcs", s.exportReconciliationToGCS())

	// Ops tooling (admin only): replay outbox records that went DEAD/FAILED.
	ops := r.Group("/internal/ops", middlewares.RequireAuth(), middlewares.RequireRole(models.UserRoleAdmin))
	ops.GET("/outbox/:id", s.getOutboxRecord())
	ops.POST("/outbox/replay", s.outboxReplayHandler())
	ops.POST("/transactions/:id/outbox/replay", s.replayTransactionOutbox())

	r.NoRoute(customNotFoundHandler)
}

func newRouter(s *apiServer, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(correlationMiddleware())
	r.Use(readinessGate())
	r.Use(cors.New(corsConfig()))
	r.Use(tracingMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	registerRoutes(r, s, rateLimiterFromEnv())
	return r
}

// startWorkers launches the background loops enabled by feature flags.
func startWorkers(ctx context.Context, s *apiServer, logger *logrus.Logger) {
	db := config.GetDB()
	if config.OutboxDispatcherEnabled() {
		go workflow.NewOutboxDispatcher(db, logger).Run(ctx)
	}
	if config.RetrySchedulerEnabled() {
		go workflow.NewRetryScheduler(db, s.payments, logger).Run(ctx)
	}
	if shouldRunDirectOutboxProcessor() {
		go NewOutboxDirectProcessor(db, logger, s.events).Run(ctx)
	}
	if strings.TrimSpace(os.Getenv("MOMO_EVENTS_SUBSCRIPTION")) != "" {
		if err := RunMomoEventsSubscriber(ctx, s.events); err != nil {
			config.LogError(logger, "server.go", "startWorkers", "starting momo events subscriber", nil, err)
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	s := newAPIServer(logger, providers.NewDefaultRegistry())
	r := newRouter(s, logger)

	// Start listening immediately; app endpoints answer 503 until DB/Redis are ready.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; run it as a separate job with SKIP_MIGRATIONS=true.
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	startWorkers(workerCtx, s, logger)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("momo backend listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per tenant, or per client IP before authentication.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:ip:" + c.ClientIP()
	if companyId, ok := utils.GetCompanyIdFromContext(c.Request.Context()); ok && companyId != "" {
		key = "ratelimit:company:" + companyId
	}

	count, err := config.IncrRedisCounter(c.Request.Context(), key, rl.window)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
