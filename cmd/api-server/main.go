package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/auth"
	"github.com/telcoguard/fraud-decision/internal/detectors"
	"github.com/telcoguard/fraud-decision/internal/evidence"
	"github.com/telcoguard/fraud-decision/internal/features"
	"github.com/telcoguard/fraud-decision/internal/ml"
	"github.com/telcoguard/fraud-decision/internal/models"
	"github.com/telcoguard/fraud-decision/internal/pipeline"
	"github.com/telcoguard/fraud-decision/internal/policy"
	"github.com/telcoguard/fraud-decision/internal/queue"
	"github.com/telcoguard/fraud-decision/internal/repositories"
	"github.com/telcoguard/fraud-decision/internal/scoring"
	"github.com/telcoguard/fraud-decision/internal/store"
	"github.com/telcoguard/fraud-decision/internal/velocity"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting fraud decision API server")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	kv, err := store.NewKV(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer kv.Close()

	// Initialize repositories
	policyRepo := repositories.NewPolicyRepository(db)
	evidenceRepo := repositories.NewEvidenceRepository(db)

	// Feature plane
	velocityStore := velocity.NewStore(kv)
	featureStore := features.NewStore(velocityStore, kv)

	// Scoring plane
	var mlScorer scoring.MLScorer
	if cfg.ML.Enabled {
		registry, err := ml.NewRegistry(cfg.ML.RegistryPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load model registry")
		}
		mlScorer = ml.NewScorer(registry, cfg.ML)
	}
	riskScorer := scoring.NewRiskScorer(detectors.NewEngine(cfg.Detection), mlScorer, cfg.ML)

	// Policy plane
	policyEngine := policy.NewEngine()
	policyManager := policy.NewManager(policyRepo, policyEngine)
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := policyManager.Bootstrap(bootCtx); err != nil {
		bootCancel()
		log.Fatal().Err(err).Msg("Failed to load policy")
	}
	bootCancel()

	// Evidence plane
	evidenceService, err := evidence.NewService(evidenceRepo, kv, cfg.Evidence)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize evidence service")
	}

	// Decision event publisher
	var publisher pipeline.Publisher
	var decisionPublisher *queue.DecisionPublisher
	if cfg.Kafka.Enabled {
		decisionPublisher, err = queue.NewDecisionPublisher(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Kafka")
		}
		defer decisionPublisher.Close()
		publisher = decisionPublisher
	}

	decisionPipeline := pipeline.New(
		featureStore, riskScorer, policyEngine, evidenceService, publisher,
		cfg.Latency, cfg.SafeMode,
	)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware(cfg.Server.CORSOrigins))

	// Rate limiting: 1000 requests per minute per IP
	rateLimiter := NewRateLimiter(1000, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	setupRoutes(router, jwtManager, decisionPipeline, policyManager, evidenceService, featureStore, kv, db)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	jwtManager *auth.JWTManager,
	decisionPipeline *pipeline.Pipeline,
	policyManager *policy.Manager,
	evidenceService *evidence.Service,
	featureStore *features.Store,
	kv *store.KV,
	db *repositories.Database,
) {
	router.GET("/health", healthHandler(kv, db, policyManager))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// Decision path. Called by the payment gateway inside the trust
	// boundary; admin surfaces below carry JWTs.
	v1.POST("/decision", decisionHandler(decisionPipeline))

	// Policy administration
	policyRoutes := v1.Group("/policy")
	policyRoutes.Use(auth.Middleware(jwtManager), auth.RequireRole(auth.RoleAdmin, auth.RoleRiskOps))
	{
		policyRoutes.GET("", getActivePolicyHandler(policyManager))
		policyRoutes.GET("/versions", listPolicyVersionsHandler(policyManager))
		policyRoutes.GET("/versions/:version", getPolicyVersionHandler(policyManager))
		policyRoutes.POST("/reload", reloadPolicyHandler(policyManager))
		policyRoutes.PUT("/thresholds", updateThresholdsHandler(policyManager))
		policyRoutes.POST("/rules", addRuleHandler(policyManager))
		policyRoutes.PUT("/rules/:id", updateRuleHandler(policyManager))
		policyRoutes.DELETE("/rules/:id", deleteRuleHandler(policyManager))
		policyRoutes.POST("/lists", updateListHandler(policyManager))
		policyRoutes.POST("/rollback", rollbackPolicyHandler(policyManager))
	}

	// Label ingestion
	labelRoutes := v1.Group("/labels")
	labelRoutes.Use(auth.Middleware(jwtManager), auth.RequireRole(auth.RoleAdmin, auth.RoleRiskOps))
	{
		labelRoutes.POST("/chargebacks", chargebackHandler(evidenceService, featureStore))
		labelRoutes.POST("/refunds", refundHandler(evidenceService, featureStore))
	}

	// Evidence lookup (admin only, decrypted vault stays server-side)
	evidenceRoutes := v1.Group("/evidence")
	evidenceRoutes.Use(auth.Middleware(jwtManager), auth.RequireRole(auth.RoleAdmin))
	{
		evidenceRoutes.GET("/:transaction_id", getEvidenceHandler(evidenceService))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := "*"
	if len(origins) > 0 {
		allowed = origins[0]
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowed)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple in-memory rate limiter using token bucket algorithm
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := time.Now()

	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(v.lastSeen)
	refill := int(elapsed / (rl.window / time.Duration(rl.rate)))
	v.tokens += refill
	if v.tokens > rl.rate {
		v.tokens = rl.rate
	}
	v.lastSeen = now

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handlers

func decisionHandler(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event models.PaymentEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := p.Decide(c.Request.Context(), &event)
		if err != nil {
			switch {
			case isValidationError(err):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			case errors.Is(err, policy.ErrNoActivePolicy):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

var validationErrors = []error{
	models.ErrMissingTransactionID,
	models.ErrMissingIdempotencyKey,
	models.ErrMissingCardToken,
	models.ErrNegativeAmount,
	models.ErrInvalidCurrency,
	models.ErrInvalidBIN,
	models.ErrInvalidCoordinates,
	models.ErrInvalidEventType,
	models.ErrInvalidServiceType,
	models.ErrInvalidSubtype,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// componentChecker is the probe shared by the Redis and Postgres wrappers.
type componentChecker interface {
	HealthCheck(ctx context.Context) error
}

// policyReader exposes the active policy snapshot.
type policyReader interface {
	Active() *policy.Snapshot
}

func healthHandler(velocityStore, database componentChecker, policies policyReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		redisOK := velocityStore.HealthCheck(ctx) == nil
		dbOK := database.HealthCheck(ctx) == nil
		active := policies.Active()

		body := gin.H{
			"components": gin.H{
				"velocity_store": statusOf(redisOK),
				"database":       statusOf(dbOK),
				"policy":         statusOf(active != nil),
			},
			"timestamp": time.Now().Format(time.RFC3339),
		}
		if active != nil {
			body["policy_version"] = active.Version
		}

		// Only the policy snapshot is load-bearing: with Redis down the
		// pipeline serves on zeroed features, and Postgres only backs
		// side effects and administration.
		switch {
		case active == nil:
			body["status"] = "down"
			c.JSON(http.StatusServiceUnavailable, body)
		case redisOK && dbOK:
			body["status"] = "healthy"
			c.JSON(http.StatusOK, body)
		default:
			body["status"] = "degraded"
			c.JSON(http.StatusOK, body)
		}
	}
}

func statusOf(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}

// Policy handlers

func getActivePolicyHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := m.Active()
		if snap == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active policy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"version": snap.Version,
			"hash":    snap.Hash,
			"content": snap.Content,
		})
	}
}

func listPolicyVersionsHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 20)
		versions, err := m.List(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"versions": versions})
	}
}

func getPolicyVersionHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := m.GetByVersion(c.Request.Context(), c.Param("version"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if v == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "policy version not found"})
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func reloadPolicyHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := m.Reload(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"version": v.Version, "hash": v.Hash})
	}
}

func updateThresholdsHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req policy.Thresholds
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		v, err := m.UpdateThresholds(c.Request.Context(), req, auth.SubjectFromContext(c))
		if err != nil {
			c.JSON(policyErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func addRuleHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rule policy.Rule
		if err := c.ShouldBindJSON(&rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		v, err := m.AddRule(c.Request.Context(), rule, auth.SubjectFromContext(c))
		if err != nil {
			c.JSON(policyErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

func updateRuleHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rule policy.Rule
		if err := c.ShouldBindJSON(&rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rule.ID = c.Param("id")
		v, err := m.UpdateRule(c.Request.Context(), rule, auth.SubjectFromContext(c))
		if err != nil {
			c.JSON(policyErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func deleteRuleHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := m.DeleteRule(c.Request.Context(), c.Param("id"), auth.SubjectFromContext(c))
		if err != nil {
			c.JSON(policyErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func updateListHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			List  string `json:"list" binding:"required"`
			Value string `json:"value" binding:"required"`
			Add   bool   `json:"add"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		v, err := m.UpdateList(c.Request.Context(), req.List, req.Value, req.Add, auth.SubjectFromContext(c))
		if err != nil {
			c.JSON(policyErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func rollbackPolicyHandler(m *policy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Version string `json:"version" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		v, err := m.Rollback(c.Request.Context(), req.Version, auth.SubjectFromContext(c))
		if err != nil {
			c.JSON(policyErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func policyErrorStatus(err error) int {
	switch {
	case errors.Is(err, policy.ErrDuplicateRule):
		return http.StatusConflict
	case errors.Is(err, policy.ErrRuleNotFound),
		errors.Is(err, policy.ErrVersionNotFound),
		errors.Is(err, policy.ErrNotInList):
		return http.StatusNotFound
	case errors.Is(err, policy.ErrThresholdOrder),
		errors.Is(err, policy.ErrThresholdRange),
		errors.Is(err, policy.ErrUnknownList),
		errors.Is(err, policy.ErrBadAction):
		return http.StatusBadRequest
	case errors.Is(err, policy.ErrNoActivePolicy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Label handlers

func chargebackHandler(evidenceService *evidence.Service, featureStore *features.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TransactionID     string `json:"transaction_id" binding:"required"`
			ChargebackID      string `json:"chargeback_id" binding:"required"`
			AmountCents       int64  `json:"amount_cents"`
			ReasonCode        string `json:"reason_code"`
			ReasonDescription string `json:"reason_description"`
			FraudType         string `json:"fraud_type"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		id := evidenceService.RecordChargeback(ctx, &models.ChargebackRecord{
			TransactionID:     req.TransactionID,
			ChargebackID:      req.ChargebackID,
			AmountCents:       req.AmountCents,
			ReasonCode:        req.ReasonCode,
			ReasonDescription: req.ReasonDescription,
			FraudType:         req.FraudType,
		})
		if id == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record chargeback"})
			return
		}

		// Best effort: without an evidence row the label is still stored
		// for training, only the profile counters go unattributed.
		if rec, err := evidenceService.GetEvidence(ctx, req.TransactionID); err == nil && rec != nil {
			if err := featureStore.ApplyChargebackLabel(ctx, rec.CardToken, rec.UserID); err != nil {
				log.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("chargeback profile update failed")
			}
		}

		c.JSON(http.StatusAccepted, gin.H{"id": id})
	}
}

func refundHandler(evidenceService *evidence.Service, featureStore *features.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TransactionID     string `json:"transaction_id" binding:"required"`
			RefundID          string `json:"refund_id" binding:"required"`
			AmountCents       int64  `json:"amount_cents"`
			ReasonCode        string `json:"reason_code"`
			ReasonDescription string `json:"reason_description"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		id := evidenceService.RecordRefund(ctx, &models.RefundRecord{
			TransactionID:     req.TransactionID,
			RefundID:          req.RefundID,
			AmountCents:       req.AmountCents,
			ReasonCode:        req.ReasonCode,
			ReasonDescription: req.ReasonDescription,
		})
		if id == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record refund"})
			return
		}

		if rec, err := evidenceService.GetEvidence(ctx, req.TransactionID); err == nil && rec != nil && rec.UserID != "" {
			if err := featureStore.ApplyRefundLabel(ctx, rec.UserID); err != nil {
				log.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("refund profile update failed")
			}
		}

		c.JSON(http.StatusAccepted, gin.H{"id": id})
	}
}

func getEvidenceHandler(evidenceService *evidence.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := evidenceService.GetEvidence(c.Request.Context(), c.Param("transaction_id"))
		if err != nil {
			if errors.Is(err, repositories.ErrEvidenceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "evidence not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// Helper functions

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}
