package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/middleware"
	"github.com/persistorai/seovault/internal/ratelimit"
	"github.com/persistorai/seovault/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log           *logrus.Logger
	Store         HealthChecker
	Hub           *ws.Hub
	Gateway       ActionRunner
	Settings      SettingsPreviewer
	Actors        middleware.ActorLookup
	Limiter       ratelimit.Limiter // gateway action buckets
	Throttle      ratelimit.Limiter // per-IP request and auth buckets
	CORSOrigins   []string
	Version       string
	RetentionDays int
}

// Router-level limits.
const (
	maxBodySize     = 1 << 20 // 1 MB
	requestLimit    = 600     // requests per window per IP
	requestWindow   = time.Minute
	metricsEndpoint = "/metrics"
	streamEndpoint  = "/api/v1/audit/stream"
)

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Retry-After", "Content-Disposition"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(middleware.RateLimit(deps.Throttle, requestLimit, requestWindow, deps.Log))
	r.Use(middleware.Metrics(metricsEndpoint, streamEndpoint))

	// Metrics endpoint (unauthenticated, like health).
	r.GET(metricsEndpoint, gin.WrapH(promhttp.Handler()))
}

// registerRoutes sets up all API route handlers on the given router group.
func registerRoutes(ctx context.Context, api *gin.RouterGroup, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.Store, deps.Hub, log, deps.Version)
	actions := NewActionHandler(deps.Gateway, log)
	settingsH := NewSettingsHandler(deps.Gateway, deps.Settings, log)
	audit := NewAuditHandler(deps.Gateway, log, deps.RetentionDays)

	// Health and readiness are unauthenticated.
	api.GET("/health", health.Liveness)
	api.GET("/ready", health.Readiness)

	// All other API routes require authentication.
	lookup := middleware.NewCachedActorLookup(ctx, deps.Actors)
	api.Use(middleware.AuthMiddleware(lookup, deps.Throttle, log))

	// Actions.
	api.POST("/actions/export_csv", actions.ExportCSV)
	api.POST("/actions/apply_draft", actions.Run(gateway.ActionApplyDraft))
	api.POST("/actions/generate_meta", actions.Run(gateway.ActionGenerateMeta))

	// Settings.
	api.GET("/settings", settingsH.Get)
	api.PUT("/settings", settingsH.Put)
	api.POST("/settings/rotate", settingsH.Rotate)

	// Audit.
	api.GET("/audit", audit.Query)
	api.DELETE("/audit", audit.Purge)
	api.GET("/audit/stream", wsHandler(ctx, log, deps.Hub, deps.CORSOrigins, lookup))
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	if deps.Throttle == nil {
		deps.Throttle = ratelimit.NewMemoryLimiter()
	}

	r := gin.New()
	setupMiddleware(r, deps)
	registerRoutes(ctx, r.Group("/api/v1"), deps)

	return r
}
