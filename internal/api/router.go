package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"whitelist-engine/internal/config"
)

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(
	cfg *config.Config,
	evaluateHandler *EvaluateHandler,
	whitelistHandler *WhitelistHandler,
	rulesHandler *RulesHandler,
	healthHandler *HealthHandler,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", healthHandler.Live)
	router.GET("/health/live", healthHandler.Live)
	router.GET("/health/ready", healthHandler.Ready)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/evaluate", evaluateHandler.Evaluate)
		v1.POST("/evaluate/batch", evaluateHandler.EvaluateBatch)
		v1.POST("/feedback", evaluateHandler.Feedback)

		v1.POST("/whitelist", whitelistHandler.Create)
		v1.POST("/whitelist/:userId/smart-add", whitelistHandler.SmartAdd)
		v1.GET("/whitelist/:userId", whitelistHandler.List)
		v1.DELETE("/whitelist/:userId/:entryId", whitelistHandler.Delete)

		v1.POST("/rules/global", rulesHandler.CreateGlobalRule)
		v1.GET("/rules/export", rulesHandler.Export)
		v1.POST("/rules/import", rulesHandler.Import)
		v1.GET("/rules/users/:userId", rulesHandler.ListUserRules)
		v1.POST("/rules/users/:userId", rulesHandler.CreateUserRule)
		v1.DELETE("/rules/users/:userId/:ruleId", rulesHandler.DeleteUserRule)

		v1.PUT("/preferences/:userId", rulesHandler.SetPreferences)
	}

	return router
}

// requestLogger logs one line per request with latency and status.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
