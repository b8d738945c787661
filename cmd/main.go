package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"whitelist-engine/internal/api"
	"whitelist-engine/internal/cache"
	"whitelist-engine/internal/config"
	"whitelist-engine/internal/engine"
	"whitelist-engine/internal/metrics"
	"whitelist-engine/internal/repository"
)

func main() {
	app := fx.New(
		// Configuration
		fx.Provide(config.NewConfig),

		// Logging
		fx.Provide(NewLogger),

		// Database
		fx.Provide(repository.NewPostgresDB),
		fx.Provide(repository.NewWhitelistRepository),
		fx.Provide(repository.NewSpamProfileRepository),

		// Cache
		fx.Provide(cache.NewRedisClient),
		fx.Provide(cache.NewDecisionCache),

		// Metrics
		fx.Provide(NewRegistry),
		fx.Provide(NewMetrics),

		// Decision engine
		fx.Provide(NewExtractor),
		fx.Provide(NewRuleStore),
		fx.Provide(NewRulesEngine),
		fx.Provide(NewEnsemble),
		fx.Provide(engine.NewRiskAssessor),
		fx.Provide(NewProfileStore),
		fx.Provide(NewLearner),
		fx.Provide(NewEngine),

		// API
		fx.Provide(api.NewEvaluateHandler),
		fx.Provide(api.NewWhitelistHandler),
		fx.Provide(api.NewRulesHandler),
		fx.Provide(api.NewHealthHandler),
		fx.Provide(api.NewRouter),

		// HTTP Server
		fx.Provide(NewHTTPServer),

		// Lifecycle
		fx.Invoke(StartLearner),
		fx.Invoke(StartServer),
	)

	app.Run()
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = cfg.Logging.Encoding

	return zapCfg.Build()
}

func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

func NewMetrics(registry *prometheus.Registry) *metrics.Metrics {
	return metrics.New(registry)
}

func NewExtractor(cfg *config.Config, logger *zap.Logger) *engine.Extractor {
	return engine.NewExtractor(cfg.Engine.PhoneHashSalt, logger)
}

func NewRuleStore(logger *zap.Logger) engine.RuleStore {
	return engine.NewMemoryRuleStore(logger)
}

func NewRulesEngine(store engine.RuleStore, cfg *config.Config, logger *zap.Logger) *engine.RulesEngine {
	return engine.NewRulesEngine(store, cfg.Engine.HighPriorityThreshold, logger)
}

func NewEnsemble(cfg *config.Config, logger *zap.Logger) *engine.Ensemble {
	weights := map[string]float64{
		engine.ScorerPattern:    cfg.Engine.PatternWeight,
		engine.ScorerTemporal:   cfg.Engine.TemporalWeight,
		engine.ScorerContextual: cfg.Engine.ContextualWeight,
		engine.ScorerBehavioral: cfg.Engine.BehavioralWeight,
	}
	return engine.NewEnsemble(cfg.Engine.ScorerTimeout, cfg.Engine.SpamThreshold, weights, logger)
}

func NewProfileStore(logger *zap.Logger) engine.ProfileStore {
	return engine.NewMemoryProfileStore(logger)
}

func NewLearner(
	cfg *config.Config,
	extractor *engine.Extractor,
	profiles engine.ProfileStore,
	spamProfiles *repository.SpamProfileRepository,
	whitelist *repository.WhitelistRepository,
	logger *zap.Logger,
) *engine.Learner {
	return engine.NewLearner(cfg.Learning, extractor, profiles, spamProfiles, whitelist, logger)
}

func NewEngine(
	cfg *config.Config,
	extractor *engine.Extractor,
	rules *engine.RulesEngine,
	ensemble *engine.Ensemble,
	risk *engine.RiskAssessor,
	profiles engine.ProfileStore,
	learner *engine.Learner,
	decisionCache *cache.DecisionCache,
	whitelist *repository.WhitelistRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
) *engine.Engine {
	return engine.NewEngine(cfg, extractor, rules, ensemble, risk, profiles, learner, decisionCache, whitelist, m, logger)
}

func NewHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func StartLearner(lc fx.Lifecycle, learner *engine.Learner, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			learner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			learner.Stop(ctx)
			return nil
		},
	})
}

func StartServer(lc fx.Lifecycle, server *http.Server, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting whitelist decision engine",
				zap.String("addr", server.Addr))

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("failed to start server", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down whitelist decision engine")

			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()

			return server.Shutdown(shutdownCtx)
		},
	})
}
