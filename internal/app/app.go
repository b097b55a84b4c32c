package app

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stylemint/server/internal/model"
	"github.com/stylemint/server/internal/module/generation"
	genprovider "github.com/stylemint/server/internal/module/generation/provider"
	"github.com/stylemint/server/internal/module/generation/videojob"
	"github.com/stylemint/server/internal/module/ledger"
	"github.com/stylemint/server/internal/module/payment"
	"github.com/stylemint/server/internal/shared/cache"
	"github.com/stylemint/server/internal/shared/config"
	"github.com/stylemint/server/internal/shared/database"
	"github.com/stylemint/server/internal/shared/metrics"
	"github.com/stylemint/server/internal/shared/middleware"
	"github.com/stylemint/server/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App wires configuration, storage, and modules into one process.
type App struct {
	config *config.Config
	db     *gorm.DB
	redis  *redis.Client
	router *gin.Engine
	logger *zap.Logger
}

// New builds the application.
func New(cfg *config.Config) (*App, error) {
	logger, err := buildLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := db.AutoMigrate(
		&model.Plan{},
		&model.Subscription{},
		&model.CreditTransaction{},
		&model.WebhookEvent{},
		&model.GenerationJob{},
		&model.Store{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	m := metrics.New("stylemint")

	// Ledger
	ledgerRepo := ledger.NewRepository(db)
	ledgerService := ledger.NewService(ledgerRepo, logger)
	ledgerHandler := ledger.NewHandler(ledgerService, logger)

	// Payment
	stripeProvider := payment.NewStripeProvider(&payment.StripeConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.CheckoutSuccessURL,
		CancelURL:     cfg.Stripe.CheckoutCancelURL,
	})
	paymentService := payment.NewService(db, ledgerService, stripeProvider, logger)
	paymentHandler := payment.NewHandler(paymentService, m, logger)

	// Generation
	providerClient := genprovider.NewHTTPClient(&genprovider.Config{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		RequestTimeout: cfg.Provider.RequestTimeout,
	})
	uploader, err := storage.NewS3Uploader(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	jobRepo := videojob.NewRepository(db)
	runner := videojob.NewRunner(jobRepo, providerClient, cfg.Provider.PollInterval, cfg.Provider.VideoBudget, logger)
	generationService := generation.NewService(
		ledgerService,
		providerClient,
		uploader,
		generation.NewStoreRepository(db),
		jobRepo,
		runner,
		m,
		logger,
	)
	generationHandler := generation.NewHandler(generationService, logger)

	// Middleware
	verifier := middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	authMW := middleware.Auth(verifier)
	limiter := middleware.NewRateLimiter(redisClient)
	storefrontQuota := middleware.RateLimit(limiter, middleware.RateLimitConfig{
		Limit:  cfg.Storefront.RateLimit,
		Window: cfg.Storefront.RateLimitWindow,
		KeyFunc: func(c *gin.Context) string {
			return "storefront:" + c.ClientIP()
		},
	})

	// Router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Metrics(m))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", middleware.StoreIDHeader},
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	ledgerHandler.RegisterRoutes(api, authMW)
	paymentHandler.RegisterRoutes(api, authMW)
	generationHandler.RegisterRoutes(api, authMW, middleware.StoreAuth(), storefrontQuota)

	return &App{
		config: cfg,
		db:     db,
		redis:  redisClient,
		router: router,
		logger: logger,
	}, nil
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Stop releases application resources.
func (a *App) Stop() {
	if err := cache.Close(a.redis); err != nil {
		a.logger.Warn("failed to close redis", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func buildLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zapCfg.Level = level
	}
	return zapCfg.Build()
}
