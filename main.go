package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto_alert_backend/config"
	"crypto_alert_backend/logging"
	"crypto_alert_backend/middleware"
	"crypto_alert_backend/routes"
	"crypto_alert_backend/scheduler"
	"crypto_alert_backend/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// app holds every long-lived component so shutdown can release them in order
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	server      *http.Server
	scheduler   *scheduler.Scheduler
	realtime    *services.RealtimePriceService
	registry    *services.SubscriberRegistry
	dispatcher  *services.NotificationDispatcher
	store       services.UserStore
	stopWorkers context.CancelFunc
}

func main() {
	bootLogger := logging.NewLogger(logging.DefaultLogConfig())

	cfg, err := config.LoadConfig(bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.FilePath = cfg.LogFile
	logger := logging.NewLogger(logCfg)

	logger.Info().Str("environment", cfg.Environment).Msg("crypto alert backend starting")

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}

	go func() {
		logger.Info().Str("addr", a.server.Addr).Msg("server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	if err := a.scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	a.gracefulShutdown()
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := openStore(cfg, logging.Component(logger, "store"))
	if err != nil {
		return nil, err
	}

	// Notification pipeline
	sink := services.NewMultiNotifier()
	if cfg.SMTPHost != "" {
		sink.Add(services.NewEmailNotifier(services.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
	}
	if cfg.WebhookURL != "" {
		sink.Add(services.NewWebhookNotifier(cfg.WebhookURL))
	}
	if sink.Len() == 0 {
		sink.Add(services.NewLogNotifier(logging.Component(logger, "notifier")))
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	dispatcher := services.NewNotificationDispatcher(sink, cfg.NotifyWorkers, cfg.NotifyQueueSize, logging.Component(logger, "dispatcher"))
	dispatcher.Start(workerCtx)

	// Price pipeline
	source := services.NewCoinGeckoClient(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey, cfg.UpstreamTimeout)
	cache := services.NewPriceCache(source, cfg.CacheTTL, logging.Component(logger, "cache"))
	registry := services.NewSubscriberRegistry(cfg.DefaultCurrency)

	realtime := services.NewRealtimePriceService(registry, cfg.MaxWSClients, logging.Component(logger, "realtime"))
	engine := services.NewAlertEngine(registry, dispatcher, realtime, cfg.AlertRecipient, logging.Component(logger, "alerts"))
	feed := services.NewAlertFeed(services.DefaultAlertFeedSize)
	engine.AddListener(feed)

	broadcaster := services.NewBroadcaster(cache, engine, registry, realtime, logging.Component(logger, "broadcaster"))
	realtime.SetHandler(broadcaster)

	tokens := middleware.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	limiter := middleware.NewLoginRateLimiter()
	if store != nil {
		realtime.SetTokenParser(func(token string) (services.Identity, error) {
			claims, err := tokens.Parse(token)
			if err != nil {
				return services.Identity{}, err
			}
			return services.Identity{UserID: claims.Subject, Email: claims.Email}, nil
		})
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(logging.RequestLogger(logging.Component(logger, "http")))

	setupHealthEndpoints(router, store)
	routes.SetupRoutes(router, routes.Dependencies{
		Cache:       cache,
		Registry:    registry,
		Broadcaster: broadcaster,
		Realtime:    realtime,
		Dispatcher:  dispatcher,
		Feed:        feed,
		Store:       store,
		Tokens:      tokens,
		Limiter:     limiter,
		Logger:      logging.Component(logger, "api"),
	})

	jobs := scheduler.NewScheduler(broadcaster, cfg.TickInterval, logging.Component(logger, "scheduler"))
	jobs.AddMaintenance(func() {
		removed := limiter.Cleanup()
		total, pending := registry.RuleCount()
		logger.Info().
			Int("subscribers", registry.Len()).
			Int("clients", realtime.GetClientCount()).
			Int("rules", total).
			Int("pending_rules", pending).
			Int("rate_limit_entries_removed", removed).
			Interface("notifications", dispatcher.Stats()).
			Msg("maintenance")
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		server:      server,
		scheduler:   jobs,
		realtime:    realtime,
		registry:    registry,
		dispatcher:  dispatcher,
		store:       store,
		stopWorkers: stopWorkers,
	}, nil
}

// openStore connects the account store selected by STORAGE_DRIVER. A nil
// store disables the account routes.
func openStore(cfg *config.Config, logger zerolog.Logger) (services.UserStore, error) {
	switch cfg.StorageDriver {
	case config.StorageMongo:
		client := services.NewMongoDBClient(cfg.MongoURI, cfg.MongoDatabase, logger)
		if err := client.Connect(context.Background()); err != nil {
			return nil, err
		}
		return client, nil
	case config.StoragePostgres, config.StorageSQLite:
		db, err := config.InitDB(cfg, logger)
		if err != nil {
			return nil, err
		}
		store, err := services.NewGormUserStore(db)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		logger.Info().Msg("no storage configured, account routes disabled")
		return nil, nil
	}
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, store services.UserStore) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Crypto Alert Backend",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks the store when one is configured
	router.GET("/ready", func(c *gin.Context) {
		if store != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "not_ready",
					"message": "Storage ping failed",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// gracefulShutdown waits for a signal, then stops the scheduler, the
// websocket clients, the HTTP server, the notification queue and the store.
func (a *app) gracefulShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	a.logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	a.scheduler.Stop()
	a.realtime.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Drain queued notifications, then release the workers
	drained := make(chan struct{})
	go func() {
		a.dispatcher.Stop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		a.logger.Warn().Msg("notification queue not drained before deadline")
	}
	a.stopWorkers()

	a.registry.Close()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close store")
		} else {
			a.logger.Info().Msg("store closed")
		}
	}

	a.logger.Info().Msg("server shutdown completed")
}
