package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"storefront/api/config"
	"storefront/api/database"
	"storefront/api/handlers"
	"storefront/api/logger"
	"storefront/api/metrics"
	"storefront/api/middleware"
	"storefront/api/presence"
	"storefront/api/store"
	"storefront/api/tracking"
	"storefront/api/utils"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Component("main")
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// --- PostgreSQL (customers, orders, online users) ---
	dbClient, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, logger.Component("postgres"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize PostgreSQL")
	}
	defer dbClient.Close()
	if err := store.EnsurePostgresSchema(ctx, dbClient.DB); err != nil {
		log.Fatal().Err(err).Msg("failed to apply PostgreSQL schema")
	}

	// --- ClickHouse (activity log), optional ---
	var (
		sinks      tracking.FanOut
		statsStore handlers.ActivityStats
	)
	if cfg.ClickHouse.Enabled() {
		chClient, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger.Component("clickhouse"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize ClickHouse")
		}
		defer chClient.Close()
		activityStore := store.NewActivityStore(chClient, logger.Component("activity_store"))
		if err := activityStore.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply ClickHouse schema")
		}
		sinks = append(sinks, tracking.NewBreakerSink("clickhouse", activityStore, 5, 30*time.Second, logger.Component("tracking")))
		statsStore = activityStore
	} else {
		log.Warn().Msg("ClickHouse not configured; activity statistics disabled")
	}

	// --- Kafka (activity stream), optional ---
	var kafkaWriter *kafka.Writer
	if len(cfg.KafkaBrokers) > 0 {
		kafkaWriter = database.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopicActivity)
		sinks = append(sinks, tracking.NewBreakerSink("kafka", store.NewActivityPublisher(kafkaWriter), 5, 30*time.Second, logger.Component("tracking")))
	}

	var sink tracking.ActivitySink = tracking.DiscardSink{}
	if len(sinks) > 0 {
		sink = sinks
	}

	// --- Redis (live presence), optional ---
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = database.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; live presence disabled")
			rdb = nil
		}
	}
	live := presence.New(rdb, cfg.Tracking.OnlineWindow)

	// --- Stores ---
	customerStore := store.NewCustomerStore(dbClient.DB)
	orderStore := store.NewOrderStore(dbClient.DB)

	var (
		repo     tracking.Repository
		sessions handlers.OnlineSessions
	)
	switch cfg.Tracking.Store {
	case "memory":
		mem := store.NewMemoryOnlineUserStore()
		repo, sessions = mem, mem
	default:
		pg := store.NewOnlineUserStore(dbClient.DB)
		repo, sessions = pg, pg
	}

	tracker := tracking.NewTracker(repo, sink, live, tracking.Options{
		Rules: cfg.Tracking.Rules,
		Identity: tracking.Identity{
			MaxAge: cfg.Tracking.BrowserIDMaxAge,
			Secure: cfg.Tracking.CookieSecure,
			Domain: cfg.Tracking.CookieDomain,
		},
		Principal:     middleware.PrincipalFromContext,
		Workers:       cfg.Tracking.Workers,
		QueueSize:     cfg.Tracking.QueueSize,
		BatchSize:     cfg.Tracking.BatchSize,
		BatchInterval: cfg.Tracking.BatchInterval,
		Logger:        logger.Component("tracking"),
	})

	// --- Handlers ---
	jwt := utils.NewJWTManager(cfg.JWTSecret, 24*time.Hour)
	authHandlers := handlers.NewAuthHandlers(customerStore, jwt, cfg.Tracking.CookieSecure)
	checkoutHandlers := handlers.NewCheckoutHandlers(orderStore)
	statsHandlers := handlers.NewStatsHandlers(statsStore, sessions, live, cfg.Tracking.OnlineWindow)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinLogger())
	r.Use(metrics.NewHTTPMetrics(prometheus.DefaultRegisterer, "storefront-api").Handler())
	r.Use(middleware.CORSMiddleware(cfg.FEOrigins))
	r.Use(middleware.Authenticate(jwt))
	r.Use(tracker.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := dbClient.DB.PingContext(hctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		protected := api.Group("/")
		protected.Use(middleware.CustomerRequired())
		{
			protected.GET("/profile", authHandlers.Profile)
			protected.POST("/checkout/complete", checkoutHandlers.Complete)
		}

		admin := api.Group("/admin/stats")
		admin.Use(middleware.AdminRequired())
		{
			admin.GET("/activity-counts", statsHandlers.GetActionCounts)
			admin.GET("/unique-browsers", statsHandlers.GetUniqueBrowsers)
			admin.GET("/top-products", statsHandlers.GetTopProducts)
			admin.GET("/average-duration", statsHandlers.GetAverageDuration)
			admin.GET("/online", statsHandlers.GetOnline)
			admin.GET("/online/:browserId", statsHandlers.GetOnlineUser)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("API server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	// Requests are done; drain queued tracking work before closing its sinks.
	if err := tracker.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracking pipeline did not drain cleanly")
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			log.Error().Err(err).Msg("kafka writer close failed")
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}

	log.Info().Msg("server exiting")
}
