package main

import (
	"context"   // context package is needed for Redis operations and shutdown
	"errors"    // Distinguishing server close
	"net/http"  // HTTP server
	"os"        // Signals
	"os/signal" // Signal notification
	"syscall"   // SIGTERM
	"time"      // Shutdown timeout

	"tontine_system/internal/api"     // Custom package for API handlers
	"tontine_system/internal/config"  // Custom package for configuration
	"tontine_system/internal/db"      // Database connection and migration
	"tontine_system/internal/events"  // Event publishers
	"tontine_system/internal/metrics" // Prometheus collectors
	"tontine_system/internal/tontine" // Tontine engine
	"tontine_system/internal/utils"   // Redis cache
	"tontine_system/internal/worker"  // Background workers

	"github.com/gin-gonic/gin"                                  // Gin web framework
	"github.com/juju/clock"                                     // Wall clock for the engine and worker
	"github.com/prometheus/client_golang/prometheus"            // Metrics registry
	"github.com/prometheus/client_golang/prometheus/collectors" // Runtime collectors
	"github.com/prometheus/client_golang/prometheus/promhttp"   // Metrics endpoint
	"github.com/redis/go-redis/v9"                              // Redis client
	"github.com/sirupsen/logrus"                                // Logrus for structured logging
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET is required")
	}

	database, err := db.Open(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}
	if cfg.DBDriver == config.DriverSQLite {
		// SQLite deployments are single-node; keep the schema current on boot
		if err := db.Migrate(database); err != nil {
			logrus.Fatalf("failed to migrate: %v", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	publisher := events.Fanout{events.LogPublisher{}}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr, // Redis server address
			Password: cfg.RedisPass, // Redis password
			DB:       cfg.RedisDB,   // Redis database number
		})
		// Test Redis connection
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			logrus.Fatalf("failed to connect to Redis: %v", err)
		}
		publisher = append(publisher, events.NewRedisPublisher(redisClient, cfg.RedisEventsChannel))
	} else {
		logrus.Warn("REDIS_ADDR not set, round status cache and event channel disabled")
	}

	svc := tontine.NewService(database,
		tontine.WithClock(clock.WallClock),
		tontine.WithPublisher(publisher),
		tontine.WithCache(utils.NewCache(redisClient, cfg.CacheTTL)),
		tontine.WithMetrics(recorder),
		tontine.WithInviteTTL(cfg.InviteTTL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LateSweepInterval > 0 {
		go worker.NewLateChecker(svc, clock.WallClock, cfg.LateSweepInterval).Start(ctx)
	}

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default() // Gin router instance

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	api.RegisterRoutes(r, database, svc, cfg.JWTSecret, cfg.JWTTTL)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		logrus.Info("Server running on " + cfg.AppPort) // Log server start
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("graceful shutdown failed: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logrus.Info("Server stopped")
}
