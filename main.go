package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	archivedb "arcade-presence/internal/archive/db"
	"arcade-presence/internal/auth"
	"arcade-presence/internal/catalog"
	"arcade-presence/internal/config"
	"arcade-presence/internal/database/migrations"
	"arcade-presence/internal/estimation"
	"arcade-presence/internal/identity"
	"arcade-presence/internal/kafka"
	"arcade-presence/internal/logger"
	"arcade-presence/internal/presence"
	"arcade-presence/internal/presence/presence_api"
	presenceredis "arcade-presence/internal/presence/redis"
	"arcade-presence/internal/reactor"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		logger.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	if err := reactor.EnsureExpiryNotifications(ctx, redisClient, logger); err != nil {
		logger.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		logger.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))
	return bunDB, redisClient
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Presence Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.Up(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Archive schema migration failed: %v", err))
	}
	logger.Info("DATABASE", "Archive schema up to date")

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
		defer producer.Close()
		requiredTopics := []string{
			cfg.Kafka.Topics.CheckedIn,
			cfg.Kafka.Topics.Archived,
			cfg.Kafka.Topics.ReportSubmitted,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		logger.Warn("KAFKA", "Kafka disabled, domain events will not be published")
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	m2m := auth.NewM2MClient(httpClient, auth.NewRedisTokenCache(redisClient), logger)
	catalogClient := catalog.NewClient(cfg.Catalog.BaseURL, httpClient, m2m, logger)
	identityClient := identity.NewClient(cfg.Identity.BaseURL, httpClient, m2m, logger)

	store := presenceredis.NewStore(redisClient, logger)
	store.ShadowGrace = cfg.Presence.ShadowGrace
	archiveStore := &archivedb.DB{Bun: bunDB}

	var events presence.EventPublisher
	if producer != nil {
		events = producer
	}
	presenceService := presence.NewService(store, archiveStore, catalogClient, events, logger, cfg.Presence)
	estimator := estimation.NewEngine(store, catalogClient, identityClient, logger)

	// The reactor gets its own client: a subscribed connection cannot issue
	// regular commands, and reconnect churn must not disturb request traffic.
	subscriberClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	defer subscriberClient.Close()

	var reactorEvents reactor.EventPublisher
	if producer != nil {
		reactorEvents = producer
	}
	expiryReactor := reactor.New(subscriberClient, store, archiveStore, reactorEvents, logger, cfg.Presence.SweepInterval)
	go expiryReactor.Run(ctx)
	logger.Info("REACTOR", "Expiration reactor started")

	handler := presence_api.NewHandler(presenceService, estimator, archiveStore, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	logger.Info("ROUTER", "Presence routes registered under /api/presence")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Presence Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Presence Service shutdown complete")
	}
}
