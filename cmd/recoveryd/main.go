package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/advisor"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/api"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/archive"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/cache"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/events"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/notifications"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/notifications/channels"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/config"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/tracing"
)

func main() {
	issueToken := flag.String("issue-token", "", "print an admin token for the given subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *issueToken != "" {
		if cfg.Auth.JWTSecret == "" {
			log.Fatalf("AUTH_JWT_SECRET must be set to issue tokens")
		}
		token, err := api.NewAdminToken(cfg.Auth.JWTSecret, *issueToken, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "recovery-orchestrator",
		Version:     api.Version,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create notification logger: %v", err)
	}
	defer zapLogger.Sync()

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	})

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "recovery-orchestrator",
		ServiceVersion: api.Version,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	checkers := make(map[string]api.HealthChecker)

	// Classification cache: Redis when configured, in-process otherwise
	var store cache.Store
	if cfg.Redis.Host != "" {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Health(ctx); err != nil {
			log.Fatalf("Redis health check failed: %v", err)
		}
		cancel()

		store = redisClient
		checkers["redis"] = redisClient
		logger.Info("Redis connection established", "addr", cfg.RedisAddr())
	} else {
		store = cache.NewMemoryStore(time.Now)
		logger.Info("Using in-memory classification cache")
	}
	verdicts := cache.NewVerdicts(cache.NewService(store, &cache.Config{
		KeyPrefix:  "recovery",
		DefaultTTL: cfg.AI.ClassificationTTL,
	}))

	deps := recovery.Deps{
		Cache:   verdicts,
		Metrics: m,
		Tracer:  tracer,
		Logger:  logger,
	}

	if cfg.AI.Enabled {
		client, err := advisor.New(advisor.Config{
			APIKey:  cfg.AI.APIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.Model,
		}, tracer, m)
		if err != nil {
			log.Fatalf("Failed to create advisor: %v", err)
		}
		deps.Advisor = client
		deps.Limiter = rate.NewLimiter(rate.Limit(cfg.AI.RequestsPerSecond), cfg.AI.Burst)
		logger.Info("Advisor enabled", "model", cfg.AI.Model)
	}

	bus := events.NewBus(m)
	deps.Publisher = bus

	notifier := notifications.NewService(zapLogger, notifications.Config{
		MinSeverity: recovery.Severity(cfg.Notifications.MinSeverity),
	})
	notifier.RegisterChannel(notifications.NewLogChannel(zapLogger))
	if cfg.Notifications.SlackWebhookURL != "" {
		notifier.RegisterChannel(channels.NewSlackHandler(channels.SlackConfig{
			WebhookURL: cfg.Notifications.SlackWebhookURL,
			Channel:    cfg.Notifications.SlackChannel,
			Username:   cfg.Notifications.SlackUsername,
		}, zapLogger))
	}
	deps.OnBreakerChange = notifier.BreakerChanged

	handler := recovery.NewHandler(recovery.Config{
		BreakerThreshold: cfg.Recovery.BreakerThreshold,
		BreakerTimeout:   cfg.Recovery.BreakerTimeout,
		Retention: recovery.RetentionPolicy{
			MaxAge:     cfg.Recovery.RetentionMaxAge,
			MaxRecords: cfg.Recovery.RetentionMaxRecords,
		},
		SuccessRate:       cfg.Recovery.SimulatedSuccessRate,
		AdvisorTimeout:    cfg.AI.Timeout,
		ClassificationTTL: cfg.AI.ClassificationTTL,
	}, deps)

	runCtx, stopRun := context.WithCancel(context.Background())
	var consumers sync.WaitGroup

	alerts, err := bus.Subscribe("notifications", cfg.Recovery.EventBuffer)
	if err != nil {
		log.Fatalf("Failed to subscribe notifications: %v", err)
	}
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		events.Consume(runCtx, alerts, notifier.HandleRecord)
	}()

	routerDeps := api.RouterDeps{
		Handler: handler,
		Metrics: m,
		Tracer:  tracer,
		Logger:  logger,
	}

	// Durable archive, only when a database is configured
	if cfg.Database.Host != "" {
		db, err := archive.New(&cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.Health(ctx); err != nil {
			log.Fatalf("Database health check failed: %v", err)
		}
		cancel()

		migrator, err := archive.NewMigrator(db.DB.DB)
		if err != nil {
			log.Fatalf("Failed to create migrator: %v", err)
		}
		if err := migrator.Up(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		migrator.Close()

		repo := archive.NewRepository(db, tracer, m)
		sub, err := bus.Subscribe("archive", cfg.Recovery.EventBuffer)
		if err != nil {
			log.Fatalf("Failed to subscribe archive: %v", err)
		}
		sink := archive.NewSink(repo, cfg.Recovery.RetentionMaxAge)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			sink.Run(runCtx, sub)
		}()

		routerDeps.Archive = repo
		checkers["database"] = db
		logger.Info("Error archive enabled", "database", cfg.Database.Name)
	}
	routerDeps.HealthCheckers = checkers

	sweeper := recovery.NewSweeper(handler, recovery.SweeperConfig{
		PatternInterval:      cfg.Recovery.PatternSweepInterval,
		BreakerInterval:      cfg.Recovery.BreakerSweepInterval,
		OptimizationInterval: cfg.Recovery.OptimizationSweepInterval,
	})
	sweeper.Start(runCtx)

	router := api.NewRouter(cfg, routerDeps)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting recovery orchestrator", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error())
	}

	sweeper.Stop()
	bus.Close()
	consumers.Wait()
	stopRun()
	notifier.Wait()

	if err := tracer.Shutdown(ctx); err != nil {
		logger.Error("Failed to flush traces", "error", err.Error())
	}

	logger.Info("Server exited")
}
