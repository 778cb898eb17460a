package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/api"
	"github.com/whisper/contentguard/internal/audit"
	"github.com/whisper/contentguard/internal/ban"
	"github.com/whisper/contentguard/internal/config"
	"github.com/whisper/contentguard/internal/logging"
	"github.com/whisper/contentguard/internal/messaging"
	"github.com/whisper/contentguard/internal/moderation"
	"github.com/whisper/contentguard/internal/ratelimit"
	"github.com/whisper/contentguard/internal/review"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "moderator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.Close()
	log := logging.Named("moderator")
	log.Info("starting moderation service")

	deny, err := cfg.LoadDenyList()
	if err != nil {
		log.Warn("deny list unavailable, classifier only", zap.String("path", cfg.DenyListPath), zap.Error(err))
	}
	client := moderation.NewClient(cfg.ClientConfig())
	pipeline := moderation.NewPipeline(deny, client)
	gate := moderation.NewPolicyGate(cfg.Gate)

	// Redis setup. Suspension and rate limit lookups fail open, so an
	// unreachable Redis degrades the service instead of stopping it.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, suspensions and rate limits fail open", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	cancel()
	limiter := ratelimit.NewLimiter(rdb)

	bans := ban.NewStore(rdb)
	deps := review.Deps{
		Suspensions: bans,
		Limiter:     limiter,
	}
	apiOpts := api.Options{
		Checker:      pipeline,
		Gate:         gate,
		Categories:   client,
		Limiter:      limiter,
		CheckTimeout: cfg.ClassifierTimeout,
		AdminToken:   cfg.AdminToken,
		Suspensions:  bans,
	}

	// Postgres is optional; without a DSN decisions are not audited.
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = audit.Open(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := audit.Migrate(db); err != nil {
			return err
		}
		auditStore := audit.NewStore(db)
		deps.Auditor = auditStore
		apiOpts.History = auditStore
		log.Info("audit log enabled")
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NatsURL
	natsConfig.Name = "contentguard-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		return err
	}
	deps.Publisher = natsClient

	svc := review.NewService(review.Config{
		Workers:   cfg.ReviewWorkers,
		QueueSize: cfg.ReviewQueueSize,
	}, pipeline, gate, deps)
	svc.Start()

	if err := natsClient.SubscribeSubmissions(svc.HandleMessage); err != nil {
		svc.Stop()
		natsClient.Close()
		return fmt.Errorf("subscribe submissions: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(apiOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
		}
	}()

	log.Info("moderation service running",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("nats_url", natsConfig.URL),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.Int("deny_terms", pipeline.DenyList().Len()),
		zap.Int("workers", cfg.ReviewWorkers),
		zap.Int("classifier_conns", cfg.ClassifierMaxConns),
		zap.Bool("admin_routes", cfg.AdminToken != ""))
	if cfg.ClassifierMaxConns < cfg.ReviewWorkers {
		log.Warn("classifier.max_conns is below review.workers; reviews queue for a connection")
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	err = httpServer.Shutdown(shutdownCtx)

	// Stop intake, let the queue finish publishing, then drain the connection.
	if uerr := natsClient.UnsubscribeSubmissions(); uerr != nil {
		log.Warn("leave reviewers queue", zap.Error(uerr))
	}
	svc.Stop()
	natsClient.Close()
	return err
}
