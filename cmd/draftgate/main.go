package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/config"
	"github.com/whisper/contentguard/internal/logging"
	"github.com/whisper/contentguard/internal/moderation"
	"github.com/whisper/contentguard/internal/ratelimit"
	"github.com/whisper/contentguard/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "draftgate: %v\n", err)
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
	log := logging.Named("draftgate")

	deny, err := cfg.LoadDenyList()
	if err != nil {
		log.Warn("deny list unavailable, classifier only", zap.String("path", cfg.DenyListPath), zap.Error(err))
	}
	pipeline := moderation.NewPipeline(deny, moderation.NewClient(cfg.ClientConfig()))
	gate := moderation.NewPolicyGate(cfg.Gate)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, rate limits fail open", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	cancel()
	limiter := ratelimit.NewLimiter(rdb)

	serverCfg := ws.DefaultServerConfig()
	serverCfg.ListenAddr = cfg.WSAddr

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(serverCfg, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	drafts := ws.NewDrafts(server, pipeline, gate, ws.DraftsConfig{
		Delay:   cfg.DebounceDelay,
		Limiter: limiter,
	})
	drafts.Register(dispatcher)
	server.SetOnDisconnect(drafts.CloseSession)
	server.SetConnectFilter(ws.ConnectFilter(limiter))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info("draft gateway running",
		zap.String("ws_addr", serverCfg.ListenAddr),
		zap.String("classifier", cfg.ClassifierURL),
		zap.Duration("debounce", cfg.DebounceDelay))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
