package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/app"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.MessagingDriver != config.MessagingAMQP {
		log.Fatal("saga-worker needs MESSAGING_DRIVER=amqp, the in-memory bus runs inside api-server")
	}

	log.Info("saga-worker starting up", zap.String("env", cfg.Env), zap.String("queue_prefix", cfg.AMQPQueuePrefix))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	if err := a.StartSaga(rootCtx); err != nil {
		log.Error("start saga consumers", zap.Error(err))
		return
	}
	log.Info("consuming appointment events")

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping saga-worker")
}
