package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/api"
	"github.com/hackgods/clinic-slot-scheduling/internal/app"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

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

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("messaging", cfg.MessagingDriver),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Fatal("api-server stopped", zap.Error(err))
	}
	log.Info("api-server shut down")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// with the in-memory bus nobody else can consume our events
	if a.InProcessSaga() {
		if err := a.StartSaga(ctx); err != nil {
			return fmt.Errorf("start saga: %w", err)
		}
		log.Info("saga handlers running in-process")
	}

	if a.InProcessReconciler() {
		reconcileCtx, stopReconcile := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			a.Reconciler().Run(reconcileCtx, cfg.WorkerInterval)
		}()
		defer func() {
			stopReconcile()
			<-done
		}()
		log.Info("reconciler running in-process", zap.Duration("interval", cfg.WorkerInterval))
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Slots:        a.Slots,
			Appointments: a.Appointments,
			Resolver:     identity.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer),
			Metrics:      a.Metrics,
			Logger:       log.Named("http"),
			Checks:       a.Checks(),
			Env:          cfg.Env,
			Version:      version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping http server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
