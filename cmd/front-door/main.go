package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/app"
	"github.com/upb/dsp-front-door/config"
	"github.com/upb/dsp-front-door/internal/observability"
	"github.com/upb/dsp-front-door/routes"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, nil); err != nil {
		logger.Fatal("front door stopped with error", zap.Error(err))
	}
}

// initLogger builds the process logger before the configuration is loaded,
// so it reads the log settings straight from the environment.
func initLogger() (*zap.Logger, error) {
	level := os.Getenv("FD_LOG_LEVEL")
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	return observability.NewLogger(level, os.Getenv("LOG_FORMAT"))
}

// run serves until ctx is cancelled, then shuts down gracefully.
// ready, when non-nil, receives the bound listen address.
func run(ctx context.Context, logger *zap.Logger, ready chan<- string) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	logger.Info("starting DSP front door",
		zap.String("version", app.Version),
		zap.String("address", cfg.Server.Address()),
		zap.String("control_tower", cfg.ControlTower.BaseURL),
		zap.Duration("cache_ttl", cfg.FrontDoor.CacheTTL),
		zap.Bool("auth_enabled", cfg.AuthEnabled()),
		zap.String("audit_db", cfg.Database.LogString()),
	)

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	srv := &http.Server{
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     zap.NewStdLog(logger),
	}

	ln, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			_ = deps.Close(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	logger.Info("front door stopped")
	return errors.Join(errs...)
}
