// Package main is the entry point for the taxlink API server.
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

	"github.com/ulule/limiter/v3"

	"taxlink/internal/app"
	"taxlink/internal/config"
	v1 "taxlink/internal/infrastructure/http/v1"
	"taxlink/internal/infrastructure/http/v1/middleware"
	"taxlink/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Infow("starting taxlink server", "version", app.Version, "env", cfg.AppEnv)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		log.Warnw("tenant cache listener not started, credential changes need a restart", "error", err)
	}

	routerCfg := v1.RouterConfig{
		Logger:         log,
		DB:             a.Pool,
		Version:        app.Version,
		TokenValidator: a.JWT,
		Auth:           a.Auth,
		Submissions:    a.Submissions,
		Documents:      a.Documents,
		Archive:        a.Archive,
		CORSOrigins:    cfg.CORSOrigins,
		Development:    cfg.IsDevelopment(),
	}
	if cfg.IdempotencyEnabled {
		routerCfg.Idempotency = a.Idempotency
	}
	if cfg.RateLimit != "" {
		routerCfg.RateLimiter = mustLimiter(log, cfg.RateLimit)
	}
	routerCfg.LoginLimiter = mustLimiter(log, "5-M")

	router := v1.NewRouter(routerCfg)

	server := &http.Server{
		Addr:        ":" + cfg.AppPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Interactive runs wait for the authority.
		WriteTimeout: cfg.AuthorityTimeout*3 + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.AppPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func mustLimiter(log *logger.Logger, rate string) *limiter.Limiter {
	l, err := middleware.NewRateLimiter(rate)
	if err != nil {
		log.Fatalw("invalid rate limit", "rate", rate, "error", err)
	}
	return l
}
