package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gloser-ai/console/internal/api"
	"github.com/gloser-ai/console/internal/auth"
	"github.com/gloser-ai/console/internal/config"
	"github.com/gloser-ai/console/internal/core"
	"github.com/gloser-ai/console/internal/dispatch"
	"github.com/gloser-ai/console/internal/format"
	"github.com/gloser-ai/console/internal/reply"
	"github.com/gloser-ai/console/internal/store"
	"github.com/gloser-ai/console/internal/view"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	kv, err := store.NewSQLiteKV(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer kv.Close()

	sessions := store.NewSessionStore(kv, cfg.StoreKey, cfg.ActiveKey)

	dispatcher := dispatch.NewClient(cfg.QueryEndpoint, logger,
		dispatch.WithAttempts(cfg.DispatchAttempts),
		dispatch.WithBaseDelay(cfg.DispatchBaseDelay),
	)
	normalizer := reply.NewNormalizer(cfg.AnswerMarker, logger)
	controller := core.NewController(sessions, dispatcher, normalizer, logger)

	formatter := format.New(cfg.ChunkLen)
	policy := view.Policy{SectionLimit: cfg.SectionLimit, RowLimit: cfg.TableRowLimit}

	var tokens *auth.Tokens
	if cfg.JWTSecret != "" {
		tokens = auth.NewTokens(cfg.JWTSecret)
	} else {
		logger.Warn("JWT_SECRET not set, running without authentication")
	}

	apiHandler := api.NewAPIHandler(controller, formatter, policy, tokens, cfg.APIPassword, logger)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // answering-service calls can take time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", serverAddr), zap.String("endpoint", cfg.QueryEndpoint))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting gracefully")
}

func newLogger(level string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if level == "DEBUG" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
