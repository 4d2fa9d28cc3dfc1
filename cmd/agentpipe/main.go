package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bakkerme/agentpipe/internal/config"
	"github.com/bakkerme/agentpipe/internal/observability/otelx"
	"github.com/bakkerme/agentpipe/internal/pipe"
	"github.com/bakkerme/agentpipe/internal/server"
)

func main() {
	listen := flag.String("listen", getenv("LISTEN_ADDR", ":8080"), "server listen address")
	debug := flag.Bool("debug", getenvBool("DEBUG", false), "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := otelx.Init(ctx, logger, cfg.OTel)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}

	if cfg.Agent.EndpointURL == "" {
		logger.Warn("AGENT_ENDPOINT_URL is not set, chat calls will fail until it is")
	}

	p, err := pipe.NewFromEnv(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build pipe: %v", err)
	}

	srv := server.New(p, cfg, logger)
	go func() {
		if err := srv.Start(*listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()
	logger.Info("agentpipe listening", "addr", *listen, "endpoint", cfg.Agent.EndpointURL)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if otelShutdown != nil {
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Error("trace exporter shutdown failed", "error", err)
		}
	}
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	default:
		return false
	}
}
