package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/hub"
	"github.com/parlorchat/parlor/internal/logging"
	"github.com/parlorchat/parlor/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	h := hub.New(hub.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		RateBurst:      cfg.RateLimit.Burst,
		RateRefill:     cfg.RateLimit.RefillInterval(),
	})
	go h.Run()

	srv := server.New(cfg, h)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	}

	if err := srv.Shutdown(shutdownTimeout); err != nil {
		slog.Error("http shutdown incomplete", "err", err)
	}
	if err := h.Shutdown(shutdownTimeout); err != nil {
		slog.Error("hub shutdown incomplete", "err", err)
	}
	slog.Info("shutdown complete")
}
