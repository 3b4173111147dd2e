// Package main runs a stand-alone stub Alloy server for trying alloyctl and
// the cluster manager without GPUs.
//
// Endpoints:
//
//	GET  /health   always 200
//	GET  /models   the models fixture
//	POST /chat     echoes the last message, prefixed by the stub name
//	POST /image    returns the prompt as one base64 "image"
//	POST /audio    returns one JSON output and a sample rate
//
// Configuration:
//   - STUB_LISTEN: Listen address (default: ":8000")
//   - STUB_NAME: Name echoed in responses (default: the listen address)
//   - STUB_MODELS: Path to a YAML /models fixture (default: empty listing)
//   - STUB_FAIL_STATUS: Answer every non-health request with this status
//   - STUB_LATENCY: Delay every answer, e.g. "250ms"
//
// Example usage:
//
//	STUB_LISTEN=:8001 STUB_MODELS=models.yaml ./alloystub &
//	STUB_LISTEN=:8002 STUB_FAIL_STATUS=503 ./alloystub &
//	ALLOY_NODES=http://localhost:8001,http://localhost:8002 alloyctl models
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/alloy/internal/stub"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := run(logger); err != nil {
		logger.Error("alloystub failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	opts, listen, err := optionsFromEnv(logger)
	if err != nil {
		return err
	}

	s := &http.Server{
		Addr:              listen,
		Handler:           stub.New(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stub listening", "addr", listen, "name", opts.Name, "fail_status", opts.FailStatus)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stub stopped")
	return nil
}

// optionsFromEnv reads the STUB_* variables.
func optionsFromEnv(logger *slog.Logger) (stub.Options, string, error) {
	listen := getenv("STUB_LISTEN", ":8000")
	opts := stub.Options{
		Name:   getenv("STUB_NAME", listen),
		Logger: logger,
	}

	if path := os.Getenv("STUB_MODELS"); path != "" {
		models, err := stub.LoadModels(path)
		if err != nil {
			return opts, "", err
		}
		opts.Models = models
	}
	if v := os.Getenv("STUB_FAIL_STATUS"); v != "" {
		status, err := strconv.Atoi(v)
		if err != nil || status < 100 || status > 599 {
			return opts, "", fmt.Errorf("STUB_FAIL_STATUS: invalid status %q", v)
		}
		opts.FailStatus = status
	}
	if v := os.Getenv("STUB_LATENCY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return opts, "", fmt.Errorf("STUB_LATENCY: %w", err)
		}
		opts.Latency = d
	}
	return opts, listen, nil
}

// getenv returns the environment variable k, or def when it is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
