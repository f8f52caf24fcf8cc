package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"p2plend/config"
	telemetry "p2plend/observability/otel"
)

func TestRunServesUntilCancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Events.Journal = filepath.Join(dir, "events")
	cfg.RPC.Address = "127.0.0.1:0"
	cfg.Indexer.Driver = "sqlite"
	cfg.Indexer.DSN = filepath.Join(dir, "positions.db")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(cfg.DataDir, "state")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ledger directory was never created")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
	if _, err := os.Stat(cfg.Events.Journal); err != nil {
		t.Fatalf("expected event journal to be created: %v", err)
	}
	if _, err := os.Stat(cfg.Indexer.DSN); err != nil {
		t.Fatalf("expected position index to be created: %v", err)
	}
}

func TestRPCConfigConvertsSeconds(t *testing.T) {
	got := rpcConfig(config.RPC{BearerToken: "t", JWTSecret: "k", RateLimitPerSec: 2, RateLimitBurst: 3, ReadTimeout: 7, IdleTimeout: 30})
	if got.BearerToken != "t" || got.JWTSecret != "k" || got.RateLimitBurst != 3 || got.ReadTimeout != 7*time.Second || got.IdleTimeout != 30*time.Second {
		t.Fatalf("unexpected rpc config %+v", got)
	}
	if got.WriteTimeout != 0 {
		t.Fatalf("unset timeouts must stay zero so the server applies its defaults")
	}
}

func TestTelemetryConfigFromFile(t *testing.T) {
	cfg := &config.Config{
		Log:       config.Log{Env: "prod"},
		Telemetry: config.Telemetry{ServiceName: "lendd", Headers: "authorization=Bearer x", Traces: true},
	}
	got := telemetryConfig(cfg)
	if !got.Enabled() || got.Metrics || got.Environment != "prod" || got.ServiceName != "lendd" {
		t.Fatalf("unexpected telemetry config %+v", got)
	}
	if got.Endpoint != telemetry.DefaultEndpoint {
		t.Fatalf("expected default endpoint, got %q", got.Endpoint)
	}
	if got.Headers["authorization"] != "Bearer x" {
		t.Fatalf("headers not parsed: %v", got.Headers)
	}
	if telemetryConfig(&config.Config{}).Enabled() {
		t.Fatalf("telemetry must stay off unless a signal is enabled")
	}
}
