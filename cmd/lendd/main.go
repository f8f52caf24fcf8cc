package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"p2plend/config"
	"p2plend/core"
	"p2plend/crypto"
	"p2plend/observability/logging"
	telemetry "p2plend/observability/otel"
	"p2plend/rpc"
	"p2plend/storage"
	"p2plend/storage/eventlog"
	"p2plend/storage/positionindex"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON or YAML file (overrides genesis_file and the inline [genesis] table)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if path := strings.TrimSpace(*genesisFlag); path != "" {
		cfg.GenesisFile = path
	}

	logger, closer := logging.Setup("lendd", cfg.Log.Env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("lendd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// run opens the ledger and serves RPC until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tcfg := telemetryConfig(cfg)
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()
	if tcfg.Enabled() {
		logger.Info("telemetry enabled",
			slog.String("endpoint", tcfg.Endpoint),
			slog.Bool("traces", tcfg.Traces),
			slog.Bool("metrics", tcfg.Metrics),
			logging.MaskField("headers", cfg.Telemetry.Headers))
	}

	spec, err := cfg.GenesisSpec()
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	gen, err := spec.Resolve()
	if err != nil {
		return fmt.Errorf("resolve genesis: %w", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, gen)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	node.SetLogger(logger)

	var (
		sinks   core.Sinks
		journal rpc.EventJournal
		index   rpc.PositionIndex
	)
	if path := strings.TrimSpace(cfg.Events.Journal); path != "" {
		j, err := eventlog.Open(path)
		if err != nil {
			return err
		}
		defer j.Close()
		sinks = append(sinks, j)
		journal = j
	}
	if driver := strings.TrimSpace(cfg.Indexer.Driver); driver != "" {
		idx, err := positionindex.Open(driver, cfg.Indexer.DSN)
		if err != nil {
			return err
		}
		defer idx.Close()
		sinks = append(sinks, idx)
		index = idx
		logger.Info("position indexer enabled", slog.String("driver", driver), logging.MaskField("dsn", cfg.Indexer.DSN))
	}
	if len(sinks) > 0 {
		node.SetEventSink(sinks)
	}

	if path := strings.TrimSpace(cfg.KeystorePath); path != "" {
		if operator, err := crypto.KeystoreAddress(path); err == nil {
			logger.Info("operator keystore", slog.String("address", operator.Hex()))
		}
	}

	status := node.Status()
	logger.Info("ledger ready",
		slog.Uint64("height", status.Height),
		slog.String("root", status.StateRoot.Hex()),
		slog.String("protocol", status.Protocol.Hex()),
	)

	logger.Info("rpc submission auth",
		logging.MaskField("bearer_token", cfg.RPC.BearerToken),
		logging.MaskField("jwt_secret", cfg.RPC.JWTSecret))
	server := rpc.NewServer(node, journal, rpcConfig(cfg.RPC))
	server.SetLogger(logger)
	server.SetPositionIndex(index)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPC.Address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func rpcConfig(c config.RPC) rpc.ServerConfig {
	return rpc.ServerConfig{
		BearerToken:       c.BearerToken,
		JWTSecret:         c.JWTSecret,
		RateLimitPerSec:   c.RateLimitPerSec,
		RateLimitBurst:    c.RateLimitBurst,
		ReadHeaderTimeout: time.Duration(c.ReadHeaderTimeout) * time.Second,
		ReadTimeout:       time.Duration(c.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(c.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(c.IdleTimeout) * time.Second,
	}
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	t := cfg.Telemetry
	out := telemetry.Config{
		ServiceName: t.ServiceName,
		Environment: cfg.Log.Env,
		Endpoint:    strings.TrimSpace(t.Endpoint),
		Insecure:    t.Insecure,
		Traces:      t.Traces,
		Metrics:     t.Metrics,
	}
	if headers := telemetry.ParseHeaders(t.Headers); len(headers) > 0 {
		out.Headers = headers
	}
	if out.Endpoint == "" {
		out.Endpoint = telemetry.DefaultEndpoint
	}
	return out
}
