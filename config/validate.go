package config

import (
	"fmt"
	"strings"
)

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.RPC.RateLimitPerSec < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if c.RPC.ReadTimeout < 0 || c.RPC.WriteTimeout < 0 || c.RPC.IdleTimeout < 0 || c.RPC.ReadHeaderTimeout < 0 {
		return fmt.Errorf("rpc: timeouts must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Indexer.Driver)) {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: dsn must be set for driver %q", c.Indexer.Driver)
		}
	default:
		return fmt.Errorf("indexer: unknown driver %q", c.Indexer.Driver)
	}
	if c.Telemetry.Traces || c.Telemetry.Metrics {
		endpoint := strings.TrimSpace(c.Telemetry.Endpoint)
		if strings.Contains(endpoint, "://") || strings.Contains(endpoint, "/") {
			return fmt.Errorf("telemetry: endpoint %q must be host:port", c.Telemetry.Endpoint)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	if strings.TrimSpace(c.GenesisFile) != "" {
		return nil
	}
	if _, err := c.Genesis.Resolve(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	return nil
}
