package config

// RPC configures the JSON-RPC listener.
type RPC struct {
	Address string `toml:"address"`
	// BearerToken, when set, is required on lend_sendTransaction.
	BearerToken string `toml:"bearer_token"`
	// JWTSecret, when set, accepts HS256 tokens signed with it in place of
	// the static bearer token.
	JWTSecret         string  `toml:"jwt_secret"`
	RateLimitPerSec   float64 `toml:"rate_limit_per_sec"`
	RateLimitBurst    int     `toml:"rate_limit_burst"`
	ReadHeaderTimeout int     `toml:"read_header_timeout"` // seconds
	ReadTimeout       int     `toml:"read_timeout"`        // seconds
	WriteTimeout      int     `toml:"write_timeout"`       // seconds
	IdleTimeout       int     `toml:"idle_timeout"`        // seconds
}

// Log controls structured logging output.
type Log struct {
	Level      string `toml:"level"`
	Env        string `toml:"env"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Events controls the committed event journal.
type Events struct {
	// Journal is the LevelDB directory for the event journal. Empty disables
	// the journal.
	Journal string `toml:"journal"`
}

// Indexer configures the SQL projection of position lifecycles.
type Indexer struct {
	// Driver is "sqlite" or "postgres". Empty disables the indexer.
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Telemetry configures OpenTelemetry export. Nothing is exported unless
// traces or metrics is switched on.
type Telemetry struct {
	ServiceName string `toml:"service_name"`
	// Endpoint is the host:port of an OTLP/HTTP collector.
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
	// Headers uses the OTEL_EXPORTER_OTLP_HEADERS form, "k=v,k2=v2".
	Headers string `toml:"headers"`
	Traces  bool   `toml:"traces"`
	Metrics bool   `toml:"metrics"`
}
