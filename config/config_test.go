package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"p2plend/crypto"
)

const sampleConfig = `
data_dir = "./data"

[rpc]
address = "127.0.0.1:9000"
bearer_token = "from-file"
rate_limit_per_sec = 5.5

[log]
level = "debug"
file = "node.log"

[events]
journal = "./data/events"

[indexer]
driver = "sqlite"
dsn = "file:positions.db"

[genesis]
protocol = "0x00000000000000000000000000000000000000aa"
owner = "0x0000000000000000000000000000000000000001"
protocol_token = "0x00000000000000000000000000000000000000f0"
position_threshold = 3
wranglers = ["0x0000000000000000000000000000000000000004"]

[[genesis.tokens]]
address = "0x00000000000000000000000000000000000000f0"
symbol = "LND"
name = "Lend"
decimals = 18

[genesis.tokens.alloc]
"0x0000000000000000000000000000000000000001" = "500"

[[genesis.tokens]]
address = "0x00000000000000000000000000000000000000c0"
symbol = "COL"
name = "Collateral"
supported = true
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesSections(t *testing.T) {
	t.Setenv(EnvRPCToken, "")
	t.Setenv(EnvLogEnv, "")
	t.Setenv(EnvIndexerDSN, "")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "127.0.0.1:9000", cfg.RPC.Address)
	require.Equal(t, "from-file", cfg.RPC.BearerToken)
	require.Equal(t, 5.5, cfg.RPC.RateLimitPerSec)
	require.Equal(t, 40, cfg.RPC.RateLimitBurst)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "./data/events", cfg.Events.Journal)
	require.Equal(t, "sqlite", cfg.Indexer.Driver)

	spec, err := cfg.GenesisSpec()
	require.NoError(t, err)
	g, err := spec.Resolve()
	require.NoError(t, err)
	require.Equal(t, uint64(3), g.PositionThreshold)
	require.Len(t, g.Tokens, 2)
	require.True(t, g.Tokens[1].Supported)
	require.Equal(t, uint64(500), g.Tokens[0].Alloc[0].Amount.Uint64())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvRPCToken, "from-env")
	t.Setenv(EnvLogEnv, "staging")
	t.Setenv(EnvRPCJWTSecret, "s3cret")
	t.Setenv(EnvIndexerDSN, "postgres://lend@db/lend")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.RPC.BearerToken)
	require.Equal(t, "staging", cfg.Log.Env)
	require.Equal(t, "s3cret", cfg.RPC.JWTSecret)
	require.Equal(t, "postgres://lend@db/lend", cfg.Indexer.DSN)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":     sampleConfig + "\nunexpected = true\n",
		"bad level":       strings.Replace(sampleConfig, `level = "debug"`, `level = "loud"`, 1),
		"bad genesis":     strings.Replace(sampleConfig, `owner = "0x0000000000000000000000000000000000000001"`, `owner = "nope"`, 1),
		"negative limits": strings.Replace(sampleConfig, "rate_limit_per_sec = 5.5", "rate_limit_per_sec = -1.0", 1),
		"bad driver":      strings.Replace(sampleConfig, `driver = "sqlite"`, `driver = "mysql"`, 1),
		"missing dsn":     strings.Replace(sampleConfig, `dsn = "file:positions.db"`, `dsn = ""`, 1),
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, contents))
			require.Error(t, err)
		})
	}
}

const telemetrySection = `
[telemetry]
endpoint = "collector:4318"
headers = "authorization=Bearer abc"
traces = true
`

func TestLoadTelemetry(t *testing.T) {
	t.Setenv(EnvOTLPEndpoint, "")
	t.Setenv(EnvOTLPHeaders, "")
	t.Setenv(EnvOTLPInsecure, "")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Equal(t, "lendd", cfg.Telemetry.ServiceName)
	require.False(t, cfg.Telemetry.Traces || cfg.Telemetry.Metrics)

	cfg, err = Load(writeConfig(t, sampleConfig+telemetrySection))
	require.NoError(t, err)
	require.Equal(t, "collector:4318", cfg.Telemetry.Endpoint)
	require.Equal(t, "authorization=Bearer abc", cfg.Telemetry.Headers)
	require.True(t, cfg.Telemetry.Traces)
	require.False(t, cfg.Telemetry.Metrics)
	require.False(t, cfg.Telemetry.Insecure)

	t.Setenv(EnvOTLPEndpoint, "otel.internal:4318")
	t.Setenv(EnvOTLPInsecure, "true")
	cfg, err = Load(writeConfig(t, sampleConfig+telemetrySection))
	require.NoError(t, err)
	require.Equal(t, "otel.internal:4318", cfg.Telemetry.Endpoint)
	require.True(t, cfg.Telemetry.Insecure)

	t.Setenv(EnvOTLPEndpoint, "http://otel.internal:4318")
	_, err = Load(writeConfig(t, sampleConfig+telemetrySection))
	require.ErrorContains(t, err, "telemetry")
}

func TestLoadCreatesDefault(t *testing.T) {
	t.Setenv(EnvRPCToken, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.FileExists(t, cfg.KeystorePath)

	operator, err := crypto.KeystoreAddress(cfg.KeystorePath)
	require.NoError(t, err)
	g, err := cfg.Genesis.Resolve()
	require.NoError(t, err)
	require.Equal(t, operator, g.Owner)
	require.Equal(t, []common.Address{operator}, g.Wranglers)
	require.Equal(t, common.HexToAddress(DefaultProtocolAddress()), g.Protocol)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Genesis.Owner, reloaded.Genesis.Owner)
}
