package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"p2plend/core/genesis"
	"p2plend/crypto"
)

const (
	// EnvRPCToken overrides rpc.bearer_token.
	EnvRPCToken = "LEND_RPC_TOKEN"
	// EnvLogEnv overrides log.env.
	EnvLogEnv = "LEND_ENV"
	// EnvRPCJWTSecret overrides rpc.jwt_secret.
	EnvRPCJWTSecret = "LEND_RPC_JWT_SECRET"
	// EnvIndexerDSN overrides indexer.dsn.
	EnvIndexerDSN = "LEND_INDEXER_DSN"
	// EnvOTLPEndpoint overrides telemetry.endpoint.
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	// EnvOTLPHeaders overrides telemetry.headers.
	EnvOTLPHeaders = "OTEL_EXPORTER_OTLP_HEADERS"
	// EnvOTLPInsecure overrides telemetry.insecure when it parses as a bool.
	EnvOTLPInsecure = "OTEL_EXPORTER_OTLP_INSECURE"
)

type Config struct {
	DataDir      string       `toml:"data_dir"`
	KeystorePath string       `toml:"keystore_path"`
	GenesisFile  string       `toml:"genesis_file"`
	RPC          RPC          `toml:"rpc"`
	Log          Log          `toml:"log"`
	Events       Events       `toml:"events"`
	Indexer      Indexer      `toml:"indexer"`
	Telemetry    Telemetry    `toml:"telemetry"`
	Genesis      genesis.Spec `toml:"genesis"`
}

// Load loads the configuration from the given path, creating a development
// default when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// GenesisSpec returns the genesis file when configured, otherwise the inline
// [genesis] table.
func (c *Config) GenesisSpec() (*genesis.Spec, error) {
	if strings.TrimSpace(c.GenesisFile) != "" {
		return genesis.LoadSpec(c.GenesisFile)
	}
	spec := c.Genesis
	return &spec, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lend-data"
	}
	if strings.TrimSpace(cfg.RPC.Address) == "" {
		cfg.RPC.Address = ":8545"
	}
	if cfg.RPC.RateLimitPerSec == 0 {
		cfg.RPC.RateLimitPerSec = 20
	}
	if cfg.RPC.RateLimitBurst == 0 {
		cfg.RPC.RateLimitBurst = 40
	}
	if cfg.RPC.ReadHeaderTimeout == 0 {
		cfg.RPC.ReadHeaderTimeout = 5
	}
	if cfg.RPC.ReadTimeout == 0 {
		cfg.RPC.ReadTimeout = 15
	}
	if cfg.RPC.WriteTimeout == 0 {
		cfg.RPC.WriteTimeout = 15
	}
	if cfg.RPC.IdleTimeout == 0 {
		cfg.RPC.IdleTimeout = 60
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "lendd"
	}
}

func applyEnv(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv(EnvRPCToken)); token != "" {
		cfg.RPC.BearerToken = token
	}
	if env := strings.TrimSpace(os.Getenv(EnvLogEnv)); env != "" {
		cfg.Log.Env = env
	}
	if secret := strings.TrimSpace(os.Getenv(EnvRPCJWTSecret)); secret != "" {
		cfg.RPC.JWTSecret = secret
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvIndexerDSN)); dsn != "" {
		cfg.Indexer.DSN = dsn
	}
	if endpoint := strings.TrimSpace(os.Getenv(EnvOTLPEndpoint)); endpoint != "" {
		cfg.Telemetry.Endpoint = endpoint
	}
	if headers := strings.TrimSpace(os.Getenv(EnvOTLPHeaders)); headers != "" {
		cfg.Telemetry.Headers = headers
	}
	if value := strings.TrimSpace(os.Getenv(EnvOTLPInsecure)); value != "" {
		if insecure, err := strconv.ParseBool(value); err == nil {
			cfg.Telemetry.Insecure = insecure
		}
	}
}

// createDefault writes a single-operator development configuration. The
// generated key owns the protocol, acts as its wrangler and holds the whole
// supply of the protocol token.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	operator := key.Address().Hex()
	cfg := &Config{
		DataDir:      "./lend-data",
		KeystorePath: keystorePath,
		RPC:          RPC{Address: ":8545"},
		Log:          Log{Level: "info"},
		Genesis: genesis.Spec{
			Protocol:          DefaultProtocolAddress(),
			Owner:             operator,
			ProtocolToken:     defaultFeeToken,
			PositionThreshold: 10,
			Wranglers:         []string{operator},
			Tokens: []genesis.TokenSpec{{
				Address:  defaultFeeToken,
				Symbol:   "LND",
				Name:     "Lend Protocol Token",
				Decimals: 18,
				Alloc:    map[string]string{operator: "1000000000000000000000000"},
			}},
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultFeeToken = "0x000000000000000000000000000000000000f001"

// DefaultProtocolAddress is the address the development genesis binds
// kernel and position hashes to.
func DefaultProtocolAddress() string {
	return ethcrypto.Keccak256Hash([]byte("p2plend/protocol")).Hex()[:42]
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
