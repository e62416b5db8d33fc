package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig         `yaml:"server"`
	Database DatabaseConfig      `yaml:"database"`
	Signer  SignerConfig         `yaml:"signer"`
	Indexer IndexerConfig        `yaml:"indexer"`
	Chains  map[string]ChainConfig `yaml:"chains"`
	NATS    NATSConfig           `yaml:"nats"`
	CORS    CORSConfig           `yaml:"cors"`
	Admin   AdminConfig          `yaml:"admin"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig is the Postgres connection configuration.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// SignerConfig controls how the allocator's secp256k1 key is loaded.
type SignerConfig struct {
	// PrivateKeyEnv names the environment variable holding the hex-encoded
	// private key. Defaults to PRIVATE_KEY.
	PrivateKeyEnv string `yaml:"privateKeyEnv"`
	// Address is the expected allocator address; it must match the
	// key-derived address unless SkipVerification is set.
	Address          string `yaml:"address"`
	SkipVerification bool   `yaml:"skipVerification"`
	// KMS, when enabled, delegates signing to a remote key-management
	// service instead of holding the key in process memory.
	KMS KMSConfig `yaml:"kms"`
}

// KMSConfig is the optional remote-signing backend.
type KMSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ServiceURL string `yaml:"serviceUrl"`
	AuthToken  string `yaml:"authToken"`
	KeyAlias   string `yaml:"keyAlias"`
	Timeout    int    `yaml:"timeout"`
}

// IndexerConfig is the upstream indexer this service reads balances,
// account deltas, settled claims, and on-chain registrations from.
type IndexerConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Timeout int    `yaml:"timeout"` // seconds, default 5
}

// ChainConfig is the per-chain notarization configuration, keyed by a
// short network name in YAML (e.g. "optimism") and indexed by ChainID at
// runtime.
type ChainConfig struct {
	ChainID               uint64 `yaml:"chainId"`
	Name                  string `yaml:"name"`
	AllocatorID           string `yaml:"allocatorId"` // decimal uint256 string
	FinalizationLagBlocks int    `yaml:"finalizationLagBlocks"`
	VerifyingContract     string `yaml:"verifyingContract"` // loaded only; digests always use hashbuilder.DefaultVerifyingContract
	Enabled               bool   `yaml:"enabled"`
}

// NATSConfig is the event-publishing backend for allocation lifecycle
// notifications. Optional: if URL is empty, publishing is a no-op.
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	Subject         string `yaml:"subject"` // base subject, e.g. "allocator.events"
}

// CORSConfig controls the HTTP adapter's CORS middleware.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// AdminConfig gates the administrative endpoints (chains-cache refresh,
// TOTP-protected operator login).
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"`
}

var AppConfig *Config

// LoadConfig reads the YAML configuration file (with no path given,
// config.local.yaml when present, else config.yaml) and layers
// environment-variable overrides on top.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)

	fmt.Printf("✅ [%s] loaded configuration from %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)
	fmt.Printf("📋 [Config] %d chain(s) configured\n", len(config.Chains))
	for name, ch := range config.Chains {
		fmt.Printf("   [%s] chainId=%d allocatorId=%s enabled=%v\n", name, ch.ChainID, ch.AllocatorID, ch.Enabled)
	}
	if len(config.Admin.AllowedIPs) > 0 {
		fmt.Printf("📋 [Config] admin IP whitelist: %d entries\n", len(config.Admin.AllowedIPs))
	} else {
		fmt.Printf("📋 [Config] admin IP whitelist: not configured (localhost-only)\n")
	}

	AppConfig = &config
	return nil
}

// overrideFromEnv layers environment variables over the file-loaded
// configuration, following §6's required-env-var list.
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if config.Signer.PrivateKeyEnv == "" {
		config.Signer.PrivateKeyEnv = "PRIVATE_KEY"
	}
	if addr := os.Getenv("ALLOCATOR_ADDRESS"); addr != "" {
		config.Signer.Address = addr
	}
	if skip := os.Getenv("SKIP_SIGNING_VERIFICATION"); skip != "" {
		config.Signer.SkipVerification = skip == "true"
	}

	if base := os.Getenv("INDEXER_BASE_URL"); base != "" {
		config.Indexer.BaseURL = base
	}
	if config.Indexer.Timeout <= 0 {
		config.Indexer.Timeout = 5
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}

	if kmsEnabled := os.Getenv("KMS_ENABLED"); kmsEnabled != "" {
		config.Signer.KMS.Enabled = kmsEnabled == "true"
	}
	if kmsURL := os.Getenv("KMS_SERVICE_URL"); kmsURL != "" {
		config.Signer.KMS.ServiceURL = kmsURL
	}
	if kmsToken := os.Getenv("KMS_AUTH_TOKEN"); kmsToken != "" {
		config.Signer.KMS.AuthToken = kmsToken
	}

	// Per-chain allocatorId / verifying-contract overrides, e.g.
	// OPTIMISM_ALLOCATOR_ID, OPTIMISM_VERIFYING_CONTRACT.
	for name, chain := range config.Chains {
		envPrefix := strings.ToUpper(name)
		if id := os.Getenv(envPrefix + "_ALLOCATOR_ID"); id != "" {
			chain.AllocatorID = id
		}
		if vc := os.Getenv(envPrefix + "_VERIFYING_CONTRACT"); vc != "" {
			chain.VerifyingContract = vc
		}
		config.Chains[name] = chain
	}

	if adminIPs := os.Getenv("ADMIN_ALLOWED_IPS"); adminIPs != "" {
		config.Admin.AllowedIPs = strings.Split(adminIPs, ",")
	}
}

// ChainByID returns the chain configuration for a given chain ID, if any
// chain entry in the YAML map carries it.
func (c *Config) ChainByID(chainID uint64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return ChainConfig{}, false
}
