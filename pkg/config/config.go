// pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cmatc13/orderless/pkg/errors"
)

// Config holds all configuration for the node
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Node    NodeConfig    `mapstructure:"node"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Faucet  FaucetConfig  `mapstructure:"faucet"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig holds HTTP server configuration
type APIConfig struct {
	Port               string        `mapstructure:"port"`
	Version            string        `mapstructure:"version"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RateLimit          int           `mapstructure:"rate_limit"`
}

// NodeConfig holds the chain and submission pipeline settings
type NodeConfig struct {
	ChainID uint8 `mapstructure:"chain_id"`
	// ExpirationWindow is the furthest into the future an orderless
	// transaction may set its expiration timestamp.
	ExpirationWindow time.Duration `mapstructure:"expiration_window"`
	// NonceRetention is kept on top of a transaction's expiration before its
	// nonce record may be evicted.
	NonceRetention time.Duration `mapstructure:"nonce_retention"`
	BlockInterval  time.Duration `mapstructure:"block_interval"`
	BlockSize      int           `mapstructure:"block_size"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	QueueSize      int           `mapstructure:"queue_size"`
	Workers        int           `mapstructure:"workers"`
	AccountTxLimit int           `mapstructure:"account_tx_limit"`
}

// StorageConfig selects and tunes the state backend
type StorageConfig struct {
	// Backend is one of memory, redis or badger.
	Backend        string `mapstructure:"backend"`
	BadgerDir      string `mapstructure:"badger_dir"`
	BadgerInMemory bool   `mapstructure:"badger_in_memory"`
	ConflictRetry  int    `mapstructure:"conflict_retry"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Brokers          string `mapstructure:"brokers"`
	ConsumerGroup    string `mapstructure:"consumer_group"`
	TransactionTopic string `mapstructure:"transaction_topic"`
	ConfirmedTopic   string `mapstructure:"confirmed_topic"`
	FailedTopic      string `mapstructure:"failed_topic"`
}

// FaucetConfig holds test-network funding configuration
type FaucetConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	MaxAmount uint64 `mapstructure:"max_amount"`
	RateLimit int    `mapstructure:"rate_limit"`
}

// AuthConfig holds authentication-related configuration
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Environment string `mapstructure:"environment"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// ConfigFile is an optional yaml, toml or json file.
	ConfigFile string
	// EnvFile is loaded into the process environment when present.
	EnvFile string
	// EnvPrefix scopes environment overrides, e.g. ORDERLESS_REDIS_ADDRESS.
	EnvPrefix string
	// Flags, when set, are bound by name on top of file and environment values.
	Flags *pflag.FlagSet
}

// DefaultLoadOptions returns the options used by the node binaries
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		EnvFile:   ".env",
		EnvPrefix: "ORDERLESS",
	}
}

// Load loads configuration from defaults, .env and the environment
func Load() (*Config, error) {
	return LoadWithOptions(DefaultLoadOptions())
}

// LoadWithOptions loads configuration with precedence flags > env > file > defaults
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, fmt.Sprintf("failed to load env file %s", opts.EnvFile))
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("failed to read config file %s", opts.ConfigFile))
		}
	}

	if opts.Flags != nil {
		if err := v.BindPFlags(opts.Flags); err != nil {
			return nil, errors.Wrap(err, "failed to bind flags")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// RegisterFlags declares the command-line overrides understood by LoadWithOptions
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("api.port", "8080", "HTTP listen port")
	fs.String("storage.backend", "memory", "State backend (memory, redis, badger)")
	fs.String("storage.badger_dir", "./data/badger", "Badger data directory")
	fs.String("redis.address", "localhost:6379", "Redis address")
	fs.Bool("kafka.enabled", false, "Use Kafka for the transaction queue")
	fs.String("kafka.brokers", "localhost:9092", "Kafka bootstrap servers")
	fs.String("log.level", "info", "Log level (debug, info, warn, error)")
	fs.String("log.format", "json", "Log format (json, text)")
	fs.Bool("faucet.enabled", true, "Serve the faucet endpoint")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", "8080")
	v.SetDefault("api.version", "v1")
	v.SetDefault("api.cors_allowed_origins", []string{"*"})
	v.SetDefault("api.request_timeout", 60*time.Second)
	v.SetDefault("api.rate_limit", 600)

	v.SetDefault("node.chain_id", 4)
	v.SetDefault("node.expiration_window", 60*time.Second)
	v.SetDefault("node.nonce_retention", 60*time.Second)
	v.SetDefault("node.block_interval", 250*time.Millisecond)
	v.SetDefault("node.block_size", 100)
	v.SetDefault("node.wait_timeout", 30*time.Second)
	v.SetDefault("node.poll_interval", 100*time.Millisecond)
	v.SetDefault("node.queue_size", 1024)
	v.SetDefault("node.workers", 4)
	v.SetDefault("node.account_tx_limit", 100)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.badger_dir", "./data/badger")
	v.SetDefault("storage.badger_in_memory", false)
	v.SetDefault("storage.conflict_retry", 16)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "orderless:")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.consumer_group", "orderless-processor")
	v.SetDefault("kafka.transaction_topic", "transactions")
	v.SetDefault("kafka.confirmed_topic", "confirmed_transactions")
	v.SetDefault("kafka.failed_topic", "failed_transactions")

	v.SetDefault("faucet.enabled", true)
	v.SetDefault("faucet.max_amount", uint64(100_000_000_000))
	v.SetDefault("faucet.rate_limit", 60)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "development")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "orderless")
}

// Validate checks the configuration for values the node cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "redis", "badger":
	default:
		return errors.StorageErrorf(errors.StorageErrUnsupportedBackend, "unsupported storage backend %q", c.Storage.Backend)
	}
	if c.Node.ExpirationWindow <= 0 {
		return errors.E("node.expiration_window must be positive", "config")
	}
	if c.Node.BlockSize <= 0 {
		return errors.E("node.block_size must be positive", "config")
	}
	if c.Node.PollInterval <= 0 || c.Node.BlockInterval <= 0 {
		return errors.E("node intervals must be positive", "config")
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		return errors.E("auth.jwt_secret must be at least 32 bytes when auth is enabled", "config")
	}
	if c.Storage.Backend == "badger" && !c.Storage.BadgerInMemory && c.Storage.BadgerDir == "" {
		return errors.E("storage.badger_dir is required for the badger backend", "config")
	}
	return nil
}
