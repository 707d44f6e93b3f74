package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables that override file settings.
const EnvPrefix = "LIQUID_STAKE_"

// Config represents the application configuration
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	GRPC           GRPCConfig           `yaml:"grpc"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Kafka          KafkaConfig          `yaml:"kafka"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Staking        StakingConfig        `yaml:"staking"`
	Ethereum       EthereumConfig       `yaml:"ethereum"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Auth           AuthConfig           `yaml:"auth"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Logging        LoggingConfig        `yaml:"logging"`
	Shutdown       ShutdownConfig       `yaml:"shutdown"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host         string        `yaml:"host" default:"0.0.0.0"`
	Port         int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" default:"60s"`
}

// GRPCConfig contains gRPC health server settings
type GRPCConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
	Port    int  `yaml:"port" default:"9091" validate:"min=1,max=65535"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	// Driver selects the ledger store: postgres or memory.
	Driver   string `yaml:"driver" default:"postgres" validate:"oneof=postgres memory"`
	Host     string `yaml:"host" default:"localhost" validate:"required_if=Driver postgres"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"liquid_stake" validate:"required_if=Driver postgres"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// RedisConfig contains settings of the distributed unit lock
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url" default:"redis://localhost:6379/0" validate:"required_if=Enabled true"`
	PoolSize    int           `yaml:"pool_size" default:"10"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
	LockKey     string        `yaml:"lock_key" default:"liquid-stake:unit"`
	LockTTL     time.Duration `yaml:"lock_ttl" default:"30s"`
}

// KafkaConfig contains event transport settings
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
	GroupID      string   `yaml:"group_id" default:"liquid-stake"`
	DepositTopic string   `yaml:"deposit_topic" default:"base-transfers"`
	ReceiptTopic string   `yaml:"receipt_topic" default:"wrapped-receipts"`
	Partitions   int32    `yaml:"partitions" default:"1"`
	Replication  int16    `yaml:"replication" default:"1"`
}

// LedgerConfig names the ledger account and its symbols
type LedgerConfig struct {
	Self       string `yaml:"self" default:"liquidstake" validate:"required"`
	BaseOrigin string `yaml:"base_origin" default:"base" validate:"required"`
	// Symbols use the "<precision>,<CODE>" form.
	WrappedSymbol       string   `yaml:"wrapped_symbol" default:"4,WTK" validate:"required"`
	BaseSymbol          string   `yaml:"base_symbol" default:"4,BASE" validate:"required"`
	MaxSupply           string   `yaml:"max_supply" default:"100000000000.0000 WTK" validate:"required"`
	EnforceMaxSupply    bool     `yaml:"enforce_max_supply" default:"true"`
	EnforceTransferMemo bool     `yaml:"enforce_transfer_memo" default:"true"`
	Accounts            []string `yaml:"accounts"`
}

// StakingConfig selects the external staking backend
type StakingConfig struct {
	Backend string `yaml:"backend" default:"sim" validate:"oneof=sim evm"`
	Account string `yaml:"account" default:"staking" validate:"required"`
	// FeeBps is the fee the simulated service keeps, in basis points.
	FeeBps    int64 `yaml:"fee_bps" default:"100" validate:"min=0,max=10000"`
	SeedUnits int64 `yaml:"seed_units"`
}

// EthereumConfig contains Ethereum client settings of the evm staking backend
type EthereumConfig struct {
	RPCURL             string        `yaml:"rpc_url"`
	ChainID            int64         `yaml:"chain_id"`
	StakingContract    string        `yaml:"staking_contract"`
	TokenContract      string        `yaml:"token_contract"`
	TokenDecimals      uint8         `yaml:"token_decimals" default:"18"`
	PrivateKey         string        `yaml:"private_key"`
	GasLimit           uint64        `yaml:"gas_limit" default:"300000"`
	ConfirmationBlocks int           `yaml:"confirmation_blocks" default:"1"`
	PollingInterval    time.Duration `yaml:"polling_interval" default:"2s"`
	ReceiptTimeout     time.Duration `yaml:"receipt_timeout" default:"2m"`
}

// PipelineConfig contains saga recovery settings
type PipelineConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" default:"1m" validate:"gt=0"`
	StuckAfter    time.Duration `yaml:"stuck_after" default:"5m" validate:"gt=0"`
}

// ReconciliationConfig contains settings for supply reconciliation
type ReconciliationConfig struct {
	InitialTimeout time.Duration `yaml:"initial_timeout" default:"2m"`
	Interval       time.Duration `yaml:"interval" default:"5m" validate:"gt=0"`
}

// AuthConfig holds API authentication settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer" default:"liquid-stake"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// ShutdownConfig contains graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// Default returns the configuration used when no file overrides it.
func Default() (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to set defaults: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document on top of the defaults, applies environment
// overrides and validates the result.
func Parse(raw []byte) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnv(cfg, os.LookupEnv)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := map[string]*string{
		"DATABASE_HOST":        &cfg.Database.Host,
		"DATABASE_USER":        &cfg.Database.User,
		"DATABASE_PASSWORD":    &cfg.Database.Password,
		"REDIS_URL":            &cfg.Redis.URL,
		"AUTH_JWT_SECRET":      &cfg.Auth.JWTSecret,
		"ETHEREUM_RPC_URL":     &cfg.Ethereum.RPCURL,
		"ETHEREUM_PRIVATE_KEY": &cfg.Ethereum.PrivateKey,
		"LOGGING_LEVEL":        &cfg.Logging.Level,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	if v, ok := lookup(EnvPrefix + "KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
}

var validate = func() func(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	return func(cfg *Config) error {
		if err := v.Struct(cfg); err != nil {
			return err
		}
		if cfg.Staking.Backend == "evm" {
			if cfg.Ethereum.RPCURL == "" {
				return errors.New("ethereum.rpc_url is required for the evm staking backend")
			}
			if cfg.Ethereum.StakingContract == "" || cfg.Ethereum.TokenContract == "" {
				return errors.New("ethereum.staking_contract and ethereum.token_contract are required for the evm staking backend")
			}
			if cfg.Ethereum.PrivateKey == "" {
				return errors.New("ethereum.private_key is required for the evm staking backend")
			}
		}
		return nil
	}
}()

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
