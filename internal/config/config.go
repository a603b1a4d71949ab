package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Fees     FeesConfig     `yaml:"fees"`
	Revenue  RevenueConfig  `yaml:"revenue"`
	Batch    BatchConfig    `yaml:"batch"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Escrow   EscrowConfig   `yaml:"escrow"`
	Evidence EvidenceConfig `yaml:"evidence"`
	Lock     LockConfig     `yaml:"lock"`
	Events   EventsConfig   `yaml:"events"`
	OTel     OTelConfig     `yaml:"otel"`
}

type ServerConfig struct {
	Host      string `yaml:"host" env:"ESCROWFUND_SERVER_HOST"`
	Port      int    `yaml:"port" env:"ESCROWFUND_SERVER_PORT"`
	GRPCPort  int    `yaml:"grpc_port" env:"ESCROWFUND_GRPC_PORT"`
	Transport string `yaml:"transport" env:"ESCROWFUND_TRANSPORT"`
	// SweepInterval is how often deadlines are swept in HTTP mode. Zero disables the sweeper.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"ESCROWFUND_SWEEP_INTERVAL"`
}

type DBConfig struct {
	Path string `yaml:"path" env:"ESCROWFUND_DB_PATH"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"ESCROWFUND_LOG_LEVEL"`
	Path  string `yaml:"path" env:"ESCROWFUND_LOG_PATH"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled" env:"ESCROWFUND_AUTH_ENABLED"`
}

type LedgerConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout" env:"ESCROWFUND_LEDGER_CALL_TIMEOUT"`
	MaxAttempts    uint          `yaml:"max_attempts" env:"ESCROWFUND_LEDGER_MAX_ATTEMPTS"`
	BackoffInitial time.Duration `yaml:"backoff_initial" env:"ESCROWFUND_LEDGER_BACKOFF_INITIAL"`
	BackoffMax     time.Duration `yaml:"backoff_max" env:"ESCROWFUND_LEDGER_BACKOFF_MAX"`
	FaucetAmount   float64       `yaml:"faucet_amount" env:"ESCROWFUND_LEDGER_FAUCET_AMOUNT"`
}

type FeesConfig struct {
	Stage              string  `yaml:"stage" env:"ESCROWFUND_FEES_STAGE"`
	EarlyRate          float64 `yaml:"early_rate" env:"ESCROWFUND_FEES_EARLY_RATE"`
	GrowthRate         float64 `yaml:"growth_rate" env:"ESCROWFUND_FEES_GROWTH_RATE"`
	PlatformTokenShare float64 `yaml:"platform_token_share" env:"ESCROWFUND_FEES_PLATFORM_TOKEN_SHARE"`
}

type RevenueConfig struct {
	Platform float64 `yaml:"platform" env:"ESCROWFUND_REVENUE_PLATFORM"`
	Creator  float64 `yaml:"creator" env:"ESCROWFUND_REVENUE_CREATOR"`
	Investor float64 `yaml:"investor" env:"ESCROWFUND_REVENUE_INVESTOR"`
}

type BatchConfig struct {
	MaxOperations int `yaml:"max_operations" env:"ESCROWFUND_BATCH_MAX_OPERATIONS"`
}

type WalletConfig struct {
	// MasterSeed is hex encoded; identities are derived from it.
	MasterSeed     string  `yaml:"master_seed" env:"ESCROWFUND_WALLET_MASTER_SEED"`
	ProjectFunding float64 `yaml:"project_funding" env:"ESCROWFUND_WALLET_PROJECT_FUNDING"`
}

type EscrowConfig struct {
	// SealKey is the hex encoded key sealing stored fulfillments.
	SealKey     string        `yaml:"seal_key" env:"ESCROWFUND_ESCROW_SEAL_KEY"`
	Fee         float64       `yaml:"fee" env:"ESCROWFUND_ESCROW_FEE"`
	DefaultHold time.Duration `yaml:"default_hold" env:"ESCROWFUND_ESCROW_DEFAULT_HOLD"`
}

type EvidenceConfig struct {
	RepositoryHosts   []string          `yaml:"repository_hosts" env:"ESCROWFUND_EVIDENCE_REPOSITORY_HOSTS" envSeparator:","`
	ApprovalsRequired int               `yaml:"approvals_required" env:"ESCROWFUND_EVIDENCE_APPROVALS_REQUIRED"`
	// Attestors maps attestor names to hex ed25519 public keys.
	Attestors map[string]string `yaml:"attestors" env:"ESCROWFUND_EVIDENCE_ATTESTORS" envSeparator:"," envKeyValSeparator:"="`
}

type LockConfig struct {
	Backend  string        `yaml:"backend" env:"ESCROWFUND_LOCK_BACKEND"`
	RedisURL string        `yaml:"redis_url" env:"ESCROWFUND_LOCK_REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" env:"ESCROWFUND_LOCK_TTL"`
	Retry    time.Duration `yaml:"retry" env:"ESCROWFUND_LOCK_RETRY"`
}

type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers" env:"ESCROWFUND_EVENTS_KAFKA_BROKERS" envSeparator:","`
	Topic        string   `yaml:"topic" env:"ESCROWFUND_EVENTS_TOPIC"`
}

type OTelConfig struct {
	Endpoint string `yaml:"endpoint" env:"ESCROWFUND_OTEL_ENDPOINT"`
}

const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"

	LockLocal = "local"
	LockRedis = "redis"
)

// Default returns the configuration used before the file and environment are applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			GRPCPort:  9090,
			Transport: TransportHTTP,

			SweepInterval: time.Minute,
		},
		DB: DBConfig{
			Path: "escrowfund.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		Ledger: LedgerConfig{
			CallTimeout:    10 * time.Second,
			MaxAttempts:    4,
			BackoffInitial: 200 * time.Millisecond,
			BackoffMax:     5 * time.Second,
			FaucetAmount:   1000,
		},
		Fees: FeesConfig{
			Stage:              "early",
			EarlyRate:          0.05,
			GrowthRate:         0.03,
			PlatformTokenShare: 0.02,
		},
		Revenue: RevenueConfig{
			Platform: 0.05,
			Creator:  0.15,
			Investor: 0.80,
		},
		Batch: BatchConfig{
			MaxOperations: 10,
		},
		Wallet: WalletConfig{
			ProjectFunding: 20,
		},
		Escrow: EscrowConfig{
			Fee:         0.00001,
			DefaultHold: 90 * 24 * time.Hour,
		},
		Evidence: EvidenceConfig{
			ApprovalsRequired: 1,
		},
		Lock: LockConfig{
			Backend: LockLocal,
			TTL:     30 * time.Second,
			Retry:   50 * time.Millisecond,
		},
		Events: EventsConfig{
			Topic: "escrowfund.events",
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("ESCROWFUND_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	var errs []error

	switch c.Server.Transport {
	case TransportHTTP, TransportStdio:
	default:
		errs = append(errs, fmt.Errorf("server.transport must be %q or %q, got %q", TransportHTTP, TransportStdio, c.Server.Transport))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port out of range: %d", c.Server.GRPCPort))
	}
	if c.Server.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("server.sweep_interval must not be negative, got %s", c.Server.SweepInterval))
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		errs = append(errs, errors.New("db.path is required"))
	}

	switch c.Fees.Stage {
	case "early", "growth":
	default:
		errs = append(errs, fmt.Errorf("fees.stage must be early or growth, got %q", c.Fees.Stage))
	}
	for name, rate := range map[string]float64{
		"fees.early_rate":           c.Fees.EarlyRate,
		"fees.growth_rate":          c.Fees.GrowthRate,
		"fees.platform_token_share": c.Fees.PlatformTokenShare,
	} {
		if rate < 0 || rate >= 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0,1), got %v", name, rate))
		}
	}

	r := c.Revenue
	if r.Platform < 0 || r.Creator < 0 || r.Investor < 0 {
		errs = append(errs, errors.New("revenue shares must not be negative"))
	}
	if sum := r.Platform + r.Creator + r.Investor; sum < 0.999999 || sum > 1.000001 {
		errs = append(errs, fmt.Errorf("revenue shares must sum to 1, got %v", sum))
	}

	if c.Batch.MaxOperations < 1 {
		errs = append(errs, fmt.Errorf("batch.max_operations must be positive, got %d", c.Batch.MaxOperations))
	}
	if c.Ledger.MaxAttempts < 1 {
		errs = append(errs, errors.New("ledger.max_attempts must be at least 1"))
	}
	if c.Ledger.CallTimeout <= 0 {
		errs = append(errs, errors.New("ledger.call_timeout must be positive"))
	}
	if c.Escrow.Fee < 0 {
		errs = append(errs, errors.New("escrow.fee must not be negative"))
	}
	if c.Escrow.DefaultHold <= 0 {
		errs = append(errs, errors.New("escrow.default_hold must be positive"))
	}
	if c.Wallet.MasterSeed != "" {
		if _, err := c.MasterSeed(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Escrow.SealKey != "" {
		if _, err := c.SealKey(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Evidence.ApprovalsRequired < 1 {
		errs = append(errs, errors.New("evidence.approvals_required must be at least 1"))
	}

	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Lock.RedisURL == "" {
			errs = append(errs, errors.New("lock.redis_url is required for the redis backend"))
		}
		if c.Lock.TTL <= 0 {
			errs = append(errs, errors.New("lock.ttl must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend must be %q or %q, got %q", LockLocal, LockRedis, c.Lock.Backend))
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.Topic == "" {
		errs = append(errs, errors.New("events.topic is required when kafka brokers are set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// MasterSeed decodes the wallet master seed. It returns nil when unset.
func (c Config) MasterSeed() ([]byte, error) {
	if c.Wallet.MasterSeed == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(c.Wallet.MasterSeed)
	if err != nil {
		return nil, fmt.Errorf("wallet.master_seed is not hex: %w", err)
	}
	if len(seed) < 32 {
		return nil, fmt.Errorf("wallet.master_seed must be at least 32 bytes, got %d", len(seed))
	}
	return seed, nil
}

// SealKey decodes the escrow seal key. It returns nil when unset.
func (c Config) SealKey() ([]byte, error) {
	if c.Escrow.SealKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Escrow.SealKey)
	if err != nil {
		return nil, fmt.Errorf("escrow.seal_key is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("escrow.seal_key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
