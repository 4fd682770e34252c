package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBlocksPerEpoch = 50
	defaultPagesPerEval   = 3
	defaultSampleMin      = 30
	defaultAlpha          = 0.9
	defaultTemperature    = 0.08
	defaultEpsilon        = 0.005
	defaultMaxPages       = 968_000_015

	defaultEvalRoundTTLSec = 20 * 60
	defaultCommitTTLSec    = 60
	defaultSyncTTLSec      = 10

	dbPoolStatsIntervalDefaultMS = 15000
)

type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Sidecar   SidecarConfig   `yaml:"sidecar"`
	Validator ValidatorConfig `yaml:"validator"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Alert     AlertConfig     `yaml:"alert"`
}

type ChainConfig struct {
	RPCURL     string  `yaml:"rpc_url"`
	Network    string  `yaml:"network"`
	NetUID     int     `yaml:"netuid"`
	Hotkey     string  `yaml:"hotkey"`
	SignerURL  string  `yaml:"signer_url"`
	RateLimit  float64 `yaml:"rate_limit_rps"`
	RateBurst  int     `yaml:"rate_limit_burst"`
	BreakerMax int     `yaml:"breaker_failure_threshold"`
}

type SidecarConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ValidatorConfig is the scheduling surface. None of these change the
// scoring algorithm itself, only how often and over what it runs.
type ValidatorConfig struct {
	Device         string        `yaml:"device"`
	BlocksPerEpoch int64         `yaml:"blocks_per_epoch"`
	PagesPerEval   int           `yaml:"pages_per_eval"`
	SampleMin      int           `yaml:"sample_min"`
	Alpha          float64       `yaml:"alpha"`
	Temperature    float64       `yaml:"temperature"`
	Epsilon        float64       `yaml:"timestamp_epsilon"`
	MaxPages       int64         `yaml:"max_pages"`
	EvalRoundTTL   time.Duration `yaml:"eval_round_ttl"`
	CommitTTL      time.Duration `yaml:"commit_ttl"`
	SyncTTL        time.Duration `yaml:"sync_ttl"`
	DontSetWeights bool          `yaml:"dont_set_weights"`
	Offline        bool          `yaml:"offline"`
	TestMode       bool          `yaml:"test"`
}

type DBConfig struct {
	URL                 string        `yaml:"url"`
	MaxOpenConns        int           `yaml:"max_open_conns"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime"`
	PoolStatsIntervalMS int           `yaml:"pool_stats_interval_ms"`
	MigrationsDir       string        `yaml:"migrations_dir"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type ServerConfig struct {
	HealthPort int `yaml:"health_port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type AlertConfig struct {
	SlackWebhookURL string        `yaml:"slack_webhook_url"`
	WebhookURL      string        `yaml:"webhook_url"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// Load builds the config from environment variables, then overlays the
// YAML file named by VALIDATOR_CONFIG_FILE when set. Flags are applied by
// the caller after Load and must be followed by Validate.
func Load() (*Config, error) {
	return LoadFile(getEnv("VALIDATOR_CONFIG_FILE", ""))
}

// LoadFile is Load with an explicit overlay path. An empty path skips the
// overlay.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{
		Chain: ChainConfig{
			RPCURL:     getEnv("CHAIN_RPC_URL", "http://localhost:9933"),
			Network:    getEnv("CHAIN_NETWORK", "finney"),
			NetUID:     getEnvInt("NETUID", 9),
			Hotkey:     getEnv("WALLET_HOTKEY", ""),
			SignerURL:  getEnv("SIGNER_URL", ""),
			RateLimit:  getEnvFloat("CHAIN_RPC_RATE_LIMIT_RPS", 10),
			RateBurst:  getEnvInt("CHAIN_RPC_RATE_LIMIT_BURST", 5),
			BreakerMax: getEnvInt("CHAIN_RPC_BREAKER_FAILURES", 5),
		},
		Sidecar: SidecarConfig{
			URL:     getEnv("SIDECAR_URL", "http://localhost:8091"),
			Timeout: time.Duration(getEnvInt("SIDECAR_TIMEOUT_SEC", 600)) * time.Second,
		},
		Validator: ValidatorConfig{
			Device:         getEnv("DEVICE", "cuda"),
			BlocksPerEpoch: int64(getEnvInt("BLOCKS_PER_EPOCH", defaultBlocksPerEpoch)),
			PagesPerEval:   getEnvInt("PAGES_PER_EVAL", defaultPagesPerEval),
			SampleMin:      getEnvInt("SAMPLE_MIN", defaultSampleMin),
			Alpha:          getEnvFloat("EMA_ALPHA", defaultAlpha),
			Temperature:    getEnvFloat("TEMPERATURE", defaultTemperature),
			Epsilon:        getEnvFloat("TIMESTAMP_EPSILON", defaultEpsilon),
			MaxPages:       int64(getEnvInt("DATASET_MAX_PAGES", defaultMaxPages)),
			EvalRoundTTL:   time.Duration(getEnvInt("EVAL_ROUND_TTL_SEC", defaultEvalRoundTTLSec)) * time.Second,
			CommitTTL:      time.Duration(getEnvInt("COMMIT_TTL_SEC", defaultCommitTTLSec)) * time.Second,
			SyncTTL:        time.Duration(getEnvInt("SYNC_TTL_SEC", defaultSyncTTLSec)) * time.Second,
			DontSetWeights: getEnvBool("DONT_SET_WEIGHTS", false),
			Offline:        getEnvBool("OFFLINE", false),
			TestMode:       getEnvBool("TEST_MODE", false),
		},
		DB: DBConfig{
			URL:                 getEnv("DB_URL", ""),
			MaxOpenConns:        getEnvInt("DB_MAX_OPEN_CONNS", 5),
			MaxIdleConns:        getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:     time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			PoolStatsIntervalMS: getEnvInt("DB_POOL_STATS_INTERVAL_MS", dbPoolStatsIntervalDefaultMS),
			MigrationsDir:       getEnv("DB_MIGRATIONS_DIR", "internal/store/postgres/migrations"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_MIN", 30)) * time.Minute,
		},
	}

	if path = strings.TrimSpace(path); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFile decodes a YAML file on top of the env-derived values. Keys
// absent from the file keep their current value.
func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the scoring pipeline cannot run with.
func (c *Config) Validate() error {
	v := c.Validator
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("CHAIN_RPC_URL is required")
	}
	if c.Chain.NetUID < 0 || c.Chain.NetUID > 0xFFFF {
		return fmt.Errorf("NETUID must be within [0, 65535], got %d", c.Chain.NetUID)
	}
	if c.Sidecar.URL == "" {
		return fmt.Errorf("SIDECAR_URL is required")
	}
	if v.BlocksPerEpoch < 1 {
		return fmt.Errorf("BLOCKS_PER_EPOCH must be positive, got %d", v.BlocksPerEpoch)
	}
	if v.PagesPerEval < 1 {
		return fmt.Errorf("PAGES_PER_EVAL must be positive, got %d", v.PagesPerEval)
	}
	if v.SampleMin < 1 {
		return fmt.Errorf("SAMPLE_MIN must be positive, got %d", v.SampleMin)
	}
	if v.Alpha < 0 || v.Alpha >= 1 {
		return fmt.Errorf("EMA_ALPHA must be within [0, 1), got %v", v.Alpha)
	}
	if v.Temperature <= 0 {
		return fmt.Errorf("TEMPERATURE must be positive, got %v", v.Temperature)
	}
	if v.Epsilon < 0 || v.Epsilon >= 1 {
		return fmt.Errorf("TIMESTAMP_EPSILON must be within [0, 1), got %v", v.Epsilon)
	}
	if v.MaxPages < 1 {
		return fmt.Errorf("DATASET_MAX_PAGES must be positive, got %d", v.MaxPages)
	}
	if v.EvalRoundTTL <= 0 || v.CommitTTL <= 0 || v.SyncTTL <= 0 {
		return fmt.Errorf("round, commit and sync TTLs must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// SetWeightsEnabled reports whether the committer should submit at all.
func (v ValidatorConfig) SetWeightsEnabled() bool {
	return !v.DontSetWeights && !v.Offline && !v.TestMode
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
