package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"upbit-trading-bot/internal/strategy"
)

// Config is the root configuration for the trading bot, assembled from an
// optional config.json file and then overridden by environment variables.
type Config struct {
	UpbitConfig      UpbitConfig      `json:"upbit"`
	StrategyConfig   StrategyConfig   `json:"strategy"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	CredentialConfig CredentialConfig `json:"credential"`
	VaultConfig      VaultConfig      `json:"vault"`
	RedisConfig      RedisConfig      `json:"redis"`
	ServerConfig     ServerConfig     `json:"server"`
	LoggingConfig    LoggingConfig    `json:"logging"`
}

// UpbitConfig holds exchange client and rate limiter settings.
type UpbitConfig struct {
	BaseURL            string  `json:"base_url"`
	AccessKey          string  `json:"access_key"`
	SecretKey          string  `json:"secret_key"`
	MaxRequestsPerSec  float64 `json:"max_requests_per_sec"`
	MaxRetries         int     `json:"max_retries"`
	RequestTimeoutSecs int     `json:"request_timeout_secs"`
}

// StrategyConfig is the C9 strategy parameter bundle. It is strategy.Config
// itself, not a parallel copy: the engine needs its NewLadderFor/
// NewTrailingStopFor/Validate methods, and config only adds load/env-override
// plumbing on top.
type StrategyConfig = strategy.Config

// DatabaseConfig holds Postgres connection settings for the trade store.
type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	User            string `json:"user"`
	Password        string `json:"password"`
	Database        string `json:"database"`
	SSLMode         string `json:"ssl_mode"`
	MaxConns        int32  `json:"max_conns"`
	MinConns        int32  `json:"min_conns"`
}

// CredentialConfig holds the master password used to derive the credential
// encryption key. The password itself is never persisted.
type CredentialConfig struct {
	Password string `json:"-"`
}

// VaultConfig mirrors the teacher's HashiCorp Vault settings, repurposed here
// as the opaque KV store backing the encrypted credential blob.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// RedisConfig holds the read-through cache settings for the trade store.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	TTLSecs  int    `json:"ttl_secs"`
}

// ServerConfig holds the monitoring/report HTTP API settings.
type ServerConfig struct {
	Port           int    `json:"port"`
	Host           string `json:"host"`
	AllowedOrigins string `json:"allowed_origins"`
}

// LoggingConfig controls the root logger's level and output format.
type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
}

// Load reads an optional config.json, then applies environment variable
// overrides (which always take precedence).
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks the loaded configuration's strategy bundle against the C9
// bounds. Other sections (exchange, database, redis, server) are validated
// by the components that consume them at construction time.
func (c *Config) Validate() error {
	return c.StrategyConfig.Validate()
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Exchange credentials set in the environment take precedence over any
// access_key/secret_key present in config.json. The log format is decided by
// LOG_JSON alone (default true); json_format in config.json is not read.
func applyEnvOverrides(cfg *Config) {
	cfg.UpbitConfig.BaseURL = getEnvOrDefault("UPBIT_BASE_URL", orDefault(cfg.UpbitConfig.BaseURL, "https://api.upbit.com"))
	cfg.UpbitConfig.AccessKey = getEnvOrDefault("UPBIT_ACCESS_KEY", cfg.UpbitConfig.AccessKey)
	cfg.UpbitConfig.SecretKey = getEnvOrDefault("UPBIT_SECRET_KEY", cfg.UpbitConfig.SecretKey)
	cfg.UpbitConfig.MaxRequestsPerSec = getEnvFloatOrDefault("UPBIT_MAX_REQUESTS_PER_SEC", orDefaultFloat(cfg.UpbitConfig.MaxRequestsPerSec, 10.0))
	cfg.UpbitConfig.MaxRetries = getEnvIntOrDefault("UPBIT_MAX_RETRIES", orDefaultInt(cfg.UpbitConfig.MaxRetries, 3))
	cfg.UpbitConfig.RequestTimeoutSecs = getEnvIntOrDefault("UPBIT_REQUEST_TIMEOUT_SECS", orDefaultInt(cfg.UpbitConfig.RequestTimeoutSecs, 10))

	cfg.StrategyConfig.TargetProfitPercent = getEnvFloatOrDefault("STRATEGY_TARGET_PROFIT_PERCENT", orDefaultFloat(cfg.StrategyConfig.TargetProfitPercent, 1.0))
	cfg.StrategyConfig.StopLossPercent = getEnvFloatOrDefault("STRATEGY_STOP_LOSS_PERCENT", orDefaultFloat(cfg.StrategyConfig.StopLossPercent, 2.0))
	cfg.StrategyConfig.AveragingDropPercent = getEnvFloatOrDefault("STRATEGY_AVERAGING_DROP_PERCENT", orDefaultFloat(cfg.StrategyConfig.AveragingDropPercent, 1.0))
	cfg.StrategyConfig.MonitoringIntervalSecs = getEnvIntOrDefault("STRATEGY_MONITORING_INTERVAL_SECS", orDefaultInt(cfg.StrategyConfig.MonitoringIntervalSecs, 10))
	cfg.StrategyConfig.MaxAveragingCount = getEnvIntOrDefault("STRATEGY_MAX_AVERAGING_COUNT", orDefaultInt(cfg.StrategyConfig.MaxAveragingCount, 3))
	cfg.StrategyConfig.DailyLossLimit = getEnvFloatOrDefault("STRATEGY_DAILY_LOSS_LIMIT", orDefaultFloat(cfg.StrategyConfig.DailyLossLimit, 50000))
	cfg.StrategyConfig.MinBalance = getEnvFloatOrDefault("STRATEGY_MIN_BALANCE", orDefaultFloat(cfg.StrategyConfig.MinBalance, 10000))
	cfg.StrategyConfig.TrailingActivationProfit = getEnvFloatOrDefault("STRATEGY_TRAILING_ACTIVATION_PROFIT", orDefaultFloat(cfg.StrategyConfig.TrailingActivationProfit, 1.5))
	cfg.StrategyConfig.TrailingPercent = getEnvFloatOrDefault("STRATEGY_TRAILING_PERCENT", orDefaultFloat(cfg.StrategyConfig.TrailingPercent, 1.0))
	cfg.StrategyConfig.InitialPositionRatio = getEnvFloatOrDefault("STRATEGY_INITIAL_POSITION_RATIO", orDefaultFloat(cfg.StrategyConfig.InitialPositionRatio, 0.3))
	cfg.StrategyConfig.AveragingPositionRatio = getEnvFloatOrDefault("STRATEGY_AVERAGING_POSITION_RATIO", orDefaultFloat(cfg.StrategyConfig.AveragingPositionRatio, 0.2))

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orDefault(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orDefaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", orDefault(cfg.DatabaseConfig.Database, "upbit_trading_bot"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", orDefault(cfg.DatabaseConfig.SSLMode, "disable"))
	cfg.DatabaseConfig.MaxConns = int32(getEnvIntOrDefault("DB_MAX_CONNS", orDefaultInt(int(cfg.DatabaseConfig.MaxConns), 25)))
	cfg.DatabaseConfig.MinConns = int32(getEnvIntOrDefault("DB_MIN_CONNS", orDefaultInt(int(cfg.DatabaseConfig.MinConns), 5)))

	cfg.CredentialConfig.Password = getEnvOrDefault("CREDENTIAL_PASSWORD", cfg.CredentialConfig.Password)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", strconv.FormatBool(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orDefault(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orDefault(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orDefault(cfg.VaultConfig.SecretPath, "upbit-trading-bot/credentials"))

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", strconv.FormatBool(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", orDefault(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orDefaultInt(cfg.RedisConfig.PoolSize, 10))
	cfg.RedisConfig.TTLSecs = getEnvIntOrDefault("REDIS_TTL_SECS", orDefaultInt(cfg.RedisConfig.TTLSecs, 30))

	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", orDefaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", orDefault(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orDefault(cfg.ServerConfig.AllowedOrigins, "*"))

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orDefault(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a sample configuration file with reasonable
// defaults for local development.
func GenerateSampleConfig(filename string) error {
	cfg := Config{
		UpbitConfig: UpbitConfig{
			BaseURL:            "https://api.upbit.com",
			MaxRequestsPerSec:  10.0,
			MaxRetries:         3,
			RequestTimeoutSecs: 10,
		},
		StrategyConfig: StrategyConfig{
			TargetProfitPercent:      1.0,
			StopLossPercent:          2.0,
			AveragingDropPercent:     1.0,
			MonitoringIntervalSecs:   10,
			MaxAveragingCount:        3,
			DailyLossLimit:           50000,
			MinBalance:               10000,
			TrailingActivationProfit: 1.5,
			TrailingPercent:          1.0,
			InitialPositionRatio:     0.3,
			AveragingPositionRatio:   0.2,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "upbit_trading_bot",
			SSLMode:  "disable",
			MaxConns: 25,
			MinConns: 5,
		},
		ServerConfig: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			AllowedOrigins: "*",
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
