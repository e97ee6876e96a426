// Package config defines the top-level configuration for the yield bridge
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by YB_* environment variables.
type Config struct {
	Zcash    ZcashConfig    `toml:"zcash"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Pool     PoolConfig     `toml:"pool"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Watcher  WatcherConfig  `toml:"watcher"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	Network  string         `toml:"network"`
	LogLevel string         `toml:"log_level"`
}

// ZcashConfig holds source-ledger RPC parameters.
type ZcashConfig struct {
	RPCURL      string `toml:"rpc_url"`
	RPCUser     string `toml:"rpc_user"`
	RPCPassword string `toml:"rpc_password"`
}

// BridgeConfig holds bridge-intents API parameters.
type BridgeConfig struct {
	BaseURL  string   `toml:"base_url"`
	APIKey   string   `toml:"api_key"`
	QuoteTTL duration `toml:"quote_ttl"`
}

// PoolConfig holds destination-ledger yield protocol parameters.
type PoolConfig struct {
	BaseURL          string `toml:"base_url"`
	AccountID        string `toml:"account_id"`
	DefaultPoolID    string `toml:"default_pool_id"`
	KeystorePath     string `toml:"keystore_path"`
	KeystorePassword string `toml:"keystore_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for cold archival.
type S3Config struct {
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	ArchiveAfterDays int      `toml:"archive_after_days"`
	ArchiveInterval  duration `toml:"archive_interval"`
}

// WatcherConfig holds deposit/withdrawal watcher parameters.
type WatcherConfig struct {
	SweepInterval    duration `toml:"sweep_interval"`
	MaxPendingAge    duration `toml:"max_pending_age"`
	MinConfirmations int      `toml:"min_confirmations"`
	// AmountTolerancePercent is the downward tolerance applied to the
	// expected deposit amount to absorb network fees.
	AmountTolerancePercent float64  `toml:"amount_tolerance_percent"`
	LockTTL                duration `toml:"lock_ttl"`
	EarningsInterval       duration `toml:"earnings_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is the per-client request budget per window. Zero disables
	// rate limiting.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Zcash: ZcashConfig{
			RPCURL: "http://localhost:8232",
		},
		Bridge: BridgeConfig{
			BaseURL:  "https://bridge.chaindefuser.com/rpc",
			QuoteTTL: duration{10 * time.Minute},
		},
		Pool: PoolConfig{
			BaseURL:       "https://api.burrow.finance",
			DefaultPoolID: "zec.omft.near",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "yieldbridge",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "yieldbridge-archive",
			ForcePathStyle:   true,
			ArchiveAfterDays: 90,
			ArchiveInterval:  duration{24 * time.Hour},
		},
		Watcher: WatcherConfig{
			SweepInterval:          duration{2 * time.Minute},
			MaxPendingAge:          duration{24 * time.Hour},
			MinConfirmations:       3,
			AmountTolerancePercent: 1.0,
			LockTTL:                duration{5 * time.Minute},
			EarningsInterval:       duration{15 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       50,
			RateLimitWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"position_completed", "position_failed", "position_cancelled"},
		},
		Mode:     "full",
		Network:  "mainnet",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"watcher": true,
	"server":  true,
}

// validNetworks enumerates the accepted values for Config.Network.
var validNetworks = map[string]bool{
	"mainnet": true,
	"testnet": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, watcher, server)", c.Mode))
	}
	if !validNetworks[strings.ToLower(c.Network)] {
		errs = append(errs, fmt.Sprintf("unknown network %q (valid: mainnet, testnet)", c.Network))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger endpoints are only required on mainnet; testnet runs against
	// simulated collaborators.
	if strings.ToLower(c.Network) == "mainnet" {
		if c.Zcash.RPCURL == "" {
			errs = append(errs, "zcash: rpc_url must not be empty on mainnet")
		}
		if c.Bridge.BaseURL == "" {
			errs = append(errs, "bridge: base_url must not be empty on mainnet")
		}
		if c.Pool.BaseURL == "" {
			errs = append(errs, "pool: base_url must not be empty on mainnet")
		}
		if c.Pool.AccountID == "" {
			errs = append(errs, "pool: account_id must not be empty on mainnet")
		}
		if c.Pool.KeystorePath != "" && c.Pool.KeystorePassword == "" {
			errs = append(errs, "pool: keystore_password is required when keystore_path is set")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.S3.ArchiveAfterDays < 1 {
		errs = append(errs, "s3: archive_after_days must be >= 1")
	}

	// Watcher
	if c.Watcher.SweepInterval.Duration <= 0 {
		errs = append(errs, "watcher: sweep_interval must be > 0")
	}
	if c.Watcher.MaxPendingAge.Duration <= 0 {
		errs = append(errs, "watcher: max_pending_age must be > 0")
	}
	if c.Watcher.MinConfirmations < 1 {
		errs = append(errs, "watcher: min_confirmations must be >= 1")
	}
	if c.Watcher.AmountTolerancePercent < 0 || c.Watcher.AmountTolerancePercent > 10 {
		errs = append(errs, fmt.Sprintf("watcher: amount_tolerance_percent must be 0-10, got %g", c.Watcher.AmountTolerancePercent))
	}
	if c.Watcher.LockTTL.Duration <= 0 {
		errs = append(errs, "watcher: lock_ttl must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
