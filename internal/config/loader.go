package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies YB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known YB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Zcash ──
	setStr(&cfg.Zcash.RPCURL, "YB_ZCASH_RPC_URL")
	setStr(&cfg.Zcash.RPCUser, "YB_ZCASH_RPC_USER")
	setStr(&cfg.Zcash.RPCPassword, "YB_ZCASH_RPC_PASSWORD")

	// ── Bridge ──
	setStr(&cfg.Bridge.BaseURL, "YB_BRIDGE_BASE_URL")
	setStr(&cfg.Bridge.APIKey, "YB_BRIDGE_API_KEY")
	setDuration(&cfg.Bridge.QuoteTTL, "YB_BRIDGE_QUOTE_TTL")

	// ── Pool ──
	setStr(&cfg.Pool.BaseURL, "YB_POOL_BASE_URL")
	setStr(&cfg.Pool.AccountID, "YB_POOL_ACCOUNT_ID")
	setStr(&cfg.Pool.DefaultPoolID, "YB_POOL_DEFAULT_POOL_ID")
	setStr(&cfg.Pool.KeystorePath, "YB_POOL_KEYSTORE_PATH")
	setStr(&cfg.Pool.KeystorePassword, "YB_POOL_KEYSTORE_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "YB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "YB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "YB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "YB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "YB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "YB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "YB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "YB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "YB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "YB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "YB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "YB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "YB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "YB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "YB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "YB_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "YB_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "YB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "YB_S3_REGION")
	setStr(&cfg.S3.Bucket, "YB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "YB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "YB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "YB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "YB_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveAfterDays, "YB_S3_ARCHIVE_AFTER_DAYS")
	setDuration(&cfg.S3.ArchiveInterval, "YB_S3_ARCHIVE_INTERVAL")

	// ── Watcher ──
	setDuration(&cfg.Watcher.SweepInterval, "YB_WATCHER_SWEEP_INTERVAL")
	setDuration(&cfg.Watcher.MaxPendingAge, "YB_WATCHER_MAX_PENDING_AGE")
	setInt(&cfg.Watcher.MinConfirmations, "YB_WATCHER_MIN_CONFIRMATIONS")
	setFloat64(&cfg.Watcher.AmountTolerancePercent, "YB_WATCHER_AMOUNT_TOLERANCE_PERCENT")
	setDuration(&cfg.Watcher.LockTTL, "YB_WATCHER_LOCK_TTL")
	setDuration(&cfg.Watcher.EarningsInterval, "YB_WATCHER_EARNINGS_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "YB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "YB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "YB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "YB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "YB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "YB_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "YB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "YB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "YB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "YB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "YB_MODE")
	setStr(&cfg.Network, "YB_NETWORK")
	setStr(&cfg.LogLevel, "YB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
