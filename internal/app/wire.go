package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/solturn/yieldbridge/internal/blob/s3"
	"github.com/solturn/yieldbridge/internal/cache/redis"
	"github.com/solturn/yieldbridge/internal/config"
	"github.com/solturn/yieldbridge/internal/crypto"
	"github.com/solturn/yieldbridge/internal/domain"
	"github.com/solturn/yieldbridge/internal/ledger"
	"github.com/solturn/yieldbridge/internal/notify"
	"github.com/solturn/yieldbridge/internal/observability"
	"github.com/solturn/yieldbridge/internal/server/handler"
	"github.com/solturn/yieldbridge/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. Wire constructs it; the returned cleanup function tears it down.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Redis-backed infrastructure
	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Cold archival
	BlobWriter domain.BlobWriter

	// External-ledger collaborators selected by network configuration.
	Providers    ledger.Providers
	ProviderName string

	// Observability
	Metrics *observability.Metrics

	// Notifications
	Notifier *notify.Notifier

	// Health probes keyed by dependency name, served by /api/health.
	HealthChecks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pgPool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pgPool)
	deps.AuditStore = postgres.NewAuditStore(pgPool)
	deps.HealthChecks["postgres"] = pgPool.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	streamMaxLen := int64(10000)
	if cfg.Redis.StreamMaxLen > 0 {
		streamMaxLen = int64(cfg.Redis.StreamMaxLen)
	}

	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, streamMaxLen)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- Ledger providers ---
	poolCredential, err := crypto.LoadCredential(cfg.Pool.KeystorePath, cfg.Pool.KeystorePassword)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: pool credential: %w", err)
	}

	providers, providerName, err := ledger.Select(*cfg, poolCredential)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger providers: %w", err)
	}
	deps.Providers = providers
	deps.ProviderName = providerName
	logger.InfoContext(ctx, "ledger providers selected",
		slog.String("provider", providerName),
		slog.String("network", cfg.Network),
	)

	// --- S3 blob storage ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })
	deps.BlobWriter = s3blob.NewWriter(s3Client)
	deps.HealthChecks["s3"] = s3Client.Health

	// --- Metrics ---
	deps.Metrics = observability.NewMetrics()

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
