package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solturn/yieldbridge/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis with per-key TTLs.
// Deposit quotes are cached by intent ID so the address a user was shown can
// be recovered when the position is created; protocol info is a single key
// refreshed by the earnings loop.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(intentID string) string {
	return "quote:" + intentID
}

const protocolInfoKey = "protocol:info"

// PutQuote stores a deposit quote under its intent ID.
func (qc *QuoteCache) PutQuote(ctx context.Context, quote domain.DepositQuote, ttl time.Duration) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s: %w", quote.IntentID, err)
	}
	if err := qc.rdb.Set(ctx, quoteKey(quote.IntentID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put quote %s: %w", quote.IntentID, err)
	}
	return nil
}

// GetQuote retrieves a cached deposit quote by intent ID. It returns
// domain.ErrNotFound when the quote is absent or expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, intentID string) (domain.DepositQuote, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(intentID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.DepositQuote{}, domain.ErrNotFound
		}
		return domain.DepositQuote{}, fmt.Errorf("redis: get quote %s: %w", intentID, err)
	}

	var quote domain.DepositQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return domain.DepositQuote{}, fmt.Errorf("redis: unmarshal quote %s: %w", intentID, err)
	}
	return quote, nil
}

// PutProtocolInfo stores the current protocol terms.
func (qc *QuoteCache) PutProtocolInfo(ctx context.Context, info domain.ProtocolInfo, ttl time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("redis: marshal protocol info: %w", err)
	}
	if err := qc.rdb.Set(ctx, protocolInfoKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put protocol info: %w", err)
	}
	return nil
}

// GetProtocolInfo retrieves the cached protocol terms. It returns
// domain.ErrNotFound when no snapshot is cached.
func (qc *QuoteCache) GetProtocolInfo(ctx context.Context) (domain.ProtocolInfo, error) {
	data, err := qc.rdb.Get(ctx, protocolInfoKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.ProtocolInfo{}, domain.ErrNotFound
		}
		return domain.ProtocolInfo{}, fmt.Errorf("redis: get protocol info: %w", err)
	}

	var info domain.ProtocolInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.ProtocolInfo{}, fmt.Errorf("redis: unmarshal protocol info: %w", err)
	}
	return info, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
