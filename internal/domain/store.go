package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	// Update replaces all mutable fields of the position.
	Update(ctx context.Context, pos Position) error
	// UpdateGuarded replaces the position only while its stored status still
	// equals expected. It returns ErrStatusConflict when another writer got
	// there first, which makes transition re-application a detectable no-op.
	UpdateGuarded(ctx context.Context, pos Position, expected PositionStatus) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListByOwner(ctx context.Context, owner string, status *PositionStatus, opts ListOpts) ([]Position, error)
	// ListByStatus returns every position in any of the given statuses,
	// oldest first. The watcher sweep selects on it.
	ListByStatus(ctx context.Context, statuses ...PositionStatus) ([]Position, error)
	// ListTerminalBefore returns terminal positions whose final history entry
	// is older than cutoff, for cold archival.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// QuoteCache caches bridge quotes and protocol info so repeated reads do not
// hammer the collaborators.
type QuoteCache interface {
	PutQuote(ctx context.Context, quote DepositQuote, ttl time.Duration) error
	GetQuote(ctx context.Context, intentID string) (DepositQuote, error)
	PutProtocolInfo(ctx context.Context, info ProtocolInfo, ttl time.Duration) error
	GetProtocolInfo(ctx context.Context) (ProtocolInfo, error)
}

// LockManager provides distributed mutual exclusion. The watcher takes a
// lock per sweep so a second instance skips rather than double-finalizes.
type LockManager interface {
	// Acquire returns an unlock function on success and ErrLockHeld when the
	// lock is owned by another party.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter answers whether a caller identified by key may make another
// request within the current window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// StreamMessage is a single entry read from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus distributes position events: ephemeral pub/sub for live
// subscribers and durable streams for the event journal.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}
