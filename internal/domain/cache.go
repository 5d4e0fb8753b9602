package domain

import (
	"context"
	"time"
)

// PriceSource supplies the current market price for a symbol. ok is false
// when no quote is known; callers must fall back to the entry price, never
// to zero.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (price float64, ok bool, err error)
}

// QuoteCache caches the latest quote per symbol.
type QuoteCache interface {
	SetQuote(ctx context.Context, symbol string, price float64, ts time.Time) error
	// GetQuote returns ErrNotFound when no quote is cached for the symbol.
	GetQuote(ctx context.Context, symbol string) (float64, time.Time, error)
	// GetQuotes returns cached quotes for the given symbols; missing symbols
	// are omitted from the map.
	GetQuotes(ctx context.Context, symbols []string) (map[string]float64, error)
}

// LockManager provides distributed locks, used to keep the daily
// materialization job from overlapping with itself across replicas.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when
	// the lock is held by another party. The unlock function is safe to
	// call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds request rates per key.
type RateLimiter interface {
	// Allow reports whether a request for the key is permitted under a
	// sliding window of limit requests per window, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request for the key is allowed or the context is
	// cancelled.
	Wait(ctx context.Context, key string) error
}

// StreamMessage is a single durable bus message.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus publishes ledger lifecycle events for dashboards and the
// websocket hub, and appends them to a durable stream.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
