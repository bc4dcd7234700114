package domain

import (
	"context"
	"time"
)

// BookMirror persists book views outside the process for dashboards and
// post-mortem inspection. Writes are best-effort and off the hot path.
type BookMirror interface {
	SetView(ctx context.Context, view BookView) error
	GetView(ctx context.Context, key BookKey) (BookView, error)
}

// RateLimiter provides distributed rate limiting for order submission.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking, used to keep two instances from
// executing against the same pair at once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus publishes engine events (opportunities, executions, breaker
// transitions) for external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
