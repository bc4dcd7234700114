package domain

import (
	"context"
	"io"
	"time"
)

// ExecutionStore persists completed execution records.
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]ExecutionRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore records structured audit events (reconciliations, breaker
// transitions, operator resets).
type AuditStore interface {
	Log(ctx context.Context, event string, payload map[string]any) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditEntry is one persisted audit event.
type AuditEntry struct {
	ID      int64
	Event   string
	Payload map[string]any
	At      time.Time
}

// PositionStore persists position snapshots for recovery and reporting.
type PositionStore interface {
	SaveSnapshot(ctx context.Context, at time.Time, positions []Position) error
	LatestSnapshot(ctx context.Context) ([]Position, time.Time, error)
}

// BlobWriter writes an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader reads an object back from blob storage. Returns ErrNotFound
// when the object does not exist.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// Archiver moves aged rows out of hot storage into blobs.
type Archiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time) error
}
