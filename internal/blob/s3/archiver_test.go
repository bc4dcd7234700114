package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = buf
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *memBlob) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type memExecStore struct {
	recs []domain.ExecutionRecord
}

func (s *memExecStore) Create(_ context.Context, rec domain.ExecutionRecord) error {
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memExecStore) ListRecent(_ context.Context, limit int) ([]domain.ExecutionRecord, error) {
	return nil, nil
}

func (s *memExecStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.ExecutionRecord, error) {
	var out []domain.ExecutionRecord
	for _, rec := range s.recs {
		if rec.CompletedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memExecStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.ExecutionRecord
	var deleted int64
	for _, rec := range s.recs {
		if rec.CompletedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.recs = kept
	return deleted, nil
}

type memAuditStore struct {
	entries []domain.AuditEntry
}

func (s *memAuditStore) Log(_ context.Context, event string, payload map[string]any) error {
	s.entries = append(s.entries, domain.AuditEntry{
		ID:      int64(len(s.entries) + 1),
		Event:   event,
		Payload: payload,
		At:      time.Now(),
	})
	return nil
}

func (s *memAuditStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.At.Before(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memAuditStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.AuditEntry
	var deleted int64
	for _, e := range s.entries {
		if e.At.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

func execAt(id string, at time.Time) domain.ExecutionRecord {
	return domain.ExecutionRecord{
		ID:          id,
		PairID:      "NFL-KC",
		Strategy:    domain.StrategyCrossAB,
		State:       domain.AttemptSettled,
		Size:        10,
		StartedAt:   at.Add(-time.Second),
		CompletedAt: at,
	}
}

func TestArchiveBeforeMovesOldRows(t *testing.T) {
	blob := newMemBlob()
	execs := &memExecStore{}
	audit := &memAuditStore{}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, execs.Create(context.Background(),
			execAt(fmt.Sprintf("old-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	recent := execAt("recent", base.Add(48*time.Hour))
	require.NoError(t, execs.Create(context.Background(), recent))

	arch := NewArchiver(blob, blob, execs, audit, 1000, slog.Default())
	cutoff := base.Add(24 * time.Hour)
	require.NoError(t, arch.ArchiveBefore(context.Background(), cutoff))

	// The recent record survives, the old ones are gone.
	require.Len(t, execs.recs, 1)
	assert.Equal(t, "recent", execs.recs[0].ID)

	// One archive object holding all five rows.
	paths := blob.paths()
	require.Len(t, paths, 1)
	body, err := blob.Get(context.Background(), paths[0])
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, 5, bytes.Count(data, []byte("\n")))

	// The archival itself is audited.
	require.NotEmpty(t, audit.entries)
	assert.Equal(t, "archive.executions", audit.entries[0].Event)
}

func TestArchiveBeforePagesInBatches(t *testing.T) {
	blob := newMemBlob()
	execs := &memExecStore{}
	audit := &memAuditStore{}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		require.NoError(t, execs.Create(context.Background(),
			execAt(fmt.Sprintf("e-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	arch := NewArchiver(blob, blob, execs, audit, 3, slog.Default())
	require.NoError(t, arch.ArchiveBefore(context.Background(), base.Add(time.Hour)))

	assert.Empty(t, execs.recs)
	assert.Len(t, blob.paths(), 3)
}

func TestArchiveBeforeArchivesAuditEntries(t *testing.T) {
	blob := newMemBlob()
	execs := &memExecStore{}
	audit := &memAuditStore{}

	base := time.Now().Add(-72 * time.Hour)
	audit.entries = append(audit.entries,
		domain.AuditEntry{ID: 1, Event: "leg_reconciled", At: base},
		domain.AuditEntry{ID: 2, Event: "breaker_transition", At: base.Add(time.Minute)},
	)

	arch := NewArchiver(blob, blob, execs, audit, 1000, slog.Default())
	require.NoError(t, arch.ArchiveBefore(context.Background(), base.Add(time.Hour)))

	assert.Empty(t, audit.entries)
	paths := blob.paths()
	require.Len(t, paths, 1)
	body, err := blob.Get(context.Background(), paths[0])
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestArchivePathPartitionsByMonth(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	path := archivePath("executions", at, 42)
	assert.Equal(t, "archive/executions/2026-08/20260830T120000.000000000-42.jsonl", path)
}
