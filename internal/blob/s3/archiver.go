package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart path.
const multipartThreshold = 5 * 1024 * 1024

// multipartWriter is satisfied by *Writer. Blob writers that don't support
// multipart uploads fall back to a single Put.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver implements domain.Archiver: it pages aged execution records and
// audit entries out of the primary store, uploads them to blob storage as
// JSONL, and deletes the source rows only after the upload has been read
// back and verified. A failed run leaves the remaining rows in place for the
// next maintenance cycle.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	execs  domain.ExecutionStore
	audit  domain.AuditStore
	batch  int
	logger *slog.Logger
}

// NewArchiver creates an Archiver. batch caps how many rows are moved per
// upload; values below 1 default to 1000.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	execs domain.ExecutionStore,
	audit domain.AuditStore,
	batch int,
	logger *slog.Logger,
) *Archiver {
	if batch < 1 {
		batch = 1000
	}
	return &Archiver{
		writer: writer,
		reader: reader,
		execs:  execs,
		audit:  audit,
		batch:  batch,
		logger: logger.With("component", "archiver"),
	}
}

// ArchiveBefore moves all execution records and audit entries completed
// strictly before the cutoff into blob storage.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) error {
	if err := a.archiveExecutions(ctx, cutoff); err != nil {
		return err
	}
	return a.archiveAudit(ctx, cutoff)
}

func (a *Archiver) archiveExecutions(ctx context.Context, cutoff time.Time) error {
	for {
		recs, err := a.execs.ListBefore(ctx, cutoff, a.batch)
		if err != nil {
			return fmt.Errorf("s3blob: archive executions query: %w", err)
		}
		if len(recs) == 0 {
			return nil
		}

		last := recs[len(recs)-1].CompletedAt
		path := archivePath("executions", last, len(recs))
		if err := uploadVerified(ctx, a, path, recs); err != nil {
			return fmt.Errorf("s3blob: archive executions: %w", err)
		}

		// Delete exactly the uploaded page. ListBefore returns rows in
		// ascending completion order, so everything at or before the last
		// record's timestamp is covered by the upload.
		deleted, err := a.execs.DeleteBefore(ctx, last.Add(time.Nanosecond))
		if err != nil {
			return fmt.Errorf("s3blob: archive executions delete: %w", err)
		}

		a.logger.Info("archived executions",
			slog.String("path", path),
			slog.Int("uploaded", len(recs)),
			slog.Int64("deleted", deleted))

		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"path":   path,
			"count":  len(recs),
			"before": cutoff.Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("s3blob: archive executions audit log: %w", err)
		}
	}
}

func (a *Archiver) archiveAudit(ctx context.Context, cutoff time.Time) error {
	for {
		entries, err := a.audit.ListBefore(ctx, cutoff, a.batch)
		if err != nil {
			return fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		last := entries[len(entries)-1].At
		path := archivePath("audit", last, len(entries))
		if err := uploadVerified(ctx, a, path, entries); err != nil {
			return fmt.Errorf("s3blob: archive audit: %w", err)
		}

		deleted, err := a.audit.DeleteBefore(ctx, last.Add(time.Nanosecond))
		if err != nil {
			return fmt.Errorf("s3blob: archive audit delete: %w", err)
		}

		a.logger.Info("archived audit entries",
			slog.String("path", path),
			slog.Int("uploaded", len(entries)),
			slog.Int64("deleted", deleted))
	}
}

// uploadVerified serialises records to JSONL, uploads them, then reads the
// object back and counts its lines before the caller is allowed to delete
// the source rows.
func uploadVerified[T any](ctx context.Context, a *Archiver, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	if mp, ok := a.writer.(multipartWriter); ok && int64(len(buf)) > multipartThreshold {
		if err := mp.PutMultipart(ctx, path, bytes.NewReader(buf), 0); err != nil {
			return fmt.Errorf("multipart upload: %w", err)
		}
	} else if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	got, err := a.countLines(ctx, path)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if got != len(records) {
		return fmt.Errorf("verify %s: uploaded %d records, read back %d", path, len(records), got)
	}
	return nil
}

func (a *Archiver) countLines(ctx context.Context, path string) (int, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}

// archivePath builds the blob key for an archive page, partitioned by the
// year-month of the page's last record.
//
//	archive/executions/2026-08/20260830T120000.000000000-1000.jsonl
func archivePath(kind string, last time.Time, count int) string {
	ts := last.UTC()
	return fmt.Sprintf("archive/%s/%s/%s-%d.jsonl",
		kind, ts.Format("2006-01"), ts.Format("20060102T150405.000000000"), count)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
