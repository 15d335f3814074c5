package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/polyclaw/engine/internal/domain"
)

// ResultArchiveStore is the narrow read surface the archiver needs. The
// Postgres ExecutionResultStore satisfies it.
type ResultArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error)
}

// ArchiveImpl implements domain.Archiver by querying terminal execution
// records older than a cutoff, serializing them to JSONL, and uploading the
// file to object storage.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  *Reader
	results ResultArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. reader is used to verify uploads
// and may be nil to skip verification.
func NewArchiver(writer domain.BlobWriter, reader *Reader, results ResultArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		reader:  reader,
		results: results,
		audit:   audit,
	}
}

// ArchiveResults queries all execution results completed before the cutoff,
// serializes them to JSONL, and uploads the file at
// archive/results/YYYY-MM.jsonl. The archival event is recorded in the audit
// log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveResults(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.results.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive results query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(results)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive results marshal: %w", err)
	}

	path := archivePath("results", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive results upload: %w", err)
	}

	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive results verify: %w", err)
		}
		if !ok {
			return 0, fmt.Errorf("s3blob: archive results verify: object %s missing after upload", path)
		}
	}

	count := int64(len(results))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.results", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive results audit log: %w", err)
		}
	}

	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/results/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes records as newline-delimited JSON, one compact
// line per record.
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
var _ domain.Archiver = (*ArchiveImpl)(nil)
