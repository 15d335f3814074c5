package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyclaw/engine/internal/domain"
)

// memWriter captures uploads in memory.
type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = buf
	w.types[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "application/octet-stream")
}

type stubResults struct {
	results []domain.ExecutionResult
	err     error
	cutoffs []time.Time
}

func (s *stubResults) ListBefore(_ context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	s.cutoffs = append(s.cutoffs, before)
	return s.results, s.err
}

type memAudit struct {
	events []string
	detail []map[string]any
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.detail = append(a.detail, detail)
	return nil
}

func (a *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func sampleResults() []domain.ExecutionResult {
	done := time.Date(2026, 7, 14, 10, 0, 0, 0, time.UTC)
	return []domain.ExecutionResult{
		{ID: "r1", PlanID: "p1", Status: domain.ExecFilled, RealizedProceeds: 105, SpentCapital: 100, CompletedAt: done},
		{ID: "r2", PlanID: "p2", Status: domain.ExecPartial, CompletedAt: done.Add(time.Hour)},
	}
}

func TestArchiveResultsUploadsJSONL(t *testing.T) {
	writer := newMemWriter()
	store := &stubResults{results: sampleResults()}
	audit := &memAudit{}
	arch := NewArchiver(writer, nil, store, audit)

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	count, err := arch.ArchiveResults(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.Len(t, store.cutoffs, 1)
	assert.Equal(t, cutoff, store.cutoffs[0])

	body, ok := writer.objects["archive/results/2026-08.jsonl"]
	require.True(t, ok, "expected object at the year-month partition path")
	assert.Equal(t, "application/x-ndjson", writer.types["archive/results/2026-08.jsonl"])

	// One compact JSON line per record.
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"r1"`)
	assert.Contains(t, lines[1], `"r2"`)
	assert.False(t, bytes.Contains(body, []byte("\n\n")))

	require.Equal(t, []string{"archive.results"}, audit.events)
	assert.Equal(t, int64(2), audit.detail[0]["count"])
}

func TestArchiveResultsEmptyCutoffSkipsUpload(t *testing.T) {
	writer := newMemWriter()
	arch := NewArchiver(writer, nil, &stubResults{}, nil)

	count, err := arch.ArchiveResults(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.objects)
}

func TestArchiveResultsQueryError(t *testing.T) {
	arch := NewArchiver(newMemWriter(), nil, &stubResults{err: errors.New("db down")}, nil)

	_, err := arch.ArchiveResults(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive results query")
}

func TestArchiveResultsUploadError(t *testing.T) {
	writer := newMemWriter()
	writer.err = errors.New("bucket gone")
	arch := NewArchiver(writer, nil, &stubResults{results: sampleResults()}, nil)

	_, err := arch.ArchiveResults(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive results upload")
}

func TestArchivePathPartitionsByMonth(t *testing.T) {
	before := time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "archive/results/2026-02.jsonl", archivePath("results", before))
}
