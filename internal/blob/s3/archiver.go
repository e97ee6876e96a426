package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/solturn/yieldbridge/internal/domain"
	"github.com/solturn/yieldbridge/internal/observability"
)

// TerminalPositionStore is the narrow read surface the archiver needs: only
// terminal positions old enough to leave the hot store.
type TerminalPositionStore interface {
	ListTerminalBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]domain.Position, error)
}

// ListOpts aliases the domain pagination options so adapters outside this
// package do not need a second import.
type ListOpts = domain.ListOpts

// archiveBatchSize caps how many positions one archival run uploads.
const archiveBatchSize = 1000

// Archiver uploads terminal positions as JSONL to an S3-compatible bucket,
// partitioned by the year-month of the cutoff. Deleting archived rows from
// the primary store is an explicit separate step, executed only after the
// archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	positions TerminalPositionStore
	audit     domain.AuditStore
	metrics   *observability.Metrics
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. retention is how long terminal positions
// stay in the hot store; interval is how often Run re-checks.
func NewArchiver(
	writer domain.BlobWriter,
	positions TerminalPositionStore,
	audit domain.AuditStore,
	metrics *observability.Metrics,
	retention, interval time.Duration,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		audit:     audit,
		metrics:   metrics,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives once immediately, then on every tick until the context is
// cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	a.runOnce(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Archiver) runOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-a.retention)
	count, err := a.ArchivePositions(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archival run failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if count > 0 {
		a.logger.InfoContext(ctx, "archival run complete",
			slog.Int64("archived", count),
			slog.Time("cutoff", cutoff),
		)
	}
}

// ArchivePositions uploads every terminal position finalized before the
// cutoff to archive/positions/YYYY-MM.jsonl and records the event in the
// audit log. It returns the number of archived positions.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListTerminalBefore(ctx, before, ListOpts{Limit: archiveBatchSize})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(positions))
	if a.metrics != nil {
		a.metrics.PositionsArchived.Add(float64(count))
	}

	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element becomes a single compact JSON line.
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
