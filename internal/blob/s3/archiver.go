package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

const (
	// defaultBatchSize bounds how many rows one archive object holds.
	defaultBatchSize = 1000

	contentTypeJSONL = "application/x-ndjson"
)

// Archiver moves aged audit entries and closed positions into cold storage.
// Audit rows are deleted from the primary store only after their batch has
// been uploaded, so a failed upload never loses forensic history. Closed
// positions are copied, never deleted; the database stays the source of
// truth for PnL history.
type Archiver struct {
	writer    *Writer
	reader    *Reader
	audit     domain.AuditStore
	positions domain.PositionStore
	retention time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewArchiver creates an Archiver that archives records older than
// retentionDays.
func NewArchiver(writer *Writer, reader *Reader, audit domain.AuditStore, positions domain.PositionStore, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		audit:     audit,
		positions: positions,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		batchSize: defaultBatchSize,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveAudit pages audit entries older than the retention cutoff into
// JSONL objects and deletes each page from the primary store once its
// upload has succeeded. Returns the number of entries archived.
func (a *Archiver) ArchiveAudit(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	var total int64
	for {
		entries, err := a.audit.ListBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(entries)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit marshal: %w", err)
		}

		first, last := entries[0], entries[len(entries)-1]
		path := fmt.Sprintf("archive/audit/%s/entries-%d-%d.jsonl",
			cutoff.Format("2006-01-02"), first.ID, last.ID)
		if err := a.writer.Put(ctx, path, buf, contentTypeJSONL); err != nil {
			return total, fmt.Errorf("s3blob: archive audit upload: %w", err)
		}

		// Confirm the object landed before touching the primary store.
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit verify: %w", err)
		}
		if !ok {
			return total, fmt.Errorf("s3blob: archive audit verify: uploaded object %s missing", path)
		}

		// A full page may leave rows sharing last.CreatedAt in the store;
		// they come back at the head of the next page and are uploaded
		// again. Duplicates in an append-only archive are harmless,
		// deleting an unarchived row would not be.
		deleteCutoff := cutoff
		if len(entries) == a.batchSize {
			deleteCutoff = last.CreatedAt
		}
		deleted, err := a.audit.DeleteBefore(ctx, deleteCutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit delete: %w", err)
		}
		total += int64(len(entries))

		a.logger.Info("audit batch archived",
			slog.String("path", path),
			slog.Int("entries", len(entries)),
			slog.Int64("deleted", deleted),
		)

		if len(entries) < a.batchSize {
			return total, nil
		}
		if deleted == 0 {
			// Every row in the page shares one timestamp; stop rather
			// than loop on the same page forever.
			a.logger.Warn("audit archival stalled on identical timestamps",
				slog.Time("cutoff", deleteCutoff),
			)
			return total, nil
		}
	}
}

// ArchivePositions uploads a snapshot of positions closed before the
// retention cutoff. Rows are left in the store.
func (a *Archiver) ArchivePositions(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	positions, err := a.positions.ListClosedBefore(ctx, cutoff, a.batchSize)
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

	path := fmt.Sprintf("archive/positions/%s.jsonl", cutoff.Format("2006-01-02"))
	if err := a.writer.Put(ctx, path, buf, contentTypeJSONL); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	a.logger.Info("closed positions archived",
		slog.String("path", path),
		slog.Int("positions", len(positions)),
	)
	return int64(len(positions)), nil
}

// Run archives on the given interval until the context ends. Failures are
// logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.ArchiveAudit(ctx); err != nil {
				a.logger.Error("audit archival failed", slog.String("error", err.Error()))
			}
			if _, err := a.ArchivePositions(ctx); err != nil {
				a.logger.Error("position archival failed", slog.String("error", err.Error()))
			}
		}
	}
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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
