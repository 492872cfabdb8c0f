package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/openclave/gatehouse/pkg/observability"
)

// ObjectStore is the blob surface the archiver uploads batches to.
// *storage.S3Client satisfies it.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
}

// Archiver moves expired audit events into compressed NDJSON objects and
// deletes them from Postgres once the upload succeeded. Rows are only ever
// deleted up to the last archived ID, so a failed upload leaves the trail
// intact.
type Archiver struct {
	store     *DBLogger
	objects   ObjectStore
	batchSize int
	logger    *observability.Logger
}

// NewArchiver builds an archiver draining the store in batches of batchSize.
func NewArchiver(store *DBLogger, objects ObjectStore, batchSize int, logger *observability.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Archiver{
		store:     store,
		objects:   objects,
		batchSize: batchSize,
		logger:    logger.WithComponent("audit-archiver"),
	}
}

// Run archives every event older than the cutoff and returns how many rows
// were archived and removed.
func (a *Archiver) Run(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		events, err := a.store.ListOlderThan(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			return total, nil
		}

		data, err := encodeNDJSON(events)
		if err != nil {
			return total, err
		}
		compressed, err := gzipBytes(data)
		if err != nil {
			return total, fmt.Errorf("failed to compress archive batch: %w", err)
		}

		lastID := events[len(events)-1].ID
		key := archiveKey(events[0].Timestamp, events[0].ID, lastID)
		if err := a.objects.PutObject(ctx, key, bytes.NewReader(compressed), "application/gzip"); err != nil {
			return total, fmt.Errorf("failed to upload archive batch: %w", err)
		}

		deleted, err := a.store.DeleteThrough(ctx, lastID, cutoff)
		if err != nil {
			return total, err
		}
		total += deleted

		a.logger.
			WithField("key", key).
			WithField("events", len(events)).
			Info("archived audit batch")

		if len(events) < a.batchSize {
			return total, nil
		}
	}
}

// archiveKey places a batch under its first event's date so archives list
// chronologically in the bucket.
func archiveKey(t time.Time, firstID, lastID int64) string {
	return fmt.Sprintf("audit/%s/events-%d-%d.ndjson.gz", t.UTC().Format("2006/01/02"), firstID, lastID)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
