package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/metrics"
	"github.com/hive-discover/clip-api/internal/port"
)

// BulkWriter buffers the mutations of one stage and sends them as a single
// bulk request.
type BulkWriter struct {
	store port.DocumentStore
	stage string
	log   zerolog.Logger

	mu  sync.Mutex
	buf []domain.Mutation
}

func NewBulkWriter(store port.DocumentStore, stage string, log zerolog.Logger) *BulkWriter {
	return &BulkWriter{store: store, stage: stage, log: log}
}

// Add appends mutations in order.
func (w *BulkWriter) Add(muts ...domain.Mutation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, muts...)
}

// Len returns the number of buffered mutations.
func (w *BulkWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Flush sends the buffer and clears it. Items rejected by the store are
// logged, counted and returned in the result.
func (w *BulkWriter) Flush(ctx context.Context) (domain.BulkResult, error) {
	w.mu.Lock()
	muts := w.buf
	w.buf = nil
	w.mu.Unlock()

	if len(muts) == 0 {
		return domain.BulkResult{}, nil
	}

	res, err := w.store.Bulk(ctx, muts)
	if err != nil {
		metrics.BulkItemFailures.WithLabelValues(w.stage).Add(float64(len(muts)))
		return domain.BulkResult{}, fmt.Errorf("%s bulk of %d items failed: %w", w.stage, len(muts), err)
	}

	if len(res.Failed) > 0 {
		metrics.BulkItemFailures.WithLabelValues(w.stage).Add(float64(len(res.Failed)))
		for _, f := range res.Failed {
			w.log.Warn().
				Str("stage", w.stage).
				Str("index", f.Index).
				Str("id", f.ID).
				Int("status", f.Status).
				Str("reason", f.Reason).
				Msg("bulk item rejected")
		}
	}
	return res, nil
}
