package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/port"
)

// BatchSelector picks the next page of unprocessed posts at a random offset
// within the backlog reported by the previous cycle.
type BatchSelector struct {
	store port.DocumentStore
	size  int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewBatchSelector(store port.DocumentStore, size int, rng *rand.Rand) *BatchSelector {
	return &BatchSelector{store: store, size: size, rng: rng}
}

// Offset draws a start offset in [0, backlog-size] when the backlog holds
// at least one full batch, else 0.
func (s *BatchSelector) Offset(backlog int) int {
	if backlog < s.size {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(backlog - s.size + 1)
}

// Select returns the batch. Batch.Total is the backlog for the next call.
func (s *BatchSelector) Select(ctx context.Context, backlog int) (domain.Batch, error) {
	batch, err := s.store.SearchPending(ctx, s.Offset(backlog), s.size)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to select batch: %w", err)
	}
	return batch, nil
}
