package memstore

import (
	"context"
	"sync"

	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/port"
)

// MemoryVectorStore keeps one entry per cluster hash.
type MemoryVectorStore struct {
	mu          sync.RWMutex
	entries     map[string]domain.VectorEntry
	imagesIndex string
}

var _ port.VectorStore = (*MemoryVectorStore)(nil)

func NewMemoryVectorStore(imagesIndex string) *MemoryVectorStore {
	return &MemoryVectorStore{
		entries:     make(map[string]domain.VectorEntry),
		imagesIndex: imagesIndex,
	}
}

func (s *MemoryVectorStore) Create(ctx context.Context, entry domain.VectorEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.DuplicateHashes = append([]string(nil), entry.DuplicateHashes...)
	s.entries[entry.Hash] = entry
	return entry.Hash, nil
}

func (s *MemoryVectorStore) UpdatePayload(ctx context.Context, hash string, duplicates []string, quality float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	if !ok {
		return nil
	}
	e.DuplicateHashes = append([]string(nil), duplicates...)
	e.Quality = quality
	s.entries[hash] = e
	return nil
}

func (s *MemoryVectorStore) SimilarImages(ctx context.Context, vector []float32, k int) ([]domain.SimilarImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SimilarImage, 0, len(s.entries))
	for hash, e := range s.entries {
		out = append(out, domain.SimilarImage{
			Index:           s.imagesIndex,
			ID:              hash,
			Score:           domain.CosineScore(vector, e.Vector),
			DuplicateHashes: e.DuplicateHashes,
			Quality:         e.Quality,
			HasQuality:      true,
		})
	}
	return domain.TopSimilar(out, k), nil
}

// Entry returns the stored entry for a cluster hash.
func (s *MemoryVectorStore) Entry(hash string) (domain.VectorEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[hash]
	return e, ok
}

// Len returns the number of clusters.
func (s *MemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
