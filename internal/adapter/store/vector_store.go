package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/port"
)

var (
	bucketVectors = []byte("vectors")
)

// BoltVectorStore implements VectorStore using BoltDB for persistence.
// Uses brute-force search; entries are cached in memory for fast scoring.
type BoltVectorStore struct {
	db          *bbolt.DB
	dimension   int
	imagesIndex string
	mu          sync.RWMutex
	// In-memory cache for fast search
	entries map[string]domain.VectorEntry
}

var _ port.VectorStore = (*BoltVectorStore)(nil)

type storedVector struct {
	Vector     []float32 `json:"v"`
	Duplicates []string  `json:"d"`
	Quality    float64   `json:"q"`
}

// NewBoltVectorStore creates a new BoltDB-backed vector store.
func NewBoltVectorStore(db *bbolt.DB, dimension int, imagesIndex string) (*BoltVectorStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vectors bucket: %w", err)
	}

	store := &BoltVectorStore{
		db:          db,
		dimension:   dimension,
		imagesIndex: imagesIndex,
		entries:     make(map[string]domain.VectorEntry),
	}

	if err := store.loadVectors(); err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	return store, nil
}

// loadVectors loads all vectors from BoltDB into memory.
func (s *BoltVectorStore) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // Skip corrupted entries
			}
			s.entries[string(k)] = domain.VectorEntry{
				Hash:            string(k),
				Vector:          stored.Vector,
				DuplicateHashes: stored.Duplicates,
				Quality:         stored.Quality,
			}
			return nil
		})
	})
}

func (s *BoltVectorStore) put(entry domain.VectorEntry) error {
	data, err := json.Marshal(storedVector{
		Vector:     entry.Vector,
		Duplicates: entry.DuplicateHashes,
		Quality:    entry.Quality,
	})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).Put([]byte(entry.Hash), data)
	})
	if err != nil {
		return err
	}
	s.entries[entry.Hash] = entry
	return nil
}

func (s *BoltVectorStore) Create(ctx context.Context, entry domain.VectorEntry) (string, error) {
	if len(entry.Vector) != s.dimension {
		return "", fmt.Errorf("vector dimension mismatch: expected %d, got %d", s.dimension, len(entry.Vector))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(entry); err != nil {
		return "", fmt.Errorf("failed to store vector %s: %w", entry.Hash, err)
	}
	return entry.Hash, nil
}

func (s *BoltVectorStore) UpdatePayload(ctx context.Context, hash string, duplicates []string, quality float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[hash]
	if !ok {
		return fmt.Errorf("vector not found: %s", hash)
	}
	entry.DuplicateHashes = append([]string(nil), duplicates...)
	entry.Quality = quality
	return s.put(entry)
}

// SimilarImages finds the k nearest clusters using cosine similarity.
func (s *BoltVectorStore) SimilarImages(ctx context.Context, query []float32, k int) ([]domain.SimilarImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(query))
	}

	hits := make([]domain.SimilarImage, 0, len(s.entries))
	for hash, e := range s.entries {
		hits = append(hits, domain.SimilarImage{
			Index:           s.imagesIndex,
			ID:              hash,
			Score:           domain.CosineScore(query, e.Vector),
			DuplicateHashes: e.DuplicateHashes,
			Quality:         e.Quality,
			HasQuality:      true,
		})
	}
	return domain.TopSimilar(hits, k), nil
}

// Count returns the number of clusters in the store.
func (s *BoltVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
