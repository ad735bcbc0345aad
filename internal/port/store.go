package port

import (
	"context"

	"github.com/hive-discover/clip-api/internal/domain"
)

// ExistenceChecker reports whether a content hash is already part of any
// visual cluster.
type ExistenceChecker interface {
	ImageExists(ctx context.Context, hash string) (bool, error)
}

// SimilaritySearcher finds the nearest stored image clusters to a vector.
type SimilaritySearcher interface {
	SimilarImages(ctx context.Context, vector []float32, k int) ([]domain.SimilarImage, error)
}

// DocumentStore is the search/bulk API over post and image documents.
type DocumentStore interface {
	ExistenceChecker
	SimilaritySearcher

	// SearchPending returns up to size posts whose images are not yet
	// described, newest first, starting at offset.
	SearchPending(ctx context.Context, offset, size int) (domain.Batch, error)

	// ImagesByHash returns the image clusters containing any of hashes.
	ImagesByHash(ctx context.Context, hashes []string) ([]domain.ImageRecord, error)

	// Bulk applies mutations in order as one request.
	Bulk(ctx context.Context, mutations []domain.Mutation) (domain.BulkResult, error)
}

// VectorStore holds one entry per visual cluster.
type VectorStore interface {
	SimilaritySearcher

	// Create stores a new cluster and returns its generated identifier.
	Create(ctx context.Context, entry domain.VectorEntry) (string, error)

	// UpdatePayload replaces the duplicate set and quality of the cluster
	// created for hash.
	UpdatePayload(ctx context.Context, hash string, duplicates []string, quality float64) error
}
