package domain

import (
	"fmt"
	"time"
)

const (
	// EmbeddingDimension is the output size of the CLIP image/text encoder.
	EmbeddingDimension = 512

	// QualitySentinel marks an unknown quality score. It is never used to
	// filter or prefer images.
	QualitySentinel = 1000.0

	// QualityCeiling is the highest quality score still considered usable
	// when averaging a post. Lower scores are better.
	QualityCeiling = 150.0

	// DuplicateThreshold is the knn score (1 + cosine) above which two images
	// belong to the same visual cluster.
	DuplicateThreshold = 1.9

	// TimestampLayout is the layout of post and image timestamps in the store.
	TimestampLayout = "2006-01-02T15:04:05"
)

// Document field names shared by every document store backend.
const (
	FieldImage          = "image"
	FieldClipVector     = "clip_vector"
	FieldImageHash      = "image_hash"
	FieldQuality        = "brisque_score"
	FieldTimestamp      = "timestamp"
	FieldAvgClipVector  = "avg_clip_vector"
	FieldAvgQuality     = "avg_brisque_score"
	FieldJobs           = "jobs"
	DefaultJobField     = "imgs_described"
	DefaultPostsIndex   = "hive-posts"
	DefaultImagesIndex  = "hive-imgs"
	DefaultVectorsClass = "HivePostsImageVectors"
)

// Post is a corpus post whose images are to be described.
type Post struct {
	ID              string
	Index           string
	Timestamp       time.Time
	Images          []string
	ImagesDescribed bool
}

// TargetIndex returns the index the post lives in, falling back to the
// monthly post index derived from its timestamp.
func (p Post) TargetIndex() string {
	if p.Index != "" {
		return p.Index
	}
	return PostIndexName(p.Timestamp)
}

// PostIndexName derives the monthly post-data index for a timestamp.
// Months are zero-based in the index name.
func PostIndexName(ts time.Time) string {
	return fmt.Sprintf("hive-post-data-%d-%d", int(ts.Month())-1, ts.Year())
}

// ImageRecord is one visual cluster in the image index. ID is the content
// hash of the first image that created the cluster.
type ImageRecord struct {
	ID              string
	Index           string
	URL             string
	DuplicateHashes []string
	Quality         float64
	HasQuality      bool
	Vector          []float32
	Timestamp       time.Time
}

// ResolvedImage is the output of the image resolver.
type ResolvedImage struct {
	SourceURL string
	Hash      string
	FetchURL  string
}

// VectorEntry is the vector store representation of a visual cluster.
type VectorEntry struct {
	Hash            string
	Vector          []float32
	DuplicateHashes []string
	Quality         float64
}

// SimilarImage is one nearest-neighbour hit. Score uses the knn cosinesimil
// space, 1 + cosine, so it ranges over [0, 2].
type SimilarImage struct {
	Index           string
	ID              string
	Score           float64
	DuplicateHashes []string
	Quality         float64
	HasQuality      bool
}

// Batch is one page of unprocessed posts plus the backlog size the store
// reported for the query. Total feeds the next cycle's random offset.
type Batch struct {
	Posts []Post
	Total int
}
