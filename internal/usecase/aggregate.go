package usecase

import (
	"context"
	"fmt"

	"github.com/hive-discover/clip-api/internal/adapter/resolver"
	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/port"
)

// Aggregator computes a post's average embedding and quality from the image
// clusters its URLs belong to.
type Aggregator struct {
	store     port.DocumentStore
	dimension int
	ceiling   float64
	sentinel  float64
}

func NewAggregator(store port.DocumentStore, dimension int, ceiling, sentinel float64) *Aggregator {
	return &Aggregator{
		store:     store,
		dimension: dimension,
		ceiling:   ceiling,
		sentinel:  sentinel,
	}
}

// Aggregate returns the post update, or nil when none of the post's images
// has a usable vector.
func (a *Aggregator) Aggregate(ctx context.Context, post domain.Post) (*domain.Mutation, error) {
	hashes := resolver.Hashes(post.Images)
	if len(hashes) == 0 {
		return nil, nil
	}

	records, err := a.store.ImagesByHash(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to load images of post %s: %w", post.ID, err)
	}

	vector, quality := a.average(orderByHashes(records, hashes))
	if vector == nil {
		return nil, nil
	}

	return &domain.Mutation{
		Op:    domain.OpUpdate,
		Index: post.TargetIndex(),
		ID:    post.ID,
		Doc: map[string]any{
			domain.FieldAvgClipVector: vector,
			domain.FieldAvgQuality:    quality,
		},
	}, nil
}

// average folds records with a pairwise running mean: each qualifying value
// is averaged with the running result, so later values weigh more. The
// quality stays at the sentinel when no score is usable.
func (a *Aggregator) average(records []domain.ImageRecord) ([]float32, float64) {
	avg := make([]float64, a.dimension)
	quality := a.sentinel
	haveQuality := false

	for _, rec := range records {
		if len(rec.Vector) == 0 || len(rec.Vector) != a.dimension {
			continue
		}

		if isZero(avg) {
			for i, v := range rec.Vector {
				avg[i] = float64(v)
			}
		} else {
			for i, v := range rec.Vector {
				avg[i] = (avg[i] + float64(v)) / 2
			}
		}

		if !rec.HasQuality || rec.Quality == 0 || rec.Quality > a.ceiling {
			continue
		}
		if !haveQuality {
			quality = rec.Quality
			haveQuality = true
		} else {
			quality = (quality + rec.Quality) / 2
		}
	}

	if isZero(avg) {
		return nil, a.sentinel
	}

	out := make([]float32, len(avg))
	for i, v := range avg {
		out[i] = float32(v)
	}
	return out, quality
}

// orderByHashes returns each record once, in the order its first hash
// appears in the post.
func orderByHashes(records []domain.ImageRecord, hashes []string) []domain.ImageRecord {
	out := make([]domain.ImageRecord, 0, len(records))
	used := make([]bool, len(records))
	for _, h := range hashes {
		for i, rec := range records {
			if !used[i] && domain.ContainsHash(rec.DuplicateHashes, h) {
				used[i] = true
				out = append(out, rec)
			}
		}
	}
	return out
}

func isZero(v []float64) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
