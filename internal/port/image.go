package port

import (
	"context"
	"image"
)

// ImageFetcher downloads and decodes an image. Failures wrap domain.ErrNoImage.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (image.Image, error)
}

// QualityScorer computes a no-reference image quality score (lower is better).
type QualityScorer interface {
	Score(ctx context.Context, img image.Image) (float64, error)
}
