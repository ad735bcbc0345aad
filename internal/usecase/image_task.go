package usecase

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/hive-discover/clip-api/internal/adapter/quality"
	"github.com/hive-discover/clip-api/internal/adapter/resolver"
	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/port"
)

// ImageProcessor runs the per-image pipeline: resolve, existence check,
// fetch, embed, score and place into a cluster.
type ImageProcessor struct {
	resolver *resolver.Resolver
	fetcher  port.ImageFetcher
	embedder port.Embedder
	quality  *quality.Adapter
	dedup    *DedupEngine
	log      zerolog.Logger
}

func NewImageProcessor(
	resolver *resolver.Resolver,
	fetcher port.ImageFetcher,
	embedder port.Embedder,
	quality *quality.Adapter,
	dedup *DedupEngine,
	log zerolog.Logger,
) *ImageProcessor {
	return &ImageProcessor{
		resolver: resolver,
		fetcher:  fetcher,
		embedder: embedder,
		quality:  quality,
		dedup:    dedup,
		log:      log,
	}
}

// Process handles one source URL of a post published at ts.
func (p *ImageProcessor) Process(ctx context.Context, url string, ts time.Time) domain.ItemResult {
	img := p.resolver.Resolve(url)
	log := p.log.With().Str("hash", img.Hash).Logger()

	if p.resolver.Excluded(url) {
		return domain.Skipped(img.Hash, domain.OutcomeExcluded)
	}

	known, err := p.dedup.Exists(ctx, img.Hash)
	if err != nil {
		return domain.Failed(img.Hash, err)
	}
	if known {
		return domain.Skipped(img.Hash, domain.OutcomeKnown)
	}

	decoded, err := p.fetcher.Fetch(ctx, img.FetchURL)
	if err != nil {
		return domain.Skipped(img.Hash, domain.OutcomeNoImage)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, decoded, imaging.JPEG); err != nil {
		log.Warn().Err(err).Msg("failed to encode image")
		return domain.Skipped(img.Hash, domain.OutcomeNoImage)
	}

	vector, err := p.embedder.EmbedImage(ctx, buf.Bytes())
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("error while describing image")
		return domain.Failed(img.Hash, fmt.Errorf("embed %s: %w", url, err))
	}

	return p.dedup.Place(ctx, Candidate{
		Hash:      img.Hash,
		URL:       url,
		Vector:    vector,
		Quality:   p.quality.Score(ctx, decoded),
		Timestamp: ts,
	})
}

// Describe embeds and scores one URL without touching any store.
func (p *ImageProcessor) Describe(ctx context.Context, url string) (domain.ResolvedImage, []float32, float64, error) {
	img := p.resolver.Resolve(url)
	decoded, err := p.fetcher.Fetch(ctx, img.FetchURL)
	if err != nil {
		return img, nil, 0, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, decoded, imaging.JPEG); err != nil {
		return img, nil, 0, fmt.Errorf("failed to encode image: %w", err)
	}

	vector, err := p.embedder.EmbedImage(ctx, buf.Bytes())
	if err != nil {
		return img, nil, 0, err
	}
	return img, vector, p.quality.Score(ctx, decoded), nil
}
