package quality

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog"

	"github.com/hive-discover/clip-api/internal/port"
)

// Adapter wraps a scorer and normalizes every failure to the sentinel.
type Adapter struct {
	scorer   port.QualityScorer
	sentinel float64
	log      zerolog.Logger
}

// NewAdapter creates an adapter. A nil scorer always yields the sentinel.
func NewAdapter(scorer port.QualityScorer, sentinel float64, log zerolog.Logger) *Adapter {
	return &Adapter{scorer: scorer, sentinel: sentinel, log: log}
}

// Score returns the quality score of img, or the sentinel when the scorer
// fails, panics, or returns NaN.
func (a *Adapter) Score(ctx context.Context, img image.Image) (score float64) {
	if a.scorer == nil || img == nil {
		return a.sentinel
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Warn().Err(fmt.Errorf("%v", r)).Msg("quality scorer panicked")
			score = a.sentinel
		}
	}()

	s, err := a.scorer.Score(ctx, img)
	if err != nil {
		a.log.Warn().Err(err).Msg("error while calculating quality score")
		return a.sentinel
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return a.sentinel
	}
	return s
}
