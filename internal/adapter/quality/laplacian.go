package quality

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

var laplacianKernel = [9]float64{
	0, 1, 0,
	1, -4, 1,
	0, 1, 0,
}

// LaplacianScorer estimates quality from the variance of the Laplacian
// response: blurry or flat images score high, sharp images score low. The
// result lives on the same 0..100 scale as BRISQUE so the usability ceiling
// applies unchanged.
type LaplacianScorer struct{}

func NewLaplacianScorer() *LaplacianScorer {
	return &LaplacianScorer{}
}

func (s *LaplacianScorer) Score(ctx context.Context, img image.Image) (float64, error) {
	b := img.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return math.NaN(), nil
	}

	edges := imaging.Convolve3x3(imaging.Grayscale(img), laplacianKernel, nil)

	var sum, sumSq float64
	n := float64(len(edges.Pix) / 4)
	for i := 0; i < len(edges.Pix); i += 4 {
		v := float64(edges.Pix[i])
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}

	return 100 / (1 + math.Sqrt(variance)/10), nil
}
