package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
)

// HTTPScorer posts a JPEG to an external BRISQUE service and reads
// {"score": <float>} back.
type HTTPScorer struct {
	url    string
	client *http.Client
}

func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPScorer) Score(ctx context.Context, img image.Image) (float64, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return 0, fmt.Errorf("failed to encode image: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &buf)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quality service returned status %d", resp.StatusCode)
	}

	var out struct {
		Score *float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("quality service returned no score")
	}
	return *out.Score, nil
}
