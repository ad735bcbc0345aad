package fetch

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hive-discover/clip-api/internal/domain"
)

// maxBodyBytes bounds a single image download.
const maxBodyBytes = 32 << 20

// Client downloads and decodes images from the image service.
type Client struct {
	client    *http.Client
	limiter   *rate.Limiter
	maxWidth  int
	maxHeight int
	log       zerolog.Logger
}

// NewClient creates a fetch client. rps <= 0 disables rate limiting.
func NewClient(timeout time.Duration, rps float64, maxWidth, maxHeight int, log zerolog.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &Client{
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		log:       log,
	}
}

// Fetch downloads and decodes url. Every failure is logged and returned
// wrapped in domain.ErrNoImage so callers can skip the item.
func (c *Client) Fetch(ctx context.Context, url string) (image.Image, error) {
	img, err := c.fetch(ctx, url)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("error while downloading image")
		return nil, fmt.Errorf("%w: %v", domain.ErrNoImage, err)
	}
	return img, nil
}

func (c *Client) fetch(ctx context.Context, url string) (image.Image, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image service returned status %d", resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxBodyBytes), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	// The image service only downscales hosted URLs it rewrote; keep the
	// encoder input bounded either way.
	b := img.Bounds()
	if c.maxWidth > 0 && c.maxHeight > 0 && (b.Dx() > c.maxWidth || b.Dy() > c.maxHeight) {
		img = imaging.Fit(img, c.maxWidth, c.maxHeight, imaging.Lanczos)
	}
	return img, nil
}
