package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hive-discover/clip-api/internal/domain"
)

// CLIPEmbedder talks to the CLIP encoding service.
type CLIPEmbedder struct {
	baseURL   string
	dimension int
	client    *http.Client
	limiter   *rate.Limiter
}

// NewCLIPEmbedder creates a client for the service at baseURL. rps <= 0
// disables rate limiting.
func NewCLIPEmbedder(baseURL string, dimension int, timeout time.Duration, rps float64) *CLIPEmbedder {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &CLIPEmbedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		dimension: dimension,
		client: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}
}

// EmbedImage uploads JPEG bytes to /encode-image-file.
func (e *CLIPEmbedder) EmbedImage(ctx context.Context, jpeg []byte) ([]float32, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/encode-image-file", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return e.do(ctx, req, "/encode-image-file")
}

// EmbedText encodes text via /encode-text. Empty text is rejected locally.
func (e *CLIPEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrNoText
	}

	u := e.baseURL + "/encode-text?" + url.Values{"text": {text}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return e.do(ctx, req, "/encode-text")
}

func (e *CLIPEmbedder) do(ctx context.Context, req *http.Request, endpoint string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", domain.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrEmbedding, err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200]
		}
		return nil, &domain.EmbeddingStatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: bodyPreview}
	}

	var vec []float32
	if err := json.Unmarshal(body, &vec); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", domain.ErrEmbedding, err)
	}
	if len(vec) != e.dimension {
		return nil, fmt.Errorf("%w: expected dimension %d, got %d", domain.ErrEmbedding, e.dimension, len(vec))
	}

	return vec, nil
}

func (e *CLIPEmbedder) Dimension() int {
	return e.dimension
}

// MockEmbedder derives deterministic vectors from the payload bytes. Equal
// payloads embed identically.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) EmbedImage(ctx context.Context, jpeg []byte) ([]float32, error) {
	return e.embed(jpeg), nil
}

func (e *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrNoText
	}
	return e.embed([]byte(text)), nil
}

func (e *MockEmbedder) embed(data []byte) []float32 {
	vec := make([]float32, e.dimension)
	h := fnv.New64a()
	_, _ = h.Write(data)
	seed := h.Sum64()
	for i := range vec {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		vec[i] = float32(seed%2000)/1000.0 - 1
	}
	return vec
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}
