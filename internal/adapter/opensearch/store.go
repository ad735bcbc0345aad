package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/rs/zerolog"

	"github.com/hive-discover/clip-api/internal/domain"
)

// Options configures the OpenSearch document store.
type Options struct {
	Hosts       []string
	PostsIndex  string
	ImagesIndex string
	JobField    string
	// Timeout bounds the wait for response headers when Transport is nil.
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Store implements port.DocumentStore over the OpenSearch search and bulk APIs.
type Store struct {
	client      *opensearch.Client
	postsIndex  string
	imagesIndex string
	jobField    string
	log         zerolog.Logger
}

// NewStore creates a client for the given hosts. No request is made until
// the first search.
func NewStore(opts Options, log zerolog.Logger) (*Store, error) {
	transport := opts.Transport
	if transport == nil && opts.Timeout > 0 {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = opts.Timeout
		transport = t
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: opts.Hosts,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return &Store{
		client:      client,
		postsIndex:  opts.PostsIndex,
		imagesIndex: opts.ImagesIndex,
		jobField:    opts.JobField,
		log:         log,
	}, nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

type searchHit struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source"`
}

// SearchPending returns posts whose job flag is not set, newest first.
func (s *Store) SearchPending(ctx context.Context, offset, size int) (domain.Batch, error) {
	query := map[string]any{
		"size":             size,
		"from":             offset,
		"track_total_hits": true,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{"nested": map[string]any{
						"path": domain.FieldJobs,
						"query": map[string]any{"bool": map[string]any{
							"must_not": []any{
								map[string]any{"term": map[string]any{domain.FieldJobs + "." + s.jobField: true}},
							},
						}},
					}},
				},
			},
		},
		"_source": map[string]any{"includes": []string{domain.FieldTimestamp, domain.FieldImage}},
		"sort":    []any{map[string]any{domain.FieldTimestamp: map[string]any{"order": "desc"}}},
	}

	res, err := s.search(ctx, s.postsIndex, query)
	if err != nil {
		return domain.Batch{}, err
	}

	batch := domain.Batch{Total: res.Hits.Total.Value}
	for _, hit := range res.Hits.Hits {
		post, err := domain.PostFromDoc(hit.Index, hit.ID, hit.Source, s.jobField)
		if err != nil {
			s.log.Warn().Err(err).Str("post", hit.ID).Msg("skipping post with malformed document")
			continue
		}
		batch.Posts = append(batch.Posts, post)
	}
	return batch, nil
}

// ImageExists reports whether any image cluster lists hash.
func (s *Store) ImageExists(ctx context.Context, hash string) (bool, error) {
	query := map[string]any{
		"size": 1,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{map[string]any{"term": map[string]any{domain.FieldImageHash: hash}}},
			},
		},
		"_source": false,
	}
	res, err := s.search(ctx, s.imagesIndex, query)
	if err != nil {
		return false, err
	}
	return res.Hits.Total.Value > 0 || len(res.Hits.Hits) > 0, nil
}

// SimilarImages runs an exact knn script score over the image index.
func (s *Store) SimilarImages(ctx context.Context, vector []float32, k int) ([]domain.SimilarImage, error) {
	query := map[string]any{
		"size": k,
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"match_all": map[string]any{}},
				"script": map[string]any{
					"source": "knn_score",
					"lang":   "knn",
					"params": map[string]any{
						"field":       domain.FieldClipVector,
						"query_value": vector,
						"space_type":  "cosinesimil",
					},
				},
			},
		},
		"_source": map[string]any{"includes": []string{domain.FieldImageHash, domain.FieldQuality}},
	}

	res, err := s.search(ctx, s.imagesIndex, query)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SimilarImage, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		sim := domain.SimilarImage{
			Index:           hit.Index,
			ID:              hit.ID,
			Score:           hit.Score,
			DuplicateHashes: domain.Strings(hit.Source[domain.FieldImageHash]),
		}
		sim.Quality, sim.HasQuality = domain.Float(hit.Source[domain.FieldQuality])
		out = append(out, sim)
	}
	return out, nil
}

// ImagesByHash returns the clusters containing any of hashes.
func (s *Store) ImagesByHash(ctx context.Context, hashes []string) ([]domain.ImageRecord, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	query := map[string]any{
		"size":  len(hashes),
		"query": map[string]any{"terms": map[string]any{domain.FieldImageHash: hashes}},
		"_source": map[string]any{"includes": []string{
			domain.FieldImageHash, domain.FieldClipVector, domain.FieldQuality,
		}},
	}

	res, err := s.search(ctx, s.imagesIndex, query)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ImageRecord, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		out = append(out, domain.ImageFromDoc(hit.Index, hit.ID, hit.Source))
	}
	return out, nil
}

func (s *Store) search(ctx context.Context, index string, query map[string]any) (*searchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	resp, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s failed: %w", index, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, fmt.Errorf("search %s failed: %w", index, err)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return &out, nil
}

func checkResponse(resp *opensearchapi.Response) error {
	if !resp.IsError() {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}
