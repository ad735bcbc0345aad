package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoImage is returned when an image could not be downloaded or decoded.
	ErrNoImage = errors.New("no image")

	// ErrEmbedding marks any failure of the embedding service. It is a hard
	// failure for the item that triggered it.
	ErrEmbedding = errors.New("embedding service failure")

	// ErrNoText is returned when a text encode is requested without text.
	ErrNoText = errors.New("no text provided")
)

// EmbeddingStatusError is returned when the embedding service answers with a
// non-success status.
type EmbeddingStatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *EmbeddingStatusError) Error() string {
	return fmt.Sprintf("embedding service %s returned unhealthy status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *EmbeddingStatusError) Unwrap() error {
	return ErrEmbedding
}
