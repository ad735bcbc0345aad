package port

import "context"

// Embedder generates CLIP embeddings for images and text.
type Embedder interface {
	// EmbedImage encodes JPEG bytes into a vector.
	EmbedImage(ctx context.Context, jpeg []byte) ([]float32, error)

	// EmbedText encodes UTF-8 text into a vector in the same space.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int
}
