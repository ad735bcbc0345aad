package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hive-discover/clip-api/internal/adapter/memstore"
	"github.com/hive-discover/clip-api/internal/usecase"
)

var encodeTextCmd = &cobra.Command{
	Use:   "encode-text [text]",
	Short: "Print the CLIP embedding of a text",
	Long: `Encode text with the configured embedding service and print the vector
as JSON. Useful to probe the service or to build a text-to-image query.

Example:
  clipworker encode-text "sunset over the mountains"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEncodeText,
}

var encodeImageCmd = &cobra.Command{
	Use:   "encode-image [url]",
	Short: "Resolve, fetch, embed and score a single image",
	Long: `Describe one image without touching any store: print its hash, the fetch
URL through the image hoster, its quality score and its embedding.

Example:
  clipworker encode-image https://files.peakd.com/file/peakd-hive/alice/photo.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runEncodeImage,
}

func init() {
	rootCmd.AddCommand(encodeTextCmd)
	rootCmd.AddCommand(encodeImageCmd)
}

type encodeOutput struct {
	Hash      string    `json:"hash,omitempty"`
	FetchURL  string    `json:"fetch_url,omitempty"`
	Quality   *float64  `json:"brisque_score,omitempty"`
	Dimension int       `json:"dimension"`
	Vector    []float32 `json:"vector"`
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runEncodeText(cmd *cobra.Command, args []string) error {
	embedder := buildEmbedder(cfg)
	vec, err := embedder.EmbedText(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("failed to encode text: %w", err)
	}
	return printJSON(encodeOutput{Dimension: len(vec), Vector: vec})
}

func runEncodeImage(cmd *cobra.Command, args []string) error {
	// Describe never consults the dedup engine, so in-memory stores suffice.
	docs := memstore.NewMemoryStore(cfg.Store.PostsIndex, cfg.Store.ImagesIndex, cfg.Store.JobField)
	dedup := usecase.NewDedupEngine(docs, docs, memstore.NewMemoryVectorStore(cfg.Store.ImagesIndex), usecase.DedupOptions{
		ImagesIndex: cfg.Store.ImagesIndex,
		Threshold:   cfg.Dedup.Threshold,
		TopK:        cfg.Dedup.TopK,
	}, logger)
	images := buildImageProcessor(cfg, dedup, buildEmbedder(cfg), logger)

	img, vec, quality, err := images.Describe(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(encodeOutput{
		Hash:      img.Hash,
		FetchURL:  img.FetchURL,
		Quality:   &quality,
		Dimension: len(vec),
		Vector:    vec,
	})
}
