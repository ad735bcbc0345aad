package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hive-discover/clip-api/internal/adapter/memstore"
	"github.com/hive-discover/clip-api/internal/adapter/quality"
	"github.com/hive-discover/clip-api/internal/adapter/resolver"
	"github.com/hive-discover/clip-api/internal/domain"
)

const (
	testPrefix = "https://images.test/p"
	testDim    = 4
)

// testImage describes what the fakes return for one source URL. Images are
// told apart by their width, which survives the JPEG round trip.
type testImage struct {
	width    int
	vector   []float32
	quality  float64
	embedErr error
}

type fakeFetcher struct {
	byURL map[string]testImage
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	src, _, _ := strings.Cut(url, "?")
	img, ok := f.byURL[src]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoImage, src)
	}
	rgba := image.NewRGBA(image.Rect(0, 0, img.width, 8))
	for x := 0; x < img.width; x++ {
		for y := 0; y < 8; y++ {
			rgba.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return rgba, nil
}

type fakeEmbedder struct {
	byWidth map[int]testImage
	mu      sync.Mutex
	calls   int
}

func (e *fakeEmbedder) EmbedImage(ctx context.Context, jpeg []byte) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(jpeg))
	if err != nil {
		return nil, err
	}
	img, ok := e.byWidth[cfg.Width]
	if !ok {
		return nil, fmt.Errorf("no vector for width %d", cfg.Width)
	}
	if img.embedErr != nil {
		return nil, img.embedErr
	}
	return img.vector, nil
}

func (e *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (e *fakeEmbedder) Dimension() int {
	return testDim
}

type widthScorer struct {
	byWidth map[int]testImage
}

func (s *widthScorer) Score(ctx context.Context, img image.Image) (float64, error) {
	return s.byWidth[img.Bounds().Dx()].quality, nil
}

type recordingHeartbeat struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (h *recordingHeartbeat) Report(ctx context.Context, elapsed time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, elapsed)
}

// harness wires a complete pipeline over in-memory stores.
type harness struct {
	store     *memstore.MemoryStore
	vectors   *memstore.MemoryVectorStore
	embedder  *fakeEmbedder
	dedup     *DedupEngine
	heartbeat *recordingHeartbeat
	orch      *Orchestrator
}

func imgURL(name string) string {
	return testPrefix + "/" + name
}

func newHarness(images map[string]testImage, opts OrchestratorOptions) *harness {
	byWidth := make(map[int]testImage, len(images))
	for _, img := range images {
		byWidth[img.width] = img
	}

	store := memstore.NewMemoryStore(domain.DefaultPostsIndex, domain.DefaultImagesIndex, domain.DefaultJobField)
	vectors := memstore.NewMemoryVectorStore(domain.DefaultImagesIndex)
	log := zerolog.Nop()

	dedup := NewDedupEngine(store, store, vectors, DedupOptions{
		ImagesIndex: domain.DefaultImagesIndex,
		Threshold:   domain.DuplicateThreshold,
		TopK:        10,
		Serialize:   true,
	}, log)

	embedder := &fakeEmbedder{byWidth: byWidth}
	processor := NewImageProcessor(
		resolver.New(testPrefix, 1024, 1024, []string{"**/*.svg"}),
		&fakeFetcher{byURL: images},
		embedder,
		quality.NewAdapter(&widthScorer{byWidth: byWidth}, domain.QualitySentinel, log),
		dedup,
		log,
	)
	hb := &recordingHeartbeat{}
	if opts.PoolSize == 0 {
		opts.PoolSize = 3
	}
	orch := NewOrchestrator(
		NewBatchSelector(store, 5, rand.New(rand.NewSource(1))),
		processor,
		dedup,
		NewAggregator(store, testDim, domain.QualityCeiling, domain.QualitySentinel),
		store,
		hb,
		opts,
		log,
	)
	return &harness{store: store, vectors: vectors, embedder: embedder, dedup: dedup, heartbeat: hb, orch: orch}
}

func (h *harness) putPost(id string, urls ...string) {
	h.store.PutPost(domain.Post{
		ID:        id,
		Timestamp: time.Date(2023, 3, 4, 10, 0, 0, 0, time.UTC),
		Images:    urls,
	})
}

func (h *harness) postDoc(id string) map[string]any {
	doc, _ := h.store.Doc(domain.DefaultPostsIndex, id)
	return doc
}

func described(doc map[string]any) bool {
	jobs, _ := doc[domain.FieldJobs].(map[string]any)
	v, _ := jobs[domain.DefaultJobField].(bool)
	return v
}
