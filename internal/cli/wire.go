package cli

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/hive-discover/clip-api/config"
	"github.com/hive-discover/clip-api/internal/adapter/cache"
	"github.com/hive-discover/clip-api/internal/adapter/embedding"
	"github.com/hive-discover/clip-api/internal/adapter/fetch"
	"github.com/hive-discover/clip-api/internal/adapter/heartbeat"
	"github.com/hive-discover/clip-api/internal/adapter/memstore"
	"github.com/hive-discover/clip-api/internal/adapter/opensearch"
	"github.com/hive-discover/clip-api/internal/adapter/qdrant"
	"github.com/hive-discover/clip-api/internal/adapter/quality"
	"github.com/hive-discover/clip-api/internal/adapter/resolver"
	"github.com/hive-discover/clip-api/internal/adapter/store"
	"github.com/hive-discover/clip-api/internal/port"
	"github.com/hive-discover/clip-api/internal/usecase"
)

// worker holds the wired pipeline and everything that must be closed.
type worker struct {
	orch     *usecase.Orchestrator
	images   *usecase.ImageProcessor
	embedder port.Embedder
	closers  []func() error
}

func (w *worker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		_ = w.closers[i]()
	}
}

func buildEmbedder(cfg *config.Config) port.Embedder {
	if cfg.Embedding.Provider == "mock" {
		return embedding.NewMockEmbedder(cfg.Embedding.Dimension)
	}
	return embedding.NewCLIPEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Dimension, cfg.Embedding.Timeout, cfg.Embedding.RPS)
}

func buildQuality(cfg *config.Config, log zerolog.Logger) *quality.Adapter {
	var scorer port.QualityScorer
	switch cfg.Quality.Provider {
	case "http":
		scorer = quality.NewHTTPScorer(cfg.Quality.URL, cfg.Quality.Timeout)
	case "laplacian":
		scorer = quality.NewLaplacianScorer()
	}
	return quality.NewAdapter(scorer, cfg.Quality.Sentinel, log)
}

func buildImageProcessor(cfg *config.Config, dedup *usecase.DedupEngine, embedder port.Embedder, log zerolog.Logger) *usecase.ImageProcessor {
	return usecase.NewImageProcessor(
		resolver.New(cfg.Image.HosterPrefix, cfg.Image.MaxWidth, cfg.Image.MaxHeight, cfg.Image.Excludes),
		fetch.NewClient(cfg.Image.FetchTimeout, cfg.Image.FetchRPS, cfg.Image.MaxWidth, cfg.Image.MaxHeight, log),
		embedder,
		buildQuality(cfg, log),
		dedup,
		log,
	)
}

// buildStores opens the document and vector stores selected by cfg. With
// rebuild the local bolt store is cleared before its schema check.
func buildStores(cfg *config.Config, rebuild bool, w *worker, log zerolog.Logger) (port.DocumentStore, port.VectorStore, error) {
	var (
		docs port.DocumentStore
		bolt *store.BoltStore
	)

	openBolt := func() (*store.BoltStore, error) {
		if bolt != nil {
			return bolt, nil
		}
		st, err := store.NewBoltStore(cfg.Store.BoltPath, cfg.Store.PostsIndex, cfg.Store.ImagesIndex, cfg.Store.JobField)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, st.Close)
		if rebuild {
			log.Warn().Str("path", cfg.Store.BoltPath).Msg("clearing local store for rebuild")
			if err := st.Clear(); err != nil {
				return nil, fmt.Errorf("failed to clear local store: %w", err)
			}
		}
		if err := st.EnsureSchema(cfg); err != nil {
			return nil, err
		}
		bolt = st
		return st, nil
	}

	switch cfg.Store.Backend {
	case "opensearch":
		st, err := opensearch.NewStore(opensearch.Options{
			Hosts:       cfg.Store.Hosts,
			PostsIndex:  cfg.Store.PostsIndex,
			ImagesIndex: cfg.Store.ImagesIndex,
			JobField:    cfg.Store.JobField,
			Timeout:     cfg.Store.Timeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		docs = st
	case "bolt":
		st, err := openBolt()
		if err != nil {
			return nil, nil, err
		}
		docs = st
	default:
		docs = memstore.NewMemoryStore(cfg.Store.PostsIndex, cfg.Store.ImagesIndex, cfg.Store.JobField)
	}

	var vectors port.VectorStore
	switch cfg.Vector.Backend {
	case "qdrant":
		vs, err := qdrant.NewStore(qdrant.Options{
			Host:        cfg.Vector.Host,
			Port:        cfg.Vector.Port,
			APIKey:      cfg.Vector.APIKey,
			Collection:  cfg.Vector.Collection,
			Dimension:   cfg.Embedding.Dimension,
			ImagesIndex: cfg.Store.ImagesIndex,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		w.closers = append(w.closers, vs.Close)
		vectors = vs
	case "bolt":
		st, err := openBolt()
		if err != nil {
			return nil, nil, err
		}
		vs, err := store.NewBoltVectorStore(st.DB(), cfg.Embedding.Dimension, cfg.Store.ImagesIndex)
		if err != nil {
			return nil, nil, err
		}
		vectors = vs
	default:
		vectors = memstore.NewMemoryVectorStore(cfg.Store.ImagesIndex)
	}

	return docs, vectors, nil
}

// buildWorker wires the full pipeline.
func buildWorker(cfg *config.Config, rebuild bool, log zerolog.Logger) (*worker, error) {
	w := &worker{}
	docs, vectors, err := buildStores(cfg, rebuild, w, log)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to open stores: %w", err)
	}

	var exists port.ExistenceChecker = docs
	if cfg.Dedup.CacheSize > 0 {
		exists = cache.NewCachedExistence(docs, cache.NewHashCache(cfg.Dedup.CacheSize, time.Hour))
	}
	var searcher port.SimilaritySearcher = docs
	if cfg.Dedup.SearchBackend == "vectorstore" {
		searcher = vectors
	}

	dedup := usecase.NewDedupEngine(exists, searcher, vectors, usecase.DedupOptions{
		ImagesIndex: cfg.Store.ImagesIndex,
		Threshold:   cfg.Dedup.Threshold,
		TopK:        cfg.Dedup.TopK,
		Serialize:   cfg.Dedup.Serialize,
	}, log)

	w.embedder = buildEmbedder(cfg)
	w.images = buildImageProcessor(cfg, dedup, w.embedder, log)

	seed := cfg.Worker.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	w.orch = usecase.NewOrchestrator(
		usecase.NewBatchSelector(docs, cfg.Worker.BatchSize, rand.New(rand.NewSource(seed))),
		w.images,
		dedup,
		usecase.NewAggregator(docs, cfg.Embedding.Dimension, cfg.Quality.Ceiling, cfg.Quality.Sentinel),
		docs,
		heartbeat.NewReporter(cfg.Heartbeat.URL, cfg.Heartbeat.Timeout, log),
		usecase.OrchestratorOptions{
			PoolSize:           cfg.Worker.PoolSize,
			TaskTimeout:        cfg.Worker.TaskTimeout,
			IdleSleep:          cfg.Worker.IdleSleep,
			JobField:           cfg.Store.JobField,
			AbortOnHardFailure: cfg.Worker.AbortOnHardFailure,
			RequireCommitAck:   cfg.Worker.RequireCommitAck,
		},
		log,
	)
	return w, nil
}
