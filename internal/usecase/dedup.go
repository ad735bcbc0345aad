package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/port"
)

// Candidate is a freshly embedded image waiting for a dedup decision.
type Candidate struct {
	Hash      string
	URL       string
	Vector    []float32
	Quality   float64
	Timestamp time.Time
}

// DedupOptions configures the dedup engine.
type DedupOptions struct {
	ImagesIndex string
	Threshold   float64
	TopK        int
	// Serialize runs one placement at a time so concurrent duplicates in
	// the same cycle land in one cluster.
	Serialize bool
}

// pendingCluster is a cluster inserted this cycle whose document has not
// been flushed yet. doc is the payload of the insert mutation and is
// updated in place when later candidates merge into it.
type pendingCluster struct {
	hash   string
	vector []float32
	doc    map[string]any
}

// touchedCluster is a stored cluster already merged into this cycle. doc is
// shared by every update mutation emitted for it, so the last state wins no
// matter in which order the mutations are flushed.
type touchedCluster struct {
	doc map[string]any
}

// DedupEngine decides whether an embedded image starts a new visual cluster
// or joins existing ones.
type DedupEngine struct {
	exists   port.ExistenceChecker
	searcher port.SimilaritySearcher
	vectors  port.VectorStore
	opts     DedupOptions
	log      zerolog.Logger

	placeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingCluster
	order   []string
	touched map[string]*touchedCluster
}

func NewDedupEngine(
	exists port.ExistenceChecker,
	searcher port.SimilaritySearcher,
	vectors port.VectorStore,
	opts DedupOptions,
	log zerolog.Logger,
) *DedupEngine {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	return &DedupEngine{
		exists:   exists,
		searcher: searcher,
		vectors:  vectors,
		opts:     opts,
		log:      log,
		pending:  make(map[string]*pendingCluster),
		touched:  make(map[string]*touchedCluster),
	}
}

// ResetCycle forgets clusters tracked for the previous cycle.
func (e *DedupEngine) ResetCycle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = make(map[string]*pendingCluster)
	e.order = nil
	e.touched = make(map[string]*touchedCluster)
}

// Exists reports whether hash already belongs to a stored cluster or one
// written this cycle.
func (e *DedupEngine) Exists(ctx context.Context, hash string) (bool, error) {
	if e.pendingHas(hash) {
		return true, nil
	}
	ok, err := e.exists.ImageExists(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("existence check for %s failed: %w", hash, err)
	}
	return ok, nil
}

// Committed records hashes whose cluster documents were acknowledged by the
// store, so later existence checks can skip the store.
func (e *DedupEngine) Committed(hashes ...string) {
	if r, ok := e.exists.(interface{ Remember(...string) }); ok {
		r.Remember(hashes...)
	}
}

func (e *DedupEngine) pendingHas(hash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.pending {
		if domain.ContainsHash(domain.Strings(c.doc[domain.FieldImageHash]), hash) {
			return true
		}
	}
	for _, c := range e.touched {
		if domain.ContainsHash(domain.Strings(c.doc[domain.FieldImageHash]), hash) {
			return true
		}
	}
	return false
}

// Process runs the full decision: existence check, duplicate search, then
// merge or insert.
func (e *DedupEngine) Process(ctx context.Context, c Candidate) domain.ItemResult {
	known, err := e.Exists(ctx, c.Hash)
	if err != nil {
		return domain.Failed(c.Hash, err)
	}
	if known {
		return domain.Skipped(c.Hash, domain.OutcomeKnown)
	}
	return e.Place(ctx, c)
}

// Place merges c into every cluster scoring above the threshold, or creates
// a new cluster when none does. The caller has already checked existence
// against the store.
func (e *DedupEngine) Place(ctx context.Context, c Candidate) domain.ItemResult {
	if e.opts.Serialize {
		e.placeMu.Lock()
		defer e.placeMu.Unlock()
	}

	if e.pendingHas(c.Hash) {
		return domain.Skipped(c.Hash, domain.OutcomeKnown)
	}

	hits, err := e.searcher.SimilarImages(ctx, c.Vector, e.opts.TopK)
	if err != nil {
		return domain.Failed(c.Hash, fmt.Errorf("duplicate search failed: %w", err))
	}

	var muts []domain.Mutation
	merged := 0

	for _, hit := range hits {
		if hit.Score <= e.opts.Threshold || e.isPending(hit.ID) {
			continue
		}
		doc, hashes, quality := e.mergeStored(hit, c)
		muts = append(muts, domain.Mutation{
			Op:    domain.OpUpdate,
			Index: hit.Index,
			ID:    hit.ID,
			Doc:   doc,
		})
		e.updateVector(ctx, hit.ID, hashes, quality)
		merged++
	}

	depends := e.mergePending(ctx, c)
	merged += len(depends)

	if merged > 0 {
		res := domain.Succeeded(c.Hash, domain.OutcomeMerged, muts)
		res.Depends = depends
		return res
	}
	return e.insert(ctx, c)
}

// mergeStored folds c into a stored cluster. The first merge of a cycle
// starts from the search hit; later ones continue from what this cycle has
// already accumulated, since the store does not see it before the flush.
func (e *DedupEngine) mergeStored(hit domain.SimilarImage, c Candidate) (map[string]any, []string, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.touched[hit.ID]
	if !ok {
		prior := domain.QualitySentinel
		if hit.HasQuality {
			prior = hit.Quality
		}
		t = &touchedCluster{doc: map[string]any{
			domain.FieldImageHash: append([]string(nil), hit.DuplicateHashes...),
			domain.FieldQuality:   prior,
		}}
		e.touched[hit.ID] = t
	}

	prior, _ := domain.Float(t.doc[domain.FieldQuality])
	quality := mergeQuality(prior, c.Quality)
	hashes := domain.UnionHashes(domain.Strings(t.doc[domain.FieldImageHash]), c.Hash)
	t.doc[domain.FieldImageHash] = hashes
	t.doc[domain.FieldQuality] = quality
	return t.doc, hashes, quality
}

func (e *DedupEngine) isPending(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[id]
	return ok
}

// mergePending merges c into unflushed clusters of this cycle that the
// store cannot return yet. It returns the keys of their insert mutations.
func (e *DedupEngine) mergePending(ctx context.Context, c Candidate) []string {
	type update struct {
		id      string
		hashes  []string
		quality float64
	}
	var updates []update

	e.mu.Lock()
	for _, id := range e.order {
		p := e.pending[id]
		if domain.CosineScore(c.Vector, p.vector) <= e.opts.Threshold {
			continue
		}
		prior, ok := domain.Float(p.doc[domain.FieldQuality])
		if !ok {
			prior = domain.QualitySentinel
		}
		quality := mergeQuality(prior, c.Quality)
		hashes := domain.UnionHashes(domain.Strings(p.doc[domain.FieldImageHash]), c.Hash)
		p.doc[domain.FieldImageHash] = hashes
		p.doc[domain.FieldQuality] = quality
		updates = append(updates, update{id: id, hashes: hashes, quality: quality})
	}
	e.mu.Unlock()

	keys := make([]string, 0, len(updates))
	for _, u := range updates {
		e.updateVector(ctx, u.id, u.hashes, u.quality)
		keys = append(keys, domain.Mutation{Index: e.opts.ImagesIndex, ID: u.id}.Key())
	}
	return keys
}

func (e *DedupEngine) insert(ctx context.Context, c Candidate) domain.ItemResult {
	hashes := []string{c.Hash}
	if _, err := e.vectors.Create(ctx, domain.VectorEntry{
		Hash:            c.Hash,
		Vector:          c.Vector,
		DuplicateHashes: hashes,
		Quality:         c.Quality,
	}); err != nil {
		return domain.Failed(c.Hash, fmt.Errorf("failed to create vector entry: %w", err))
	}

	doc := map[string]any{
		domain.FieldImage:      c.URL,
		domain.FieldClipVector: c.Vector,
		domain.FieldImageHash:  hashes,
		domain.FieldQuality:    c.Quality,
		domain.FieldTimestamp:  c.Timestamp.Format(domain.TimestampLayout),
	}

	e.mu.Lock()
	e.pending[c.Hash] = &pendingCluster{hash: c.Hash, vector: c.Vector, doc: doc}
	e.order = append(e.order, c.Hash)
	e.mu.Unlock()

	return domain.Succeeded(c.Hash, domain.OutcomeInserted, []domain.Mutation{{
		Op:    domain.OpIndex,
		Index: e.opts.ImagesIndex,
		ID:    c.Hash,
		Doc:   doc,
	}})
}

// updateVector mirrors a merge into the vector store. The document store
// stays authoritative, so a failure here is logged and not fatal.
func (e *DedupEngine) updateVector(ctx context.Context, id string, hashes []string, quality float64) {
	if err := e.vectors.UpdatePayload(ctx, id, hashes, quality); err != nil {
		e.log.Warn().Err(err).Str("cluster", id).Msg("failed to update vector payload")
	}
}

// mergeQuality keeps the lower score, ignoring NaN on either side.
func mergeQuality(prior, candidate float64) float64 {
	switch {
	case math.IsNaN(prior):
		return candidate
	case math.IsNaN(candidate):
		return prior
	default:
		return math.Min(prior, candidate)
	}
}
