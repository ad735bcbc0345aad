package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/port"
)

// MemoryStore is an in-memory document store keyed by index and id. It
// applies bulk index/update operations with the same merge semantics as the
// search cluster.
type MemoryStore struct {
	mu          sync.RWMutex
	docs        map[string]map[string]map[string]any
	postsIndex  string
	imagesIndex string
	jobField    string
	bulkCalls   int
	reject      map[string]string
}

var _ port.DocumentStore = (*MemoryStore)(nil)

func NewMemoryStore(postsIndex, imagesIndex, jobField string) *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]map[string]map[string]any),
		postsIndex:  postsIndex,
		imagesIndex: imagesIndex,
		jobField:    jobField,
		reject:      make(map[string]string),
	}
}

// PutPost seeds a post document into the posts index.
func (s *MemoryStore) PutPost(p domain.Post) {
	doc := map[string]any{
		domain.FieldTimestamp: p.Timestamp.Format(domain.TimestampLayout),
		domain.FieldImage:     append([]string(nil), p.Images...),
		domain.FieldJobs:      map[string]any{s.jobField: p.ImagesDescribed},
	}
	index := p.Index
	if index == "" {
		index = s.postsIndex
	}
	s.Put(index, p.ID, doc)
}

// Put stores a raw document.
func (s *MemoryStore) Put(index, id string, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(index)[id] = doc
}

// Doc returns a copy of a stored document.
func (s *MemoryStore) Doc(index, id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[index][id]
	if !ok {
		return nil, false
	}
	return domain.MergeDoc(nil, doc), true
}

// Count returns the number of documents in index.
func (s *MemoryStore) Count(index string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[index])
}

// BulkCalls returns how many bulk requests were applied.
func (s *MemoryStore) BulkCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bulkCalls
}

// RejectKey makes every later bulk item targeting index/id fail.
func (s *MemoryStore) RejectKey(index, id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject[index+"/"+id] = reason
}

// bucket must be called with the write lock held.
func (s *MemoryStore) bucket(index string) map[string]map[string]any {
	b, ok := s.docs[index]
	if !ok {
		b = make(map[string]map[string]any)
		s.docs[index] = b
	}
	return b
}

// postIndexes returns the posts alias plus every monthly post-data index.
func (s *MemoryStore) postIndexes() []string {
	var out []string
	for index := range s.docs {
		if index == s.imagesIndex {
			continue
		}
		out = append(out, index)
	}
	sort.Strings(out)
	return out
}

func (s *MemoryStore) SearchPending(ctx context.Context, offset, size int) (domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []domain.Post
	for _, index := range s.postIndexes() {
		for id, doc := range s.docs[index] {
			post, err := domain.PostFromDoc(index, id, doc, s.jobField)
			if err != nil {
				continue
			}
			if !post.ImagesDescribed {
				pending = append(pending, post)
			}
		}
	}
	return domain.PagePending(pending, offset, size), nil
}

func (s *MemoryStore) ImageExists(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs[s.imagesIndex] {
		if domain.ContainsHash(domain.Strings(doc[domain.FieldImageHash]), hash) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) SimilarImages(ctx context.Context, vector []float32, k int) ([]domain.SimilarImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SimilarImage
	for id, doc := range s.docs[s.imagesIndex] {
		rec := domain.ImageFromDoc(s.imagesIndex, id, doc)
		if len(rec.Vector) == 0 {
			continue
		}
		out = append(out, domain.SimilarImage{
			Index:           s.imagesIndex,
			ID:              id,
			Score:           domain.CosineScore(vector, rec.Vector),
			DuplicateHashes: rec.DuplicateHashes,
			Quality:         rec.Quality,
			HasQuality:      rec.HasQuality,
		})
	}
	return domain.TopSimilar(out, k), nil
}

func (s *MemoryStore) ImagesByHash(ctx context.Context, hashes []string) ([]domain.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ImageRecord
	for id, doc := range s.docs[s.imagesIndex] {
		rec := domain.ImageFromDoc(s.imagesIndex, id, doc)
		for _, h := range hashes {
			if domain.ContainsHash(rec.DuplicateHashes, h) {
				out = append(out, rec)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Bulk(ctx context.Context, mutations []domain.Mutation) (domain.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.BulkResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls++

	result := domain.BulkResult{Items: len(mutations)}
	for _, m := range mutations {
		if reason, ok := s.reject[m.Key()]; ok {
			result.Failed = append(result.Failed, domain.BulkFailure{Index: m.Index, ID: m.ID, Status: 400, Reason: reason})
			continue
		}

		b := s.bucket(m.Index)
		switch m.Op {
		case domain.OpIndex:
			b[m.ID] = domain.MergeDoc(nil, m.Doc)
		case domain.OpUpdate:
			existing, ok := b[m.ID]
			if !ok {
				result.Failed = append(result.Failed, domain.BulkFailure{
					Index: m.Index, ID: m.ID, Status: 404,
					Reason: fmt.Sprintf("document missing: %s", m.Key()),
				})
				continue
			}
			b[m.ID] = domain.MergeDoc(existing, m.Doc)
		default:
			result.Failed = append(result.Failed, domain.BulkFailure{
				Index: m.Index, ID: m.ID, Status: 400,
				Reason: fmt.Sprintf("unsupported operation %q", m.Op),
			})
		}
	}
	return result, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
