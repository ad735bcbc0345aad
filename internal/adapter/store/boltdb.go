package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/hive-discover/clip-api/internal/domain"
	"github.com/hive-discover/clip-api/internal/port"
)

const indexBucketPrefix = "idx:"

var (
	bucketMeta = []byte("meta")
)

// BoltStore is a single-file document store for local runs. Every index is
// a bucket of JSON documents keyed by id.
type BoltStore struct {
	db          *bbolt.DB
	postsIndex  string
	imagesIndex string
	jobField    string
}

var _ port.DocumentStore = (*BoltStore)(nil)

func NewBoltStore(path, postsIndex, imagesIndex, jobField string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketMeta, indexBucket(postsIndex), indexBucket(imagesIndex)}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, postsIndex: postsIndex, imagesIndex: imagesIndex, jobField: jobField}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexBucket(index string) []byte {
	return []byte(indexBucketPrefix + index)
}

func decodeDoc(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// PutDoc stores a raw document, creating its index bucket when needed.
func (s *BoltStore) PutDoc(index, id string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(indexBucket(index))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

// GetDoc returns a stored document.
func (s *BoltStore) GetDoc(index, id string) (map[string]any, error) {
	var doc map[string]any
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucket(index))
		if b == nil {
			return fmt.Errorf("document not found: %s/%s", index, id)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document not found: %s/%s", index, id)
		}
		var err error
		doc, err = decodeDoc(data)
		return err
	})
	return doc, err
}

// forEachImage walks the images index, skipping corrupted entries.
func (s *BoltStore) forEachImage(tx *bbolt.Tx, fn func(rec domain.ImageRecord) bool) {
	b := tx.Bucket(indexBucket(s.imagesIndex))
	if b == nil {
		return
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		doc, err := decodeDoc(v)
		if err != nil {
			continue
		}
		if !fn(domain.ImageFromDoc(s.imagesIndex, string(k), doc)) {
			return
		}
	}
}

func (s *BoltStore) SearchPending(ctx context.Context, offset, size int) (domain.Batch, error) {
	var pending []domain.Post
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			index, ok := strings.CutPrefix(string(name), indexBucketPrefix)
			if !ok || index == s.imagesIndex {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				doc, err := decodeDoc(v)
				if err != nil {
					return nil
				}
				post, err := domain.PostFromDoc(index, string(k), doc, s.jobField)
				if err != nil || post.ImagesDescribed {
					return nil
				}
				pending = append(pending, post)
				return nil
			})
		})
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to scan posts: %w", err)
	}
	return domain.PagePending(pending, offset, size), nil
}

func (s *BoltStore) ImageExists(ctx context.Context, hash string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		s.forEachImage(tx, func(rec domain.ImageRecord) bool {
			found = domain.ContainsHash(rec.DuplicateHashes, hash)
			return !found
		})
		return nil
	})
	return found, err
}

func (s *BoltStore) SimilarImages(ctx context.Context, vector []float32, k int) ([]domain.SimilarImage, error) {
	var hits []domain.SimilarImage
	err := s.db.View(func(tx *bbolt.Tx) error {
		s.forEachImage(tx, func(rec domain.ImageRecord) bool {
			if len(rec.Vector) == 0 {
				return true
			}
			hits = append(hits, domain.SimilarImage{
				Index:           rec.Index,
				ID:              rec.ID,
				Score:           domain.CosineScore(vector, rec.Vector),
				DuplicateHashes: rec.DuplicateHashes,
				Quality:         rec.Quality,
				HasQuality:      rec.HasQuality,
			})
			return true
		})
		return nil
	})
	return domain.TopSimilar(hits, k), err
}

func (s *BoltStore) ImagesByHash(ctx context.Context, hashes []string) ([]domain.ImageRecord, error) {
	var out []domain.ImageRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		s.forEachImage(tx, func(rec domain.ImageRecord) bool {
			for _, h := range hashes {
				if domain.ContainsHash(rec.DuplicateHashes, h) {
					out = append(out, rec)
					break
				}
			}
			return true
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// Bulk applies all mutations in one transaction. Item failures are reported
// per mutation and do not roll back the others.
func (s *BoltStore) Bulk(ctx context.Context, mutations []domain.Mutation) (domain.BulkResult, error) {
	result := domain.BulkResult{Items: len(mutations)}
	if len(mutations) == 0 {
		return result, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, m := range mutations {
			if err := applyMutation(tx, m); err != nil {
				result.Failed = append(result.Failed, domain.BulkFailure{
					Index: m.Index, ID: m.ID, Status: err.status, Reason: err.reason,
				})
			}
		}
		return nil
	})
	if err != nil {
		return domain.BulkResult{}, fmt.Errorf("bulk transaction failed: %w", err)
	}
	return result, nil
}

type itemError struct {
	status int
	reason string
}

func applyMutation(tx *bbolt.Tx, m domain.Mutation) *itemError {
	b, err := tx.CreateBucketIfNotExists(indexBucket(m.Index))
	if err != nil {
		return &itemError{status: 500, reason: err.Error()}
	}

	var doc map[string]any
	switch m.Op {
	case domain.OpIndex:
		doc = m.Doc
	case domain.OpUpdate:
		data := b.Get([]byte(m.ID))
		if data == nil {
			return &itemError{status: 404, reason: "document missing: " + m.Key()}
		}
		existing, err := decodeDoc(data)
		if err != nil {
			return &itemError{status: 500, reason: err.Error()}
		}
		doc = domain.MergeDoc(existing, m.Doc)
	default:
		return &itemError{status: 400, reason: fmt.Sprintf("unsupported operation %q", m.Op)}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return &itemError{status: 400, reason: err.Error()}
	}
	if err := b.Put([]byte(m.ID), data); err != nil {
		return &itemError{status: 500, reason: err.Error()}
	}
	return nil
}
