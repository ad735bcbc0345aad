package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/hive-discover/clip-api/internal/domain"
)

func newStore() *MemoryStore {
	return NewMemoryStore(domain.DefaultPostsIndex, domain.DefaultImagesIndex, domain.DefaultJobField)
}

func TestSearchPendingSkipsDescribedPosts(t *testing.T) {
	s := newStore()
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	s.PutPost(domain.Post{ID: "old", Timestamp: base, Images: []string{"a"}})
	s.PutPost(domain.Post{ID: "new", Timestamp: base.Add(time.Hour), Images: []string{"b"}})
	s.PutPost(domain.Post{ID: "done", Timestamp: base.Add(2 * time.Hour), ImagesDescribed: true})

	batch, err := s.SearchPending(context.Background(), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Total != 2 {
		t.Errorf("expected 2 pending posts, got %d", batch.Total)
	}
	if len(batch.Posts) != 2 || batch.Posts[0].ID != "new" {
		t.Errorf("expected newest first, got %+v", batch.Posts)
	}

	batch, _ = s.SearchPending(context.Background(), 1, 10)
	if len(batch.Posts) != 1 || batch.Posts[0].ID != "old" {
		t.Errorf("expected offset to skip newest, got %+v", batch.Posts)
	}
}

func TestBulkIndexAndUpdate(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	res, err := s.Bulk(ctx, []domain.Mutation{
		{Op: domain.OpIndex, Index: domain.DefaultImagesIndex, ID: "h1", Doc: map[string]any{
			domain.FieldImageHash:  []string{"h1"},
			domain.FieldClipVector: []float32{1, 0},
		}},
		{Op: domain.OpUpdate, Index: domain.DefaultImagesIndex, ID: "h1", Doc: map[string]any{
			domain.FieldImageHash: []string{"h1", "h2"},
		}},
		{Op: domain.OpUpdate, Index: domain.DefaultImagesIndex, ID: "missing", Doc: map[string]any{}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || !res.Rejected(domain.DefaultImagesIndex+"/missing") {
		t.Errorf("expected update of missing doc to fail, got %+v", res.Failed)
	}

	exists, _ := s.ImageExists(ctx, "h2")
	if !exists {
		t.Error("expected merged hash to exist")
	}
	recs, _ := s.ImagesByHash(ctx, []string{"h2"})
	if len(recs) != 1 || len(recs[0].Vector) != 2 {
		t.Errorf("expected vector to survive partial update, got %+v", recs)
	}
}

func TestRejectKey(t *testing.T) {
	s := newStore()
	s.RejectKey("idx", "p1", "mapping conflict")
	res, _ := s.Bulk(context.Background(), []domain.Mutation{{Op: domain.OpIndex, Index: "idx", ID: "p1"}})
	if !res.Rejected("idx/p1") {
		t.Error("expected rejection")
	}
	if s.Count("idx") != 0 {
		t.Error("expected rejected doc not to be stored")
	}
}

func TestMemoryVectorStore(t *testing.T) {
	v := NewMemoryVectorStore(domain.DefaultImagesIndex)
	ctx := context.Background()
	_, _ = v.Create(ctx, domain.VectorEntry{Hash: "h1", Vector: []float32{1, 0}, DuplicateHashes: []string{"h1"}, Quality: 20})
	_, _ = v.Create(ctx, domain.VectorEntry{Hash: "h2", Vector: []float32{0, 1}, DuplicateHashes: []string{"h2"}, Quality: 30})

	sims, _ := v.SimilarImages(ctx, []float32{1, 0.1}, 1)
	if len(sims) != 1 || sims[0].ID != "h1" || sims[0].Score <= 1.9 {
		t.Errorf("unexpected nearest neighbour %+v", sims)
	}

	_ = v.UpdatePayload(ctx, "h1", []string{"h1", "h3"}, 5)
	e, _ := v.Entry("h1")
	if len(e.DuplicateHashes) != 2 || e.Quality != 5 {
		t.Errorf("unexpected entry after update %+v", e)
	}
}
