package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hive-discover/clip-api/config"
	"github.com/hive-discover/clip-api/internal/domain"
)

func openStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"),
		domain.DefaultPostsIndex, domain.DefaultImagesIndex, domain.DefaultJobField)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStorePendingAndMark(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	put := func(id string, ts time.Time, described bool) {
		err := s.PutDoc(domain.DefaultPostsIndex, id, map[string]any{
			domain.FieldTimestamp: ts.Format(domain.TimestampLayout),
			domain.FieldImage:     []string{"https://a/" + id + ".jpg"},
			domain.FieldJobs:      map[string]any{domain.DefaultJobField: described},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	put("p1", base, false)
	put("p2", base.Add(time.Minute), false)
	put("p3", base, true)

	batch, err := s.SearchPending(ctx, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Total != 2 || batch.Posts[0].ID != "p2" {
		t.Fatalf("unexpected batch %+v", batch)
	}

	_, err = s.Bulk(ctx, []domain.Mutation{{
		Op: domain.OpUpdate, Index: domain.DefaultPostsIndex, ID: "p2",
		Doc: map[string]any{domain.FieldJobs: map[string]any{domain.DefaultJobField: true}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	batch, _ = s.SearchPending(ctx, 0, 5)
	if batch.Total != 1 || batch.Posts[0].ID != "p1" {
		t.Errorf("expected only p1 pending after mark, got %+v", batch)
	}
	doc, _ := s.GetDoc(domain.DefaultPostsIndex, "p2")
	if doc[domain.FieldImage] == nil {
		t.Error("expected partial update to keep image field")
	}
}

func TestBoltStoreImages(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	res, err := s.Bulk(ctx, []domain.Mutation{
		{Op: domain.OpIndex, Index: domain.DefaultImagesIndex, ID: "h1", Doc: map[string]any{
			domain.FieldImageHash:  []string{"h1", "h2"},
			domain.FieldClipVector: []float32{1, 0, 0},
			domain.FieldQuality:    25.0,
		}},
		{Op: domain.OpUpdate, Index: domain.DefaultImagesIndex, ID: "nope", Doc: map[string]any{}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || res.Failed[0].Status != 404 {
		t.Errorf("expected one 404 failure, got %+v", res.Failed)
	}

	if ok, _ := s.ImageExists(ctx, "h2"); !ok {
		t.Error("expected h2 to exist")
	}
	if ok, _ := s.ImageExists(ctx, "h3"); ok {
		t.Error("expected h3 to be absent")
	}

	sims, _ := s.SimilarImages(ctx, []float32{1, 0, 0}, 10)
	if len(sims) != 1 || sims[0].Score != 2 || sims[0].Quality != 25 {
		t.Errorf("unexpected similarity hits %+v", sims)
	}

	recs, _ := s.ImagesByHash(ctx, []string{"h2"})
	if len(recs) != 1 || len(recs[0].Vector) != 3 {
		t.Errorf("expected vector after JSON round trip, got %+v", recs)
	}
}

func TestBoltVectorStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.db")
	s, err := NewBoltStore(path, domain.DefaultPostsIndex, domain.DefaultImagesIndex, domain.DefaultJobField)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	vs, err := NewBoltVectorStore(s.DB(), 2, domain.DefaultImagesIndex)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vs.Create(ctx, domain.VectorEntry{Hash: "h1", Vector: []float32{1, 0}, DuplicateHashes: []string{"h1"}, Quality: 9}); err != nil {
		t.Fatal(err)
	}
	if _, err := vs.Create(ctx, domain.VectorEntry{Hash: "bad", Vector: []float32{1}}); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if err := vs.UpdatePayload(ctx, "h1", []string{"h1", "h2"}, 4); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewBoltStore(path, domain.DefaultPostsIndex, domain.DefaultImagesIndex, domain.DefaultJobField)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	vs, err = NewBoltVectorStore(s.DB(), 2, domain.DefaultImagesIndex)
	if err != nil {
		t.Fatal(err)
	}
	sims, _ := vs.SimilarImages(ctx, []float32{1, 0}, 1)
	if len(sims) != 1 || len(sims[0].DuplicateHashes) != 2 || sims[0].Quality != 4 {
		t.Errorf("expected reloaded payload, got %+v", sims)
	}
}

func TestEnsureSchema(t *testing.T) {
	s := openStore(t)
	cfg := config.DefaultConfig()

	if err := s.EnsureSchema(cfg); err != nil {
		t.Fatalf("expected fresh store to initialize, got %v", err)
	}
	info, _ := s.GetSchemaInfo()
	if info.Version != CurrentSchemaVersion || info.ConfigHash == "" {
		t.Errorf("unexpected schema info %+v", info)
	}
	if err := s.EnsureSchema(cfg); err != nil {
		t.Errorf("expected matching config to pass, got %v", err)
	}

	cfg.Embedding.Dimension = 768
	if err := s.EnsureSchema(cfg); err == nil {
		t.Error("expected dimension change to require a rebuild")
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureSchema(cfg); err != nil {
		t.Errorf("expected cleared store to accept new config, got %v", err)
	}
}

func TestClearResetsForRebuild(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()
	if err := s.EnsureSchema(cfg); err != nil {
		t.Fatal(err)
	}

	err := s.PutDoc(domain.DefaultPostsIndex, "p1", map[string]any{
		domain.FieldTimestamp:     "2023-01-01T00:00:00",
		domain.FieldImage:         []string{"https://a/1.jpg"},
		domain.FieldAvgClipVector: []float32{1, 0},
		domain.FieldAvgQuality:    12.0,
		domain.FieldJobs:          map[string]any{domain.DefaultJobField: true, "lang": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutDoc(domain.DefaultImagesIndex, "h1", map[string]any{domain.FieldImageHash: []string{"h1"}}); err != nil {
		t.Fatal(err)
	}
	vs, err := NewBoltVectorStore(s.DB(), 2, domain.DefaultImagesIndex)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vs.Create(ctx, domain.VectorEntry{Hash: "h1", Vector: []float32{1, 0}, DuplicateHashes: []string{"h1"}}); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}

	if exists, _ := s.ImageExists(ctx, "h1"); exists {
		t.Error("expected image clusters to be dropped")
	}
	batch, _ := s.SearchPending(ctx, 0, 5)
	if batch.Total != 1 {
		t.Fatalf("expected post back to pending, got %+v", batch)
	}
	doc, _ := s.GetDoc(domain.DefaultPostsIndex, "p1")
	if _, ok := doc[domain.FieldAvgClipVector]; ok {
		t.Error("expected average vector removed")
	}
	if jobs, _ := doc[domain.FieldJobs].(map[string]any); jobs["lang"] != true {
		t.Errorf("expected unrelated job flags kept, got %v", jobs)
	}

	vs, err = NewBoltVectorStore(s.DB(), 2, domain.DefaultImagesIndex)
	if err != nil {
		t.Fatal(err)
	}
	if vs.Count() != 0 {
		t.Errorf("expected vectors dropped, got %d", vs.Count())
	}

	cfg.Embedding.Dimension = 768
	if err := s.EnsureSchema(cfg); err != nil {
		t.Errorf("expected cleared store to accept new config, got %v", err)
	}
}
