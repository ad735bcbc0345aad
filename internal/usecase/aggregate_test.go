package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/hive-discover/clip-api/internal/adapter/memstore"
	"github.com/hive-discover/clip-api/internal/adapter/resolver"
	"github.com/hive-discover/clip-api/internal/domain"
)

type aggImage struct {
	vector  []float32
	quality any
}

func aggregatorWith(images []aggImage) (*Aggregator, domain.Post) {
	store := memstore.NewMemoryStore(domain.DefaultPostsIndex, domain.DefaultImagesIndex, domain.DefaultJobField)
	post := domain.Post{ID: "p1", Index: "hive-post-data-2-2023"}
	for i, img := range images {
		u := imgURL(string(rune('a' + i)))
		h := resolver.Hash(u)
		doc := map[string]any{domain.FieldImageHash: []string{h}}
		if img.vector != nil {
			doc[domain.FieldClipVector] = img.vector
		}
		if img.quality != nil {
			doc[domain.FieldQuality] = img.quality
		}
		// ids sort opposite to post order so ordering is exercised
		store.Put(domain.DefaultImagesIndex, string(rune('z'-i)), doc)
		post.Images = append(post.Images, u)
	}
	return NewAggregator(store, testDim, domain.QualityCeiling, domain.QualitySentinel), post
}

func avgQuality(t *testing.T, m *domain.Mutation) float64 {
	t.Helper()
	if m == nil {
		t.Fatal("expected a mutation")
	}
	q, _ := domain.Float(m.Doc[domain.FieldAvgQuality])
	return q
}

func TestAggregateSkipsScoresAboveCeiling(t *testing.T) {
	v := []float32{1, 0, 0, 0}
	a, post := aggregatorWith([]aggImage{{v, 100.0}, {v, 200.0}, {v, 50.0}})

	m, err := a.Aggregate(context.Background(), post)
	if err != nil {
		t.Fatal(err)
	}
	if q := avgQuality(t, m); q != 75 {
		t.Errorf("expected 75, got %f", q)
	}
}

func TestAggregatePairwiseRunningMean(t *testing.T) {
	a, post := aggregatorWith([]aggImage{
		{[]float32{1, 0, 0, 0}, 100.0},
		{[]float32{0, 1, 0, 0}, 50.0},
		{[]float32{0, 0, 1, 0}, 20.0},
	})

	m, err := a.Aggregate(context.Background(), post)
	if err != nil {
		t.Fatal(err)
	}
	if q := avgQuality(t, m); q != 47.5 {
		t.Errorf("expected pairwise mean 47.5, got %f", q)
	}

	vec, _ := domain.Float32s(m.Doc[domain.FieldAvgClipVector])
	want := []float32{0.25, 0.25, 0.5, 0}
	for i := range want {
		if math.Abs(float64(vec[i]-want[i])) > 1e-6 {
			t.Fatalf("expected %v, got %v", want, vec)
		}
	}
	if m.Op != domain.OpUpdate || m.Index != "hive-post-data-2-2023" || m.ID != "p1" {
		t.Errorf("unexpected target %s %s/%s", m.Op, m.Index, m.ID)
	}
}

func TestAggregateNoQualifyingVector(t *testing.T) {
	a, post := aggregatorWith([]aggImage{
		{[]float32{1, 0}, 10.0},
		{nil, 10.0},
	})
	m, err := a.Aggregate(context.Background(), post)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("expected no mutation, got %+v", m)
	}
}

func TestAggregateKeepsSentinelWithoutUsableScore(t *testing.T) {
	v := []float32{0, 0, 0, 1}
	a, post := aggregatorWith([]aggImage{{v, 500.0}, {v, nil}, {v, 0.0}})
	m, err := a.Aggregate(context.Background(), post)
	if err != nil {
		t.Fatal(err)
	}
	if q := avgQuality(t, m); q != domain.QualitySentinel {
		t.Errorf("expected sentinel, got %f", q)
	}
}

func TestAggregateDerivesMonthlyIndex(t *testing.T) {
	a, post := aggregatorWith([]aggImage{{[]float32{1, 1, 0, 0}, 10.0}})
	post.Index = ""
	post.Timestamp = time.Date(2022, time.December, 31, 0, 0, 0, 0, time.UTC)

	m, _ := a.Aggregate(context.Background(), post)
	if m == nil || m.Index != "hive-post-data-11-2022" {
		t.Errorf("expected hive-post-data-11-2022, got %+v", m)
	}
}

func TestAggregatePostWithoutImages(t *testing.T) {
	a, post := aggregatorWith(nil)
	if m, err := a.Aggregate(context.Background(), post); m != nil || err != nil {
		t.Errorf("expected nothing for a post without images, got %v %v", m, err)
	}
}
