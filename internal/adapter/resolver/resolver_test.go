package resolver

import (
	"strings"
	"testing"

	"github.com/mr-tron/base58"
)

const prefix = "https://images.hive.blog/p"

func TestHashDeterministicAndReversible(t *testing.T) {
	u := "https://files.peakd.com/file/peakd-hive/alice/photo.jpg"
	h1, h2 := Hash(u), Hash(u)
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s and %s", h1, h2)
	}
	raw, err := base58.Decode(h1)
	if err != nil {
		t.Fatalf("hash is not base58: %v", err)
	}
	if string(raw) != u {
		t.Errorf("expected hash to encode the URL bytes, got %q", raw)
	}
	if Hash(u+"?x") == h1 {
		t.Error("expected different URLs to hash differently")
	}
}

func TestResolveForeignURL(t *testing.T) {
	r := New(prefix, 1024, 1024, nil)
	u := "https://example.com/a.png"
	got := r.Resolve(u)

	want := prefix + "/" + Hash(u) + "?a=b&format=jpeg&width=1024&height=1024&mode=fit"
	if got.FetchURL != want {
		t.Errorf("expected %s, got %s", want, got.FetchURL)
	}
	if got.Hash != Hash(u) || got.SourceURL != u {
		t.Errorf("unexpected resolved image %+v", got)
	}
}

func TestResolveHostedURLKeepsQuery(t *testing.T) {
	r := New(prefix+"/", 0, 0, nil)
	u := prefix + "/abc?format=jpeg"
	got := r.Resolve(u)

	want := u + "&width=1024&height=1024&mode=fit"
	if got.FetchURL != want {
		t.Errorf("expected %s, got %s", want, got.FetchURL)
	}
	if strings.Count(got.FetchURL, "format=jpeg") != 1 {
		t.Errorf("expected format=jpeg once, got %s", got.FetchURL)
	}
}

func TestExcluded(t *testing.T) {
	r := New(prefix, 1024, 1024, []string{"**/*.svg", "emoji/**"})

	cases := map[string]bool{
		"https://example.com/img/logo.SVG":   true,
		"https://example.com/emoji/smile.png": true,
		"https://example.com/img/photo.jpg":  false,
	}
	for u, want := range cases {
		if got := r.Excluded(u); got != want {
			t.Errorf("Excluded(%s) = %v, want %v", u, got, want)
		}
	}

	if New(prefix, 0, 0, nil).Excluded("https://example.com/a.svg") {
		t.Error("expected no exclusions without patterns")
	}
}
