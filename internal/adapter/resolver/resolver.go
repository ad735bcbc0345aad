package resolver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mr-tron/base58"

	"github.com/hive-discover/clip-api/internal/domain"
)

// Resolver turns source URLs into content hashes and image service fetch URLs.
type Resolver struct {
	prefix    string
	maxWidth  int
	maxHeight int
	excludes  []string
}

// New creates a resolver for the image service at prefix.
func New(prefix string, maxWidth, maxHeight int, excludes []string) *Resolver {
	if maxWidth <= 0 {
		maxWidth = 1024
	}
	if maxHeight <= 0 {
		maxHeight = 1024
	}
	return &Resolver{
		prefix:    strings.TrimRight(prefix, "/"),
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		excludes:  excludes,
	}
}

// Hash returns the content hash of a source URL: the base58 encoding of its
// bytes. The same URL always yields the same hash.
func Hash(rawURL string) string {
	return base58.Encode([]byte(rawURL))
}

// Hashes maps Hash over urls.
func Hashes(urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = Hash(u)
	}
	return out
}

// Resolve derives the content hash and the normalized fetch URL.
// URLs not already hosted by the image service are proxied through it; the
// service is asked for a JPEG downscaled to fit the configured box.
func (r *Resolver) Resolve(rawURL string) domain.ResolvedImage {
	hash := Hash(rawURL)

	fetchURL := rawURL
	if !strings.HasPrefix(rawURL, r.prefix) {
		fetchURL = r.prefix + "/" + hash
	}

	if !strings.Contains(fetchURL, "?") {
		fetchURL += "?a=b"
	}
	if !strings.Contains(fetchURL, "format=jpeg") {
		fetchURL += "&format=jpeg"
	}
	fetchURL += fmt.Sprintf("&width=%d&height=%d&mode=fit", r.maxWidth, r.maxHeight)

	return domain.ResolvedImage{SourceURL: rawURL, Hash: hash, FetchURL: fetchURL}
}

// Excluded reports whether the URL path matches one of the exclude patterns.
func (r *Resolver) Excluded(rawURL string) bool {
	if len(r.excludes) == 0 {
		return false
	}
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.ToLower(strings.TrimPrefix(path, "/"))

	for _, pattern := range r.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
