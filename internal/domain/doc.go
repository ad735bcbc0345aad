package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// MergeDoc merges patch into dst the way a partial document update does:
// nested objects merge recursively, everything else is replaced.
func MergeDoc(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		pm, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		dm, ok := dst[k].(map[string]any)
		if !ok {
			dm = make(map[string]any, len(pm))
		}
		dst[k] = MergeDoc(dm, pm)
	}
	return dst
}

// Float32s reads a vector field. Stored documents hold []float32 in memory
// and []any of float64 after a JSON round trip.
func Float32s(v any) ([]float32, bool) {
	switch vec := v.(type) {
	case []float32:
		return vec, true
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out, true
	case []any:
		out := make([]float32, len(vec))
		for i, e := range vec {
			f, ok := Float(e)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	default:
		return nil, false
	}
}

// Strings reads a string list field.
func Strings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return []string{s}
	default:
		return nil
	}
}

// Float reads a numeric field.
func Float(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	case int64:
		return float64(f), true
	default:
		return 0, false
	}
}

// UnionHashes adds hash to hashes without repeating it.
func UnionHashes(hashes []string, hash string) []string {
	out := make([]string, 0, len(hashes)+1)
	seen := make(map[string]struct{}, len(hashes)+1)
	for _, h := range append(append([]string(nil), hashes...), hash) {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// ContainsHash reports whether hashes contains hash.
func ContainsHash(hashes []string, hash string) bool {
	for _, h := range hashes {
		if h == hash {
			return true
		}
	}
	return false
}

// PostFromDoc decodes a stored post document.
func PostFromDoc(index, id string, doc map[string]any, jobField string) (Post, error) {
	p := Post{ID: id, Index: index, Images: Strings(doc[FieldImage])}
	if raw, ok := doc[FieldTimestamp].(string); ok {
		ts, err := time.Parse(TimestampLayout, raw)
		if err != nil {
			return p, fmt.Errorf("post %s: invalid timestamp %q: %w", id, raw, err)
		}
		p.Timestamp = ts
	}
	if jobs, ok := doc[FieldJobs].(map[string]any); ok {
		p.ImagesDescribed, _ = jobs[jobField].(bool)
	}
	return p, nil
}

// ImageFromDoc decodes a stored image document.
func ImageFromDoc(index, id string, doc map[string]any) ImageRecord {
	rec := ImageRecord{ID: id, Index: index, DuplicateHashes: Strings(doc[FieldImageHash])}
	rec.URL, _ = doc[FieldImage].(string)
	rec.Vector, _ = Float32s(doc[FieldClipVector])
	rec.Quality, rec.HasQuality = Float(doc[FieldQuality])
	if raw, ok := doc[FieldTimestamp].(string); ok {
		rec.Timestamp, _ = time.Parse(TimestampLayout, raw)
	}
	return rec
}

// CosineScore returns 1 + cosine similarity, the score space of the knn
// cosinesimil script. Mismatched or zero vectors score 0.
func CosineScore(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return 1 + dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// PagePending orders pending posts newest first and returns the page at
// offset. Total is the full pending count.
func PagePending(pending []Post, offset, size int) Batch {
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Timestamp.Equal(pending[j].Timestamp) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].Timestamp.After(pending[j].Timestamp)
	})

	batch := Batch{Total: len(pending)}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(pending) {
		return batch
	}
	end := offset + size
	if end > len(pending) {
		end = len(pending)
	}
	batch.Posts = pending[offset:end]
	return batch
}

// TopSimilar sorts hits by descending score and keeps the best k.
func TopSimilar(hits []SimilarImage, k int) []SimilarImage {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if k >= 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits
}
