package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type countingChecker struct {
	known map[string]bool
	calls int
}

func (c *countingChecker) ImageExists(ctx context.Context, hash string) (bool, error) {
	c.calls++
	return c.known[hash], nil
}

func TestHashCacheEvictsOldest(t *testing.T) {
	c := NewHashCache(2, time.Hour)
	c.Add("a")
	c.Add("b")
	c.Contains("a") // a becomes most recent
	c.Add("c")

	if c.Contains("b") {
		t.Error("expected b to be evicted")
	}
	if !c.Contains("a") || !c.Contains("c") {
		t.Error("expected a and c to remain")
	}
	if c.Size() != 2 {
		t.Errorf("expected size 2, got %d", c.Size())
	}
}

func TestHashCacheExpires(t *testing.T) {
	c := NewHashCache(10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Add("a")

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if c.Contains("a") {
		t.Error("expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Errorf("expected expired entry to be dropped, size=%d", c.Size())
	}
}

func TestCachedExistenceCachesPositivesOnly(t *testing.T) {
	checker := &countingChecker{known: map[string]bool{"known": true}}
	e := NewCachedExistence(checker, NewHashCache(10, time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := e.ImageExists(ctx, "known"); !ok {
			t.Fatal("expected known hash")
		}
		if ok, _ := e.ImageExists(ctx, "fresh"); ok {
			t.Fatal("expected fresh hash to be unknown")
		}
	}
	// one lookup for "known", three for "fresh"
	if checker.calls != 4 {
		t.Errorf("expected 4 store lookups, got %d", checker.calls)
	}

	e.Remember("fresh")
	if ok, _ := e.ImageExists(ctx, "fresh"); !ok {
		t.Error("expected remembered hash to be known")
	}
	if checker.calls != 4 {
		t.Errorf("expected remembered hash to skip the store, got %d calls", checker.calls)
	}
}

func TestHashCacheConcurrentHitsKeepOrderConsistent(t *testing.T) {
	c := NewHashCache(8, time.Hour)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				h := fmt.Sprintf("h%d", (w*7+i)%24)
				if !c.Contains(h) {
					c.Add(h)
				}
			}
		}(w)
	}
	wg.Wait()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) > 8 {
		t.Errorf("expected at most 8 entries, got %d", len(c.entries))
	}
	if len(c.order) != len(c.entries) {
		t.Fatalf("order tracks %d keys for %d entries", len(c.order), len(c.entries))
	}
	for _, h := range c.order {
		if _, ok := c.entries[h]; !ok {
			t.Errorf("ordered key %s has no entry", h)
		}
	}
}
