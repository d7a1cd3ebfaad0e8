package embedding

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
)

// cacheKey is the (text, task) pair the cache is keyed by.
type cacheKey struct {
	text string
	task Task
}

type cacheEntry struct {
	vector  []float32
	expires time.Time
}

// CachedPort wraps a Port with an LRU+TTL cache for
// TaskRetrievalQuery embeddings, and gates every provider call behind
// a concurrency semaphore. The cache and its hit/miss/call counters are
// protected by one mutex, with constant-time operations under the lock;
// the semaphore is acquired outside that mutex.
type CachedPort struct {
	inner Port

	mu    sync.Mutex
	cache *lru.Cache[cacheKey, cacheEntry]
	ttl   time.Duration

	sem *semaphore.Weighted

	hits, misses, calls int64
}

// NewCachedPort builds a CachedPort. maxSize and ttlSeconds are
// clamped to their permitted bounds (maxSize >= 100, ttl in
// [30,1800]s); concurrency must be >= 1.
func NewCachedPort(inner Port, maxSize int, ttlSeconds int, concurrency int) *CachedPort {
	if maxSize < 100 {
		maxSize = 100
	}
	if ttlSeconds < 30 {
		ttlSeconds = 30
	}
	if ttlSeconds > 1800 {
		ttlSeconds = 1800
	}
	if concurrency < 1 {
		concurrency = 1
	}
	c, _ := lru.New[cacheKey, cacheEntry](maxSize)
	return &CachedPort{
		inner: inner,
		cache: c,
		ttl:   time.Duration(ttlSeconds) * time.Second,
		sem:   semaphore.NewWeighted(int64(concurrency)),
	}
}

// Stats reports cache hit/miss/call counters, for observability only.
func (c *CachedPort) Stats() (hits, misses, calls int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.calls
}

// Embed satisfies Port, serving TaskRetrievalQuery from cache when
// fresh and delegating everything else (including cache misses) to
// the wrapped provider under the concurrency semaphore.
func (c *CachedPort) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if task != TaskRetrievalQuery {
		return c.embedThrough(ctx, texts, task)
	}

	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	now := time.Now()
	c.mu.Lock()
	for i, text := range texts {
		key := cacheKey{text: text, task: task}
		entry, ok := c.cache.Get(key)
		if ok && now.Before(entry.expires) {
			results[i] = entry.vector
			c.hits++
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
			c.misses++
		}
	}
	c.mu.Unlock()

	if len(missTexts) > 0 {
		vectors, err := c.embedThrough(ctx, missTexts, task)
		if err != nil {
			return nil, err
		}
		expires := time.Now().Add(c.ttl)
		c.mu.Lock()
		for j, idx := range missIdx {
			results[idx] = vectors[j]
			c.cache.Add(cacheKey{text: missTexts[j], task: task}, cacheEntry{vector: vectors[j], expires: expires})
		}
		c.mu.Unlock()
	}

	return results, nil
}

func (c *CachedPort) embedThrough(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	return c.inner.Embed(ctx, texts, task)
}

// ChunkAndEncode delegates directly; late-chunking output is never cached.
func (c *CachedPort) ChunkAndEncode(ctx context.Context, text string) ([]Span, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	return c.inner.ChunkAndEncode(ctx, text)
}

// Profile delegates to the wrapped provider.
func (c *CachedPort) Profile() Profile {
	return c.inner.Profile()
}

var _ Port = (*CachedPort)(nil)
