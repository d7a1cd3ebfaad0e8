package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
}

func (p *countingProvider) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	p.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(p.calls)}
	}
	return out, nil
}
func (p *countingProvider) ChunkAndEncode(ctx context.Context, text string) ([]Span, error) {
	return nil, nil
}
func (p *countingProvider) Profile() Profile { return Profile{Provider: "COUNTING"} }

func TestCachedPort_CachesRetrievalQueryEmbeddings(t *testing.T) {
	inner := &countingProvider{}
	cache := NewCachedPort(inner, 100, 60, 1)

	first, err := cache.Embed(context.Background(), []string{"hello"}, TaskRetrievalQuery)
	require.NoError(t, err)
	second, err := cache.Embed(context.Background(), []string{"hello"}, TaskRetrievalQuery)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
	hits, misses, calls := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(1), calls)
}

func TestCachedPort_NeverCachesPassageTask(t *testing.T) {
	inner := &countingProvider{}
	cache := NewCachedPort(inner, 100, 60, 1)

	_, err := cache.Embed(context.Background(), []string{"hello"}, TaskRetrievalPassage)
	require.NoError(t, err)
	_, err = cache.Embed(context.Background(), []string{"hello"}, TaskRetrievalPassage)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedPort_ExpiresEntriesPastTTL(t *testing.T) {
	inner := &countingProvider{}
	cache := NewCachedPort(inner, 100, 30, 1)
	// force an already-expired entry directly, bypassing the 30s TTL floor.
	cache.cache.Add(cacheKey{text: "stale", task: TaskRetrievalQuery}, cacheEntry{vector: []float32{0}, expires: time.Now().Add(-time.Second)})

	_, err := cache.Embed(context.Background(), []string{"stale"}, TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestNewCachedPort_ClampsConfigBounds(t *testing.T) {
	cache := NewCachedPort(&countingProvider{}, 1, 1, 0)
	assert.Equal(t, 30*time.Second, cache.ttl)
}
