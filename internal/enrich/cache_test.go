package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sampleEnrichment() intel.Enrichment {
	res := intel.NewEnrichment()
	res.Reputation = "VT:m=3,s=1"
	res.DetailsURL = intel.StringPtr("https://www.virustotal.com/gui/file/" + testHash)
	res.Campaigns = []string{"emotet"}
	return res
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "enrich:ip:1.2.3.4", CacheKey(intel.Indicator{Value: "1.2.3.4", Kind: intel.KindIP}))
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache(2, 50*time.Millisecond)
	ctx := context.Background()

	c.Set(ctx, "k", sampleEnrichment())
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "VT:m=3,s=1", got.Reputation)

	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryCacheEvictsLeastRecent(t *testing.T) {
	c := NewMemoryCache(2, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "a", sampleEnrichment())
	c.Set(ctx, "b", sampleEnrichment())
	c.Set(ctx, "c", sampleEnrichment())

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache("redis://"+mr.Addr(), time.Hour, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer rc.Close()

	ctx := context.Background()
	rc.Set(ctx, "enrich:hash:x", sampleEnrichment())
	assert.True(t, mr.Exists(DefaultCachePrefix+"enrich:hash:x"))

	got, ok := rc.Get(ctx, "enrich:hash:x")
	require.True(t, ok)
	assert.Equal(t, sampleEnrichment(), got)

	require.NoError(t, rc.Clear(ctx))
	_, ok = rc.Get(ctx, "enrich:hash:x")
	assert.False(t, ok)
}

func TestRedisCacheDropsCorruptEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache("redis://"+mr.Addr(), time.Hour, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, mr.Set(DefaultCachePrefix+"bad", "{not json"))
	_, ok := rc.Get(context.Background(), "bad")
	assert.False(t, ok)
	assert.False(t, mr.Exists(DefaultCachePrefix+"bad"))
}

func TestCacheManagerFallsBackToMemory(t *testing.T) {
	cm := NewCacheManager("redis://127.0.0.1:1", 10, time.Minute, zaptest.NewLogger(t).Sugar())
	defer cm.Close()

	ctx := context.Background()
	_, ok := cm.Get(ctx, "k")
	assert.False(t, ok)

	cm.Set(ctx, "k", sampleEnrichment())
	_, ok = cm.Get(ctx, "k")
	assert.True(t, ok)

	hits, misses := cm.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCacheManagerPromotesFallbackHits(t *testing.T) {
	mr := miniredis.RunT(t)
	cm := NewCacheManager("redis://"+mr.Addr(), 10, time.Minute, zaptest.NewLogger(t).Sugar())
	defer cm.Close()

	ctx := context.Background()
	cm.Set(ctx, "k", sampleEnrichment())
	mr.FlushAll()

	_, ok := cm.Get(ctx, "k")
	require.True(t, ok)
	assert.True(t, mr.Exists(DefaultCachePrefix+"k"))
}
