package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时钟
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newWithClock[K comparable, V any](cfg Config) (*Cache[K, V], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New[K, V](cfg)
	c.now = clock.now
	return c, clock
}

// TestCache_BasicOperations 基本操作
func TestCache_BasicOperations(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 100, TTL: time.Minute})

	c.Set("key1", 100)
	value, found := c.Get("key1")
	assert.True(t, found)
	assert.Equal(t, 100, value)

	_, found = c.Get("nonexistent")
	assert.False(t, found)

	assert.True(t, c.Delete("key1"))
	assert.False(t, c.Delete("key1"))

	_, found = c.Get("key1")
	assert.False(t, found)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

// TestCache_TTLFromWriteTime 读取不会延长过期时间
func TestCache_TTLFromWriteTime(t *testing.T) {
	c, clock := newWithClock[string, string](Config{Name: "ttl", TTL: 10 * time.Second})

	c.Set("k", "v")
	clock.advance(6 * time.Second)
	_, found := c.Get("k")
	require.True(t, found)

	clock.advance(5 * time.Second)
	_, found = c.Get("k")
	assert.False(t, found, "写入 11s 后应过期")
	assert.Equal(t, int64(1), c.Stats().Expires)
	assert.Equal(t, 0, c.Size())

	// 重新写入会重置过期时间
	c.Set("k", "v2")
	clock.advance(9 * time.Second)
	value, found := c.Get("k")
	require.True(t, found)
	assert.Equal(t, "v2", value)
}

// TestCache_LRUEviction 超过容量时驱逐最久未使用的条目
func TestCache_LRUEviction(t *testing.T) {
	c := New[int, string](Config{Name: "lru", MaxSize: 3})

	c.Set(1, "one")
	c.Set(2, "two")
	c.Set(3, "three")
	_, _ = c.Get(1) // 1 变为最近使用

	c.Set(4, "four")

	_, found := c.Get(2)
	assert.False(t, found, "2 是最久未使用的")
	for _, k := range []int{1, 3, 4} {
		_, found := c.Get(k)
		assert.True(t, found, "key %d", k)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 3, c.Size())
}

// TestCache_CleanExpired 批量清理
func TestCache_CleanExpired(t *testing.T) {
	c, clock := newWithClock[int, int](Config{Name: "clean", TTL: time.Minute})
	for i := 0; i < 5; i++ {
		c.Set(i, i)
	}
	clock.advance(30 * time.Second)
	c.Set(99, 99)
	clock.advance(31 * time.Second)

	assert.Equal(t, 5, c.CleanExpired())
	assert.Equal(t, 1, c.Size())

	noTTL := New[int, int](Config{})
	noTTL.Set(1, 1)
	assert.Equal(t, 0, noTTL.CleanExpired())
}

// TestCache_Metrics 指标按缓存名称计数
func TestCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := New[string, int](Config{Name: "idem", MaxSize: 1, Metrics: m})

	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("b")
	c.Set("b", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("idem", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("idem", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("idem", "evict")))
}

// TestCache_Concurrent 并发读写
func TestCache_Concurrent(t *testing.T) {
	c := New[string, int](Config{Name: "concurrent", MaxSize: 50, TTL: time.Minute})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%80)
				c.Set(key, i)
				_, _ = c.Get(key)
				if i%10 == 0 {
					c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 50)
}
