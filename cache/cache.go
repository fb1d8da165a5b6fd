// Package cache 提供带容量上限与过期时间的泛型缓存
//
// 条目按写入时间过期（不因读取续期），超过容量时驱逐最久未使用的条目。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache 并发安全的 LRU + TTL 缓存
type Cache[K comparable, V any] struct {
	config Config

	items   map[K]*list.Element
	lruList *list.List // 最近使用的在前

	mu    sync.Mutex
	stats CacheStats
	now   func() time.Time
}

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time // 零值表示不过期
}

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于指标标签和日志）
	Name string

	// MaxSize 最大条目数，0 表示不限制
	MaxSize int

	// TTL 条目存活时间，0 表示不过期
	TTL time.Duration

	// Metrics 可选的 Prometheus 指标
	Metrics *Metrics
}

// CacheStats 缓存统计信息
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64 // 容量驱逐
	Expires   int64 // 过期删除
	Size      int
}

// New 创建缓存
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		config:  config,
		items:   make(map[K]*list.Element),
		lruList: list.New(),
		now:     time.Now,
	}
}

// Get 获取未过期的值
func (c *Cache[K, V]) Get(key K) (value V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.miss()
		return value, false
	}
	entry := el.Value.(*cacheEntry[K, V])
	if c.expired(entry) {
		c.removeLocked(el)
		c.stats.Expires++
		c.miss()
		return value, false
	}

	c.lruList.MoveToFront(el)
	c.stats.Hits++
	c.config.Metrics.observe(c.config.Name, "hit")
	return entry.value, true
}

// Set 写入值并重置过期时间
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Time{}
	if c.config.TTL > 0 {
		expiresAt = c.now().Add(c.config.TTL)
	}

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry[K, V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.lruList.MoveToFront(el)
		return
	}

	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.stats.Evictions++
			c.config.Metrics.observe(c.config.Name, "evict")
		}
	}

	c.items[key] = c.lruList.PushFront(&cacheEntry[K, V]{key: key, value: value, expiresAt: expiresAt})
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// CleanExpired 删除所有过期条目，返回删除数量
func (c *Cache[K, V]) CleanExpired() int {
	if c.config.TTL <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := 0
	for el := c.lruList.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*cacheEntry[K, V])) {
			c.removeLocked(el)
			cleaned++
		}
		el = prev
	}
	c.stats.Expires += int64(cleaned)
	return cleaned
}

// Size 当前条目数（含尚未清理的过期条目）
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats 返回统计信息副本
func (c *Cache[K, V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Size = len(c.items)
	return stats
}

// HitRate 命中率
func (c *Cache[K, V]) HitRate() float64 {
	stats := c.Stats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0
	}
	return float64(stats.Hits) / float64(total)
}

func (c *Cache[K, V]) String() string {
	stats := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, evictions=%d, expires=%d",
		c.config.Name, stats.Size, c.config.MaxSize, stats.Hits, stats.Misses, stats.Evictions, stats.Expires)
}

func (c *Cache[K, V]) expired(entry *cacheEntry[K, V]) bool {
	return !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt)
}

func (c *Cache[K, V]) miss() {
	c.stats.Misses++
	c.config.Metrics.observe(c.config.Name, "miss")
}

func (c *Cache[K, V]) removeLocked(el *list.Element) {
	entry := c.lruList.Remove(el).(*cacheEntry[K, V])
	delete(c.items, entry.key)
}

// Metrics 缓存指标，可在多个缓存之间共享
type Metrics struct {
	lookups *prometheus.CounterVec
}

// NewMetrics 创建并注册指标；reg 为 nil 时仅创建不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		lookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Cache hits, misses and evictions by cache name.",
		}, []string{"cache", "result"}),
	}
}

func (m *Metrics) observe(name, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(name, result).Inc()
}
