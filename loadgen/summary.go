package loadgen

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Summary 压测结果汇总
type Summary struct {
	Requests  int
	Statuses  map[int]int
	Failures  int
	Retries   int
	Orders    int
	Conflicts int
	Elapsed   time.Duration

	Min, Mean, P50, P95, P99, Max time.Duration
}

// ServerErrors 5xx 响应数
func (s *Summary) ServerErrors() int {
	n := 0
	for code, c := range s.Statuses {
		if code >= http.StatusInternalServerError {
			n += c
		}
	}
	return n
}

// Write 输出可读的汇总
func (s *Summary) Write(w io.Writer) {
	codes := make([]int, 0, len(s.Statuses))
	for code := range s.Statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%d=%d", code, s.Statuses[code]))
	}

	rps := 0.0
	if s.Elapsed > 0 {
		rps = float64(s.Requests) / s.Elapsed.Seconds()
	}
	fmt.Fprintf(w, "requests:  %d in %s (%.1f req/s)\n", s.Requests, s.Elapsed.Round(time.Millisecond), rps)
	fmt.Fprintf(w, "orders:    %d created, %d conflicts\n", s.Orders, s.Conflicts)
	fmt.Fprintf(w, "statuses:  %s\n", strings.Join(parts, " "))
	fmt.Fprintf(w, "retries:   %d, transport failures: %d\n", s.Retries, s.Failures)
	fmt.Fprintf(w, "latency:   min=%s mean=%s p50=%s p95=%s p99=%s max=%s\n",
		s.Min, s.Mean, s.P50, s.P95, s.P99, s.Max)
}

// collector 并发收集每次请求的状态码与耗时
type collector struct {
	mu        sync.Mutex
	statuses  map[int]int
	latencies []time.Duration
	failures  int
	retries   int
	orders    int
	conflicts int
}

func newCollector() *collector {
	return &collector{statuses: make(map[int]int)}
}

func (c *collector) observe(status int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status == 0 {
		c.failures++
		return
	}
	c.statuses[status]++
	c.latencies = append(c.latencies, d)
}

func (c *collector) add(f func(c *collector)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c)
}

func (c *collector) summary(elapsed time.Duration) *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Requests:  len(c.latencies),
		Statuses:  make(map[int]int, len(c.statuses)),
		Failures:  c.failures,
		Retries:   c.retries,
		Orders:    c.orders,
		Conflicts: c.conflicts,
		Elapsed:   elapsed,
	}
	for k, v := range c.statuses {
		s.Statuses[k] = v
	}
	if len(c.latencies) == 0 {
		return s
	}

	sorted := append([]time.Duration(nil), c.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.Mean = total / time.Duration(len(sorted))
	s.P50 = percentile(sorted, 0.50)
	s.P95 = percentile(sorted, 0.95)
	s.P99 = percentile(sorted, 0.99)
	return s
}

// percentile 最近秩法
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
