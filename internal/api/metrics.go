package api

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/czcorpus/wag-sub001/internal/version"
)

// MetricsCollector collects search statistics and writes them in the
// Prometheus text format
type MetricsCollector struct {
	searchTotal    *Counter
	tileTotal      *Counter
	errorTotal     *Counter
	cacheCleared   *Counter
	searchDuration *Histogram
	goroutines     *Gauge
	memoryAlloc    *Gauge

	startTime time.Time
}

// Counter is a monotonically increasing counter
type Counter struct {
	name   string
	help   string
	labels []string
	values sync.Map // map[string]*uint64
}

// Histogram tracks distributions of values
type Histogram struct {
	name    string
	help    string
	labels  []string
	buckets []float64
	values  sync.Map // map[string]*histogramValue
}

type histogramValue struct {
	mu      sync.Mutex
	sum     float64
	count   uint64
	buckets []uint64
}

// Gauge is a metric that can go up and down
type Gauge struct {
	name   string
	help   string
	labels []string
	values sync.Map // map[string]*float64
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		searchTotal: &Counter{
			name:   "wag_search_total",
			help:   "Total number of searches",
			labels: []string{"query_type", "complete"},
		},
		tileTotal: &Counter{
			name:   "wag_tile_results_total",
			help:   "Tile outcomes of finished searches",
			labels: []string{"tile_type", "phase"},
		},
		errorTotal: &Counter{
			name:   "wag_errors_total",
			help:   "Total number of failed requests",
			labels: []string{"code"},
		},
		cacheCleared: &Counter{
			name: "wag_cache_cleared_entries_total",
			help: "Cached responses dropped on request",
		},
		searchDuration: &Histogram{
			name:    "wag_search_duration_seconds",
			help:    "Duration of searches in seconds",
			labels:  []string{"query_type"},
			buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		goroutines: &Gauge{
			name: "wag_goroutines",
			help: "Number of goroutines",
		},
		memoryAlloc: &Gauge{
			name: "wag_memory_alloc_bytes",
			help: "Allocated memory in bytes",
		},
		startTime: time.Now(),
	}
}

// RecordSearch records a finished search
func (m *MetricsCollector) RecordSearch(queryType string, duration time.Duration, complete bool) {
	m.searchTotal.Inc(queryType, fmt.Sprintf("%t", complete))
	m.searchDuration.Observe(duration.Seconds(), queryType)
}

// RecordTile records the outcome of one tile
func (m *MetricsCollector) RecordTile(tileType, phase string) {
	m.tileTotal.Inc(tileType, phase)
}

// RecordError records a failed request
func (m *MetricsCollector) RecordError(code string) {
	m.errorTotal.Inc(code)
}

// RecordCacheCleared records dropped cache entries
func (m *MetricsCollector) RecordCacheCleared(entries int) {
	m.cacheCleared.Add(uint64(entries))
}

// WritePrometheus writes metrics in Prometheus text format
func (m *MetricsCollector) WritePrometheus(w io.Writer) {
	m.goroutines.Set(float64(runtime.NumGoroutine()))
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryAlloc.Set(float64(memStats.Alloc))

	fmt.Fprintf(w, "# HELP wag_info WaG build information\n")
	fmt.Fprintf(w, "# TYPE wag_info gauge\n")
	fmt.Fprintf(w, "wag_info{version=\"%s\"} 1\n\n", version.Version)

	fmt.Fprintf(w, "# HELP wag_uptime_seconds Time since the server started\n")
	fmt.Fprintf(w, "# TYPE wag_uptime_seconds counter\n")
	fmt.Fprintf(w, "wag_uptime_seconds %.3f\n\n", time.Since(m.startTime).Seconds())

	for _, c := range []*Counter{m.searchTotal, m.tileTotal, m.errorTotal, m.cacheCleared} {
		c.write(w)
	}
	m.searchDuration.write(w)
	m.goroutines.write(w)
	m.memoryAlloc.write(w)
}

func sortedKeys(values *sync.Map) []string {
	var keys []string
	values.Range(func(key, value interface{}) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// labelsToKey renders label values as {a="x",b="y"}
func labelsToKey(labels, values []string) string {
	if len(labels) == 0 || len(values) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for i, label := range labels {
		if i < len(values) {
			pairs = append(pairs, fmt.Sprintf("%s=%q", label, values[i]))
		}
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// withLabel appends one more label to a rendered key
func withLabel(key, label string) string {
	if key == "" {
		return "{" + label + "}"
	}
	return key[:len(key)-1] + "," + label + "}"
}

// Inc adds one
func (c *Counter) Inc(labelValues ...string) {
	c.Add(1, labelValues...)
}

// Add adds delta
func (c *Counter) Add(delta uint64, labelValues ...string) {
	val, _ := c.values.LoadOrStore(labelsToKey(c.labels, labelValues), new(uint64))
	atomic.AddUint64(val.(*uint64), delta)
}

// Value returns the current count for the label values
func (c *Counter) Value(labelValues ...string) uint64 {
	if val, ok := c.values.Load(labelsToKey(c.labels, labelValues)); ok {
		return atomic.LoadUint64(val.(*uint64))
	}
	return 0
}

func (c *Counter) write(w io.Writer) {
	fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
	fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
	for _, key := range sortedKeys(&c.values) {
		val, _ := c.values.Load(key)
		fmt.Fprintf(w, "%s%s %d\n", c.name, key, atomic.LoadUint64(val.(*uint64)))
	}
	fmt.Fprintln(w)
}

// Observe records one value
func (h *Histogram) Observe(value float64, labelValues ...string) {
	val, _ := h.values.LoadOrStore(labelsToKey(h.labels, labelValues), &histogramValue{
		buckets: make([]uint64, len(h.buckets)+1), // +1 for +Inf
	})
	hv := val.(*histogramValue)

	hv.mu.Lock()
	defer hv.mu.Unlock()
	hv.sum += value
	hv.count++
	idx := len(h.buckets)
	for i, bound := range h.buckets {
		if value <= bound {
			idx = i
			break
		}
	}
	hv.buckets[idx]++
}

func (h *Histogram) write(w io.Writer) {
	fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)
	for _, key := range sortedKeys(&h.values) {
		val, _ := h.values.Load(key)
		hv := val.(*histogramValue)
		hv.mu.Lock()
		cumulative := uint64(0)
		for i, bound := range h.buckets {
			cumulative += hv.buckets[i]
			fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLabel(key, fmt.Sprintf("le=\"%g\"", bound)), cumulative)
		}
		cumulative += hv.buckets[len(h.buckets)]
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLabel(key, "le=\"+Inf\""), cumulative)
		fmt.Fprintf(w, "%s_sum%s %.6f\n", h.name, key, hv.sum)
		fmt.Fprintf(w, "%s_count%s %d\n", h.name, key, hv.count)
		hv.mu.Unlock()
	}
	fmt.Fprintln(w)
}

// Set stores value
func (g *Gauge) Set(value float64, labelValues ...string) {
	ptr := new(float64)
	*ptr = value
	g.values.Store(labelsToKey(g.labels, labelValues), ptr)
}

func (g *Gauge) write(w io.Writer) {
	fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", g.name)
	for _, key := range sortedKeys(&g.values) {
		val, _ := g.values.Load(key)
		fmt.Fprintf(w, "%s%s %.6f\n", g.name, key, *val.(*float64))
	}
	fmt.Fprintln(w)
}

// handleMetrics handles the /metrics endpoint
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	s.metrics.WritePrometheus(w)
}
