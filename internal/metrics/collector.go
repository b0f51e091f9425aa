// Package metrics is a small Prometheus text-format collector for the relay.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler serves every registered metric in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = io.WriteString(w, c.Render())
	}
}

// Render returns the exposition text. Series are sorted so output is stable.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP relaybot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE relaybot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "relaybot_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	var counters []*Counter
	c.counters.Range(func(_, v any) bool {
		counters = append(counters, v.(*Counter))
		return true
	})
	sort.Slice(counters, func(i, j int) bool {
		return series(counters[i].name, counters[i].labels) < series(counters[j].name, counters[j].labels)
	})
	written := make(map[string]bool)
	for _, ctr := range counters {
		writeHeader(&sb, written, ctr.name, ctr.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}

	var gauges []*Gauge
	c.gauges.Range(func(_, v any) bool {
		gauges = append(gauges, v.(*Gauge))
		return true
	})
	sort.Slice(gauges, func(i, j int) bool {
		return series(gauges[i].name, gauges[i].labels) < series(gauges[j].name, gauges[j].labels)
	})
	written = make(map[string]bool)
	for _, g := range gauges {
		writeHeader(&sb, written, g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	var hists []*Histogram
	c.histograms.Range(func(_, v any) bool {
		hists = append(hists, v.(*Histogram))
		return true
	})
	sort.Slice(hists, func(i, j int) bool {
		return series(hists[i].name, hists[i].labels) < series(hists[j].name, hists[j].labels)
	})
	written = make(map[string]bool)
	for _, h := range hists {
		writeHeader(&sb, written, h.name, h.help, "histogram")
		h.writeTo(&sb)
	}
	return sb.String()
}

func (h *Histogram) writeTo(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prefix := h.name + "_bucket{"
	if h.labels != "" {
		prefix += h.labels + ","
	}
	for _, b := range h.buckets {
		le := fmt.Sprintf("%g", b.le)
		if math.IsInf(b.le, 1) {
			le = "+Inf"
		}
		fmt.Fprintf(sb, "%sle=\"%s\"} %d\n", prefix, le, b.count)
	}
	fmt.Fprintf(sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
	fmt.Fprintf(sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
}

func writeHeader(sb *strings.Builder, written map[string]bool, name, help, kind string) {
	if written[name] {
		return
	}
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
	written[name] = true
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}
