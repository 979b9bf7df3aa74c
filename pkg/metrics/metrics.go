// Package metrics provides Prometheus-compatible metrics for the local poll ledger.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType defines the type of a metric.
type MetricType string

const (
	// TypeCounter is a monotonically increasing counter.
	TypeCounter MetricType = "counter"
	// TypeGauge is a value that can go up and down.
	TypeGauge MetricType = "gauge"
	// TypeHistogram is a histogram with configurable buckets.
	TypeHistogram MetricType = "histogram"
)

// Counter is a thread-safe counter metric.
type Counter struct {
	name  string
	help  string
	value atomic.Uint64
}

// NewCounter creates a new counter metric.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(delta uint64) {
	c.value.Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Gauge is a thread-safe gauge metric.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

// NewGauge creates a new gauge metric.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(value int64) {
	g.value.Store(value)
}

// SetUint64 sets the gauge to the given unsigned value.
func (g *Gauge) SetUint64(value uint64) {
	g.value.Store(int64(value))
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(delta int64) {
	g.value.Add(delta)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

// Histogram is a thread-safe histogram metric.
type Histogram struct {
	mu      sync.RWMutex
	name    string
	help    string
	buckets []float64
	counts  []uint64 // per bucket, not cumulative
	sum     float64
	count   uint64
}

// DefaultHistogramBuckets are the default buckets for histograms.
var DefaultHistogramBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
}

// NewHistogram creates a new histogram metric with the given buckets.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	if len(buckets) == 0 {
		buckets = DefaultHistogramBuckets
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)

	return &Histogram{
		name:    name,
		help:    help,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)),
	}
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += value
	h.count++

	if i := sort.SearchFloat64s(h.buckets, value); i < len(h.buckets) {
		h.counts[i]++
	}
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Snapshot returns a snapshot of the histogram with cumulative bucket counts.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := HistogramSnapshot{
		Buckets: make([]HistogramBucket, len(h.buckets)),
		Sum:     h.sum,
		Count:   h.count,
	}
	var cumulative uint64
	for i, bucket := range h.buckets {
		cumulative += h.counts[i]
		snap.Buckets[i] = HistogramBucket{UpperBound: bucket, Count: cumulative}
	}
	return snap
}

// HistogramSnapshot is a point-in-time snapshot of a histogram.
type HistogramSnapshot struct {
	Buckets []HistogramBucket
	Sum     float64
	Count   uint64
}

// HistogramBucket is the number of observations at or below UpperBound.
type HistogramBucket struct {
	UpperBound float64
	Count      uint64
}

// Metric is the interface for all metrics.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
}

// Metrics holds every metric of a local ledger and its RPC server.
type Metrics struct {
	mu      sync.RWMutex
	metrics map[string]Metric

	// RPC
	RPCRequests        *Counter
	RPCErrors          *Counter
	RPCRequestDuration *Histogram

	// Ledger
	Transactions         *Counter
	TransactionsFailed   *Counter
	TransactionsRejected *Counter
	Airdrops             *Counter
	AirdropLamports      *Counter
	PollsCreated         *Counter
	VotesCast            *Counter
	CurrentSlot          *Gauge
	AccountsCount        *Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		metrics: make(map[string]Metric),

		RPCRequests: NewCounter("polls_rpc_requests_total", "Total number of JSON-RPC requests served"),
		RPCErrors:   NewCounter("polls_rpc_errors_total", "Total number of JSON-RPC requests answered with an error"),
		RPCRequestDuration: NewHistogram(
			"polls_rpc_request_duration_seconds",
			"JSON-RPC request handling duration in seconds",
			nil,
		),

		Transactions:         NewCounter("polls_transactions_total", "Total number of committed transactions"),
		TransactionsFailed:   NewCounter("polls_transactions_failed_total", "Committed transactions whose execution failed"),
		TransactionsRejected: NewCounter("polls_transactions_rejected_total", "Transactions rejected before commit"),
		Airdrops:             NewCounter("polls_airdrops_total", "Total number of airdrops"),
		AirdropLamports:      NewCounter("polls_airdrop_lamports_total", "Lamports credited by airdrops"),
		PollsCreated:         NewCounter("polls_created_total", "Polls created"),
		VotesCast:            NewCounter("polls_votes_total", "Votes cast"),
		CurrentSlot:          NewGauge("polls_current_slot", "Current slot"),
		AccountsCount:        NewGauge("polls_accounts_count", "Accounts in the store"),
	}

	for _, metric := range []Metric{
		m.RPCRequests, m.RPCErrors, m.RPCRequestDuration,
		m.Transactions, m.TransactionsFailed, m.TransactionsRejected,
		m.Airdrops, m.AirdropLamports, m.PollsCreated, m.VotesCast,
		m.CurrentSlot, m.AccountsCount,
	} {
		m.register(metric)
	}
	return m
}

func (m *Metrics) register(metric Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[metric.Name()] = metric
}

// Get returns a metric by name.
func (m *Metrics) Get(name string) Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics[name]
}

// Format formats all metrics in Prometheus text format.
func (m *Metrics) Format() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.metrics))
	for name := range m.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(formatMetric(m.metrics[name]))
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatMetric(metric Metric) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP %s %s\n", metric.Name(), metric.Help())
	fmt.Fprintf(&sb, "# TYPE %s %s\n", metric.Name(), metric.Type())

	switch m := metric.(type) {
	case *Counter:
		fmt.Fprintf(&sb, "%s %d\n", m.Name(), m.Value())
	case *Gauge:
		fmt.Fprintf(&sb, "%s %d\n", m.Name(), m.Value())
	case *Histogram:
		snap := m.Snapshot()
		for _, bucket := range snap.Buckets {
			fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", m.Name(), bucket.UpperBound, bucket.Count)
		}
		fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", m.Name(), snap.Count)
		fmt.Fprintf(&sb, "%s_sum %.6f\n", m.Name(), snap.Sum)
		fmt.Fprintf(&sb, "%s_count %d\n", m.Name(), snap.Count)
	}

	return sb.String()
}

// RecordRequest records one JSON-RPC request.
func (m *Metrics) RecordRequest(duration time.Duration, failed bool) {
	m.RPCRequests.Inc()
	if failed {
		m.RPCErrors.Inc()
	}
	m.RPCRequestDuration.ObserveDuration(duration)
}

// RecordBlock records the slot and account count after a block is produced.
func (m *Metrics) RecordBlock(slot, accounts uint64) {
	m.CurrentSlot.SetUint64(slot)
	m.AccountsCount.SetUint64(accounts)
}

// Handler serves the metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(m.Format()))
	})
}
