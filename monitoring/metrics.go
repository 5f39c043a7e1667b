// Package monitoring keeps the estimate surface counters in a Prometheus
// registry and summarises them as JSON for the dashboard endpoint.
package monitoring

import (
	"math"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "kyc"

// Channel names the surface an estimate request arrived through.
type Channel string

const (
	ChannelForm      Channel = "form"
	ChannelAPI       Channel = "api"
	ChannelWebSocket Channel = "websocket"
)

// Outcome describes one answered estimate.
type Outcome struct {
	Cached          bool
	UnknownCategory bool
	Imputed         bool
}

// EstimateMetrics 估价指标收集器
type EstimateMetrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	requests        *prometheus.CounterVec
	served          prometheus.Counter
	cacheHits       prometheus.Counter
	unknownCategory prometheus.Counter
	imputed         prometheus.Counter
	failures        *prometheus.CounterVec
	latency         prometheus.Summary
	lastEstimate    prometheus.Gauge
}

// NewEstimateMetrics 创建估价指标收集器. Every collector lives in a registry
// owned by the returned value, so instances never collide.
func NewEstimateMetrics() *EstimateMetrics {
	m := &EstimateMetrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimate_requests_total",
			Help:      "Estimate requests by channel.",
		}, []string{"channel"}),
		served: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_served_total",
			Help:      "Estimates that produced a price.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimate_cache_hits_total",
			Help:      "Estimates answered from the cache.",
		}),
		unknownCategory: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimate_unknown_category_total",
			Help:      "Estimates with at least one category unseen in training.",
		}),
		imputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimate_imputed_total",
			Help:      "Estimates with at least one imputed numeric field.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimate_failures_total",
			Help:      "Failed estimate requests by error kind.",
		}, []string{"kind"}),
		latency: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       "estimate_duration_seconds",
			Help:       "Estimate request latency.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		lastEstimate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_estimate_timestamp_seconds",
			Help:      "Unix time of the last estimate that produced a price.",
		}),
	}

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the server started.",
	}, func() float64 { return m.GetUptime().Seconds() })

	m.registry.MustRegister(
		m.requests, m.served, m.cacheHits, m.unknownCategory, m.imputed,
		m.failures, m.latency, m.lastEstimate, uptime,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *EstimateMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEstimate counts a request that produced a number.
func (m *EstimateMetrics) RecordEstimate(ch Channel, elapsed time.Duration, out Outcome) {
	m.requests.WithLabelValues(string(ch)).Inc()
	m.served.Inc()
	if out.Cached {
		m.cacheHits.Inc()
	}
	if out.UnknownCategory {
		m.unknownCategory.Inc()
	}
	if out.Imputed {
		m.imputed.Inc()
	}
	m.latency.Observe(elapsed.Seconds())
	m.lastEstimate.SetToCurrentTime()
}

// RecordFailure counts a request that ended with an error of the given kind.
func (m *EstimateMetrics) RecordFailure(ch Channel, kind string, elapsed time.Duration) {
	m.requests.WithLabelValues(string(ch)).Inc()
	m.failures.WithLabelValues(kind).Inc()
	m.latency.Observe(elapsed.Seconds())
}

// LatencySummary is reported in milliseconds. Quantiles are zero until the
// first observation.
type LatencySummary struct {
	Count     int64   `json:"count"`
	AverageMs float64 `json:"average_ms"`
	P50Ms     float64 `json:"p50_ms"`
	P90Ms     float64 `json:"p90_ms"`
	P99Ms     float64 `json:"p99_ms"`
}

// SystemStats 系统统计
type SystemStats struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	GCCount    uint32 `json:"gc_count"`
	NumCPU     int    `json:"num_cpu"`
}

// Snapshot is a copy of every counter taken from one registry gather.
type Snapshot struct {
	Uptime          string            `json:"uptime"`
	UptimeSeconds   float64           `json:"uptime_seconds"`
	Requests        map[Channel]int64 `json:"requests"`
	Served          int64             `json:"served"`
	CacheHits       int64             `json:"cache_hits"`
	CacheHitRatio   float64           `json:"cache_hit_ratio"`
	UnknownCategory int64             `json:"unknown_category_estimates"`
	Imputed         int64             `json:"imputed_estimates"`
	Failures        map[string]int64  `json:"failures"`
	Latency         LatencySummary    `json:"latency"`
	LastEstimate    *time.Time        `json:"last_estimate,omitempty"`
	System          SystemStats       `json:"system"`
}

// GetUptime 获取运行时间
func (m *EstimateMetrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot 获取指标快照
func (m *EstimateMetrics) Snapshot() Snapshot {
	uptime := m.GetUptime()
	s := Snapshot{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Requests:      make(map[Channel]int64),
		Failures:      make(map[string]int64),
		System:        systemStats(),
	}

	// Gather only fails on inconsistent collectors, which the fixed set
	// registered above cannot produce; whatever was gathered is still used.
	families, _ := m.registry.Gather()
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	for label, v := range labelledCounts(byName[namespace+"_estimate_requests_total"], "channel") {
		s.Requests[Channel(label)] = v
	}
	for label, v := range labelledCounts(byName[namespace+"_estimate_failures_total"], "kind") {
		s.Failures[label] = v
	}
	s.Served = counterValue(byName[namespace+"_estimates_served_total"])
	s.CacheHits = counterValue(byName[namespace+"_estimate_cache_hits_total"])
	s.UnknownCategory = counterValue(byName[namespace+"_estimate_unknown_category_total"])
	s.Imputed = counterValue(byName[namespace+"_estimate_imputed_total"])
	if s.Served > 0 {
		s.CacheHitRatio = float64(s.CacheHits) / float64(s.Served)
	}

	s.Latency = latencySummary(byName[namespace+"_estimate_duration_seconds"])

	if f := byName[namespace+"_last_estimate_timestamp_seconds"]; f != nil && len(f.GetMetric()) > 0 {
		if ts := f.GetMetric()[0].GetGauge().GetValue(); ts > 0 {
			sec, frac := math.Modf(ts)
			last := time.Unix(int64(sec), int64(frac*1e9))
			s.LastEstimate = &last
		}
	}
	return s
}

func counterValue(f *dto.MetricFamily) int64 {
	if f == nil || len(f.GetMetric()) == 0 {
		return 0
	}
	return int64(f.GetMetric()[0].GetCounter().GetValue())
}

// labelledCounts maps each value of label to its counter. A vector that has
// never been incremented is absent from the gather and yields nil.
func labelledCounts(f *dto.MetricFamily, label string) map[string]int64 {
	if f == nil {
		return nil
	}
	out := make(map[string]int64, len(f.GetMetric()))
	for _, metric := range f.GetMetric() {
		for _, pair := range metric.GetLabel() {
			if pair.GetName() == label {
				out[pair.GetValue()] = int64(metric.GetCounter().GetValue())
			}
		}
	}
	return out
}

func latencySummary(f *dto.MetricFamily) LatencySummary {
	var out LatencySummary
	if f == nil || len(f.GetMetric()) == 0 {
		return out
	}
	summary := f.GetMetric()[0].GetSummary()
	out.Count = int64(summary.GetSampleCount())
	if out.Count == 0 {
		return out
	}
	out.AverageMs = summary.GetSampleSum() * 1000 / float64(out.Count)
	for _, q := range summary.GetQuantile() {
		v := q.GetValue()
		if math.IsNaN(v) {
			continue
		}
		switch q.GetQuantile() {
		case 0.5:
			out.P50Ms = v * 1000
		case 0.9:
			out.P90Ms = v * 1000
		case 0.99:
			out.P99Ms = v * 1000
		}
	}
	return out
}

func systemStats() SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return SystemStats{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		HeapSys:    mem.HeapSys,
		GCCount:    mem.NumGC,
		NumCPU:     runtime.NumCPU(),
	}
}
