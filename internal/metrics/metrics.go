// Package metrics implements per-agent duration, graph cache hit/miss,
// and per-workflow duration tracking, with bounded-memory ring buffers
// and a Prometheus exposition surface.
//
// Grounded on kadirpekel/hector's pkg/observability/metrics.go.
package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// sample is one ring-buffer entry for an agent's recent durations.
type sample struct {
	Duration time.Duration
	CacheHit bool
	At       time.Time
}

// ring is a fixed-capacity, oldest-evicted circular buffer.
type ring struct {
	buf  []sample
	next int
	full bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]sample, capacity)}
}

func (r *ring) push(s sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) samples() []sample {
	if !r.full {
		return append([]sample(nil), r.buf[:r.next]...)
	}
	out := make([]sample, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// AgentStats summarizes a single agent's recent samples.
type AgentStats struct {
	Samples  int
	CacheHits int
	AvgDuration time.Duration
}

// Monitor tracks agent, workflow, and graph-cache performance.
type Monitor struct {
	mu          sync.Mutex
	perAgent    map[string]*ring
	ringCap     int
	workflowDur *ring

	cacheHits   int64
	cacheMisses int64

	registry *prometheus.Registry

	agentDuration *prometheus.HistogramVec
	workflowTotal *prometheus.CounterVec
	cacheHitCtr   prometheus.Counter
	cacheMissCtr  prometheus.Counter
	compileTime   prometheus.Histogram
}

// Config controls ring buffer sizing.
type Config struct {
	RingCapacityPerAgent int // default 100
}

// New creates a Monitor registered against a fresh Prometheus registry
// (the caller serves Registry() under its HTTP router).
func New(cfg Config) *Monitor {
	if cfg.RingCapacityPerAgent <= 0 {
		cfg.RingCapacityPerAgent = 100
	}

	reg := prometheus.NewRegistry()

	m := &Monitor{
		perAgent:    make(map[string]*ring),
		ringCap:     cfg.RingCapacityPerAgent,
		workflowDur: newRing(cfg.RingCapacityPerAgent),
		registry:    reg,
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finflow",
			Subsystem: "agent",
			Name:      "duration_seconds",
			Help:      "Agent invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		workflowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finflow",
			Subsystem: "workflow",
			Name:      "completed_total",
			Help:      "Workflows completed, labeled by terminal status.",
		}, []string{"status"}),
		cacheHitCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finflow", Subsystem: "graph_cache", Name: "hits_total",
			Help: "Graph compiler cache hits.",
		}),
		cacheMissCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finflow", Subsystem: "graph_cache", Name: "misses_total",
			Help: "Graph compiler cache misses.",
		}),
		compileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "finflow", Subsystem: "graph_cache", Name: "compile_seconds",
			Help:    "Graph compilation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.agentDuration, m.workflowTotal, m.cacheHitCtr, m.cacheMissCtr, m.compileTime)
	return m
}

// Registry exposes the Prometheus registry for mounting at /metrics.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// RecordAgentDuration records one agent invocation's duration.
func (m *Monitor) RecordAgentDuration(agent string, d time.Duration, cacheHit bool) {
	m.mu.Lock()
	r, ok := m.perAgent[agent]
	if !ok {
		r = newRing(m.ringCap)
		m.perAgent[agent] = r
	}
	r.push(sample{Duration: d, CacheHit: cacheHit, At: time.Now()})
	m.mu.Unlock()

	m.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordWorkflowCompletion records a workflow's terminal duration and
// status.
func (m *Monitor) RecordWorkflowCompletion(status string, d time.Duration) {
	m.mu.Lock()
	m.workflowDur.push(sample{Duration: d, At: time.Now()})
	m.mu.Unlock()
	m.workflowTotal.WithLabelValues(status).Inc()
}

// RecordCacheHit implements graph.Observer.
func (m *Monitor) RecordCacheHit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
	m.cacheHitCtr.Inc()
}

// RecordCacheMiss implements graph.Observer.
func (m *Monitor) RecordCacheMiss() {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
	m.cacheMissCtr.Inc()
}

// RecordCompileDuration records graph compilation latency.
func (m *Monitor) RecordCompileDuration(d time.Duration) {
	m.compileTime.Observe(d.Seconds())
}

// CacheStats returns the cumulative hit/miss counts (used by tests to
// assert "monitor reports cache_hits >= 1").
func (m *Monitor) CacheStats() (hits, misses int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHits, m.cacheMisses
}

// AgentStats summarizes an agent's recent ring-buffer samples.
func (m *Monitor) AgentStats(agent string) AgentStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.perAgent[agent]
	if !ok {
		return AgentStats{}
	}
	samples := r.samples()
	if len(samples) == 0 {
		return AgentStats{}
	}

	var total time.Duration
	hits := 0
	for _, s := range samples {
		total += s.Duration
		if s.CacheHit {
			hits++
		}
	}
	return AgentStats{
		Samples:     len(samples),
		CacheHits:   hits,
		AvgDuration: total / time.Duration(len(samples)),
	}
}

// LogSummary emits a periodic summary log. Callers drive the ticker
// (default every 15 minutes); this method logs a single snapshot.
func (m *Monitor) LogSummary(logger *slog.Logger) {
	hits, misses := m.CacheStats()
	logger.Info("performance summary", "cache_hits", hits, "cache_misses", misses, "agents_tracked", m.agentCount())
}

func (m *Monitor) agentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.perAgent)
}
