// Package metrics exports the node's Prometheus metrics: HTTP traffic,
// submissions and replay rejections, commit latency, multisig votes, blocks
// and the faucet.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the node's collectors. Each Metrics owns its registry, so
// several nodes can share a process.
type Metrics struct {
	Registry *prometheus.Registry

	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RequestInFlight    *prometheus.GaugeVec
	ErrorCount         *prometheus.CounterVec
	ServiceUptime      prometheus.Gauge
	ServiceLastStarted prometheus.Gauge
	DependencyUp       *prometheus.GaugeVec

	SubmissionCount   *prometheus.CounterVec
	ReplayRejections  prometheus.Counter
	CommitLatency     *prometheus.HistogramVec
	StorageConflicts  *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	MultisigVotes     *prometheus.CounterVec
	BlocksSealed      prometheus.Counter
	BlockHeight       prometheus.Gauge
	BlockTransactions prometheus.Histogram
	FaucetMinted      prometheus.Counter
	FaucetRequests    *prometheus.CounterVec
}

type Config struct {
	Namespace string
	// Subsystem prefixes the HTTP and service metrics.
	Subsystem   string
	ServiceName string
	// RuntimeCollectors adds the Go runtime and process collectors.
	RuntimeCollectors bool
}

func DefaultConfig() Config {
	return Config{Namespace: "orderless", ServiceName: "orderless-node"}
}

// builder names every metric under one namespace.
type builder struct {
	f         promauto.Factory
	namespace string
	service   prometheus.Labels
}

func (b builder) counter(subsystem, name, help string) prometheus.Counter {
	return b.f.NewCounter(prometheus.CounterOpts{Namespace: b.namespace, Subsystem: subsystem, Name: name, Help: help})
}

func (b builder) counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return b.f.NewCounterVec(prometheus.CounterOpts{Namespace: b.namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func (b builder) gauge(subsystem, name, help string, constLabels prometheus.Labels) prometheus.Gauge {
	return b.f.NewGauge(prometheus.GaugeOpts{Namespace: b.namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: constLabels})
}

func (b builder) gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return b.f.NewGaugeVec(prometheus.GaugeOpts{Namespace: b.namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func (b builder) histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return b.f.NewHistogramVec(prometheus.HistogramOpts{Namespace: b.namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
}

// New registers the node's collectors on a fresh registry.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	if cfg.RuntimeCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	b := builder{
		f:         promauto.With(registry),
		namespace: cfg.Namespace,
		service:   prometheus.Labels{"service": cfg.ServiceName},
	}
	sub := cfg.Subsystem

	m := &Metrics{
		Registry: registry,

		RequestCount:       b.counterVec(sub, "request_total", "HTTP requests served", "service", "method", "path", "status"),
		RequestDuration:    b.histogramVec(sub, "request_duration_seconds", "HTTP request duration", prometheus.DefBuckets, "service", "method", "path"),
		RequestInFlight:    b.gaugeVec(sub, "requests_in_flight", "HTTP requests being served", "service"),
		ErrorCount:         b.counterVec(sub, "errors_total", "Errors answered, by domain and code", "service", "type", "code"),
		ServiceUptime:      b.gauge(sub, "service_uptime_seconds", "Seconds since the service started", b.service),
		ServiceLastStarted: b.gauge(sub, "service_last_started_timestamp", "Unix time the service last started", b.service),
		DependencyUp:       b.gaugeVec(sub, "dependency_up", "1 when the dependency's health check passes", "service", "dependency"),

		SubmissionCount:  b.counterVec("transaction", "submissions_total", "Orderless transactions submitted, by payload kind and outcome", "payload", "outcome"),
		ReplayRejections: b.counter("transaction", "replay_rejections_total", "Submissions rejected because their (sender, nonce) was already used"),
		CommitLatency:    b.histogramVec("transaction", "commit_latency_seconds", "Time from nonce reservation to commit", prometheus.DefBuckets, "payload"),
		StorageConflicts: b.counterVec("storage", "conflicts_total", "Optimistic storage transactions retried after a conflict", "backend"),
		QueueDepth:       b.gauge("processor", "queue_depth", "Accepted transactions not yet executed", nil),
		MultisigVotes:    b.counterVec("multisig", "votes_total", "Multisig votes recorded, by whether they executed the payload", "result"),

		BlocksSealed: b.counter("chain", "blocks_sealed_total", "Blocks sealed by the processor"),
		BlockHeight:  b.gauge("chain", "block_height", "Height of the latest sealed block", nil),
		BlockTransactions: b.f.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: "chain", Name: "block_transactions",
			Help: "Transactions per sealed block", Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		FaucetMinted:   b.counter("faucet", "minted_octas_total", "Octas minted by the faucet"),
		FaucetRequests: b.counterVec("faucet", "requests_total", "Faucet funding requests", "status"),
	}
	m.ServiceLastStarted.SetToCurrentTime()
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordUptime updates the uptime gauge every second until done closes.
func (m *Metrics) RecordUptime(done <-chan struct{}) {
	start := time.Now()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.ServiceUptime.Set(time.Since(start).Seconds())
			case <-done:
				return
			}
		}
	}()
}

// RecordRequest records a served HTTP request. path is the route pattern.
func (m *Metrics) RecordRequest(service, method, path string, status int, duration time.Duration) {
	m.RequestCount.WithLabelValues(service, method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordError(service, domain, code string) {
	m.ErrorCount.WithLabelValues(service, domain, code).Inc()
}

func (m *Metrics) RecordDependencyStatus(service, dependency string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.DependencyUp.WithLabelValues(service, dependency).Set(v)
}

// RecordSubmission counts a submission. Duplicate nonces also count as
// replay rejections.
func (m *Metrics) RecordSubmission(payloadKind, outcome string) {
	m.SubmissionCount.WithLabelValues(payloadKind, outcome).Inc()
	if outcome == "duplicate_nonce" {
		m.ReplayRejections.Inc()
	}
}

func (m *Metrics) RecordCommit(payloadKind string, latency time.Duration) {
	m.CommitLatency.WithLabelValues(payloadKind).Observe(latency.Seconds())
}

func (m *Metrics) RecordStorageConflict(backend string) {
	m.StorageConflicts.WithLabelValues(backend).Inc()
}

func (m *Metrics) RecordMultisigVote(executed bool) {
	result := "pending"
	if executed {
		result = "executed"
	}
	m.MultisigVotes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBlock(height uint64, txCount int) {
	m.BlocksSealed.Inc()
	m.BlockHeight.Set(float64(height))
	m.BlockTransactions.Observe(float64(txCount))
}

// RecordFaucet counts a faucet request and adds amount to the minted total.
func (m *Metrics) RecordFaucet(status string, amount uint64) {
	m.FaucetRequests.WithLabelValues(status).Inc()
	if amount > 0 {
		m.FaucetMinted.Add(float64(amount))
	}
}
