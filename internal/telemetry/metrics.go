package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the GameDex server.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	RequestDurationMs   *prometheus.HistogramVec
	CacheEventsTotal    *prometheus.CounterVec
	CoalescedJoinsTotal prometheus.Counter
	UpstreamTotal       *prometheus.CounterVec
	FailoverTotal       *prometheus.CounterVec
	ModelRetryTotal     *prometheus.CounterVec
	ExpansionTotal      *prometheus.CounterVec
	StreamChunksTotal   prometheus.Counter
	TokensTotal         *prometheus.CounterVec
	SpendCentsTotal     *prometheus.CounterVec
	RateLimitHitsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once per
// process; promauto registers against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedex_request_total",
			Help: "Total API requests processed.",
		}, []string{"handler", "status"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gamedex_request_duration_ms",
			Help:    "Request duration in milliseconds, including upstream latency.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"handler"}),

		CacheEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedex_cache_events_total",
			Help: "Response cache events by cache name.",
		}, []string{"cache", "event"}),

		CoalescedJoinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gamedex_coalesced_joins_total",
			Help: "Requests that joined an already in-flight upstream call.",
		}),

		UpstreamTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedex_upstream_requests_total",
			Help: "Upstream provider operations by outcome.",
		}, []string{"provider", "op", "outcome"}),

		FailoverTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedex_provider_failover_total",
			Help: "Operations that fell over from the primary to the secondary provider.",
		}, []string{"op"}),

		ModelRetryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedex_model_retries_total",
			Help: "Model-level fallback attempts within one provider.",
		}, []string{"provider", "model", "kind"}),

		ExpansionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedex_expansion_resolutions_total",
			Help: "Studio expansions resolved, by tier.",
		}, []string{"tier"}),

		StreamChunksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gamedex_stream_chunks_total",
			Help: "SSE snapshots delivered to streaming clients.",
		}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedex_tokens_total",
			Help: "Tokens consumed upstream.",
		}, []string{"provider", "model", "direction"}),

		SpendCentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedex_spend_cents_total",
			Help: "Estimated upstream spend in cents.",
		}, []string{"provider", "model"}),

		RateLimitHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedex_ratelimit_hits_total",
			Help: "Requests rejected by rate or spend limits.",
		}, []string{"limit"}),
	}
}

// RecordRequest records metrics for one completed API request.
func (m *Metrics) RecordRequest(handler, status string, durationMs float64) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(handler, status).Inc()
	m.RequestDurationMs.WithLabelValues(handler).Observe(durationMs)
}

// RecordCacheEvent counts a hit, miss, refresh, or clear on a named cache.
func (m *Metrics) RecordCacheEvent(cache, event string) {
	if m == nil {
		return
	}
	m.CacheEventsTotal.WithLabelValues(cache, event).Inc()
}

func (m *Metrics) RecordCoalescedJoin() {
	if m == nil {
		return
	}
	m.CoalescedJoinsTotal.Inc()
}

func (m *Metrics) RecordUpstream(provider, op, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamTotal.WithLabelValues(provider, op, outcome).Inc()
}

func (m *Metrics) RecordFailover(op string) {
	if m == nil {
		return
	}
	m.FailoverTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordModelRetry(provider, model, kind string) {
	if m == nil {
		return
	}
	m.ModelRetryTotal.WithLabelValues(provider, model, kind).Inc()
}

func (m *Metrics) RecordExpansion(tier string) {
	if m == nil {
		return
	}
	m.ExpansionTotal.WithLabelValues(tier).Inc()
}

// RecordUsage counts tokens and estimated spend for one upstream response.
func (m *Metrics) RecordUsage(provider, model string, promptTokens, completionTokens int, cents float64) {
	if m == nil {
		return
	}
	if promptTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if cents > 0 {
		m.SpendCentsTotal.WithLabelValues(provider, model).Add(cents)
	}
}

func (m *Metrics) RecordStreamChunk() {
	if m == nil {
		return
	}
	m.StreamChunksTotal.Inc()
}

func (m *Metrics) RecordRateLimitHit(limit string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limit).Inc()
}
