package igauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the credential lifecycle counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	FlowsTotal       *prometheus.CounterVec
	DegradedTotal    *prometheus.CounterVec
	RefreshesTotal   *prometheus.CounterVec
	LookupsTotal     *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FlowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "igauth_oauth_flows_total",
			Help: "OAuth callbacks processed, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		DegradedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "igauth_oauth_degraded_total",
			Help: "Non fatal flow steps that failed, by provider and step.",
		}, []string{"provider", "step"}),
		RefreshesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "igauth_token_refreshes_total",
			Help: "Token refresh attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "igauth_token_lookups_total",
			Help: "Token gateway lookups, by outcome.",
		}, []string{"outcome"}),
		ProviderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "igauth_provider_request_duration_seconds",
			Help:    "Provider round trip latency, by provider and operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
	}
}

func (m *Metrics) flow(provider, outcome string) {
	if m == nil {
		return
	}
	m.FlowsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) degraded(provider, step string) {
	if m == nil {
		return
	}
	m.DegradedTotal.WithLabelValues(provider, step).Inc()
}

func (m *Metrics) refresh(provider, outcome string) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) lookup(outcome string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeProvider(provider, operation string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderDuration.WithLabelValues(provider, operation).Observe(seconds)
}
