package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Proxy Prometheus metrics.
var (
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "upstream_requests_total",
			Help:      "Total number of completion requests forwarded upstream",
		},
		[]string{"mode", "outcome"}, // mode: buffered|stream; outcome: ok|upstream_error|transport_error|interrupted
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spendgate",
			Name:      "upstream_request_duration_seconds",
			Help:      "Time from forwarding to the last upstream byte",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	AdmissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "admission_decisions_total",
			Help:      "Budget admission decisions",
		},
		[]string{"decision"}, // allow|deny|error
	)

	SpendUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "spend_usd_total",
			Help:      "USD recorded against the spend ledger",
		},
		[]string{"model"},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "tokens_total",
			Help:      "Billed tokens",
		},
		[]string{"model", "type"}, // type: input|output
	)

	SettlementFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "settlement_failures_total",
			Help:      "Settlements dropped after the response was delivered",
		},
		[]string{"stage"},
	)

	SettlementsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spendgate",
			Name:      "settlements_in_flight",
			Help:      "Detached settlements not yet finished",
		},
	)
)

var registerOnce sync.Once

// RegisterProxyMetrics registers the proxy metrics. Must be called from main.
func RegisterProxyMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			UpstreamRequestsTotal,
			UpstreamRequestDuration,
			AdmissionDecisionsTotal,
			SpendUSDTotal,
			TokensTotal,
			SettlementFailuresTotal,
			SettlementsInFlight,
		)
	})
}
