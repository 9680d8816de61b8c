// Package metrics exposes relay counters and gauges on a private Prometheus registry.
package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pushchain/payout-relay/relayer/chains/common"
)

const namespace = "payout_relay"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	eventsObserved    prometheus.Counter
	duplicateEvents   prometheus.Counter
	decodeFailures    prometheus.Counter
	payoutsTotal      *prometheus.CounterVec
	submissionRetries prometheus.Counter
	eventRetries      prometheus.Counter
	reconnectsTotal   prometheus.Counter
	connectionState   prometheus.Gauge
	fundingBalance    prometheus.Gauge
	checkpointBlock   prometheus.Gauge
	payoutDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	f := promauto.With(r)

	return &Metrics{
		registry: r,
		eventsObserved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_observed_total",
			Help:      "Purchase events decoded from the source chain, replays included",
		}),
		duplicateEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_events_total",
			Help:      "Events dropped by the idempotency guard",
		}),
		decodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Matching logs that could not be decoded",
		}),
		payoutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Terminal payout outcomes",
		}, []string{"outcome"}),
		submissionRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_retries_total",
			Help:      "Transient broadcast failures that were retried",
		}),
		eventRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_retries_total",
			Help:      "Events scheduled again after a non-terminal failure",
		}),
		reconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful source chain re-subscriptions",
		}),
		connectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Source chain connection state (0 disconnected, 1 reconnecting, 2 connected)",
		}),
		fundingBalance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "funding_balance_wei",
			Help:      "Last observed pending balance of the funding account",
		}),
		checkpointBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_block",
			Help:      "Persisted source chain resume block",
		}),
		payoutDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payout_duration_seconds",
			Help:      "Time from event receipt to terminal payout outcome",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"outcome"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncEventObserved() {
	if m != nil {
		m.eventsObserved.Inc()
	}
}

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.duplicateEvents.Inc()
	}
}

func (m *Metrics) IncDecodeFailure() {
	if m != nil {
		m.decodeFailures.Inc()
	}
}

func (m *Metrics) IncSubmissionRetry() {
	if m != nil {
		m.submissionRetries.Inc()
	}
}

func (m *Metrics) IncEventRetry() {
	if m != nil {
		m.eventRetries.Inc()
	}
}

// ObservePayout counts a terminal outcome and how long it took.
func (m *Metrics) ObservePayout(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.payoutsTotal.WithLabelValues(outcome).Inc()
	m.payoutDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveTransition is a common.TransitionFunc.
func (m *Metrics) ObserveTransition(from, to common.ConnectionState) {
	if m == nil {
		return
	}
	m.connectionState.Set(stateValue(to))
	if from == common.StateReconnecting && to == common.StateConnected {
		m.reconnectsTotal.Inc()
	}
}

func (m *Metrics) SetFundingBalance(wei *big.Int) {
	if m == nil || wei == nil {
		return
	}
	f, _ := new(big.Float).SetInt(wei).Float64()
	m.fundingBalance.Set(f)
}

func (m *Metrics) SetCheckpoint(block uint64) {
	if m != nil {
		m.checkpointBlock.Set(float64(block))
	}
}

func stateValue(s common.ConnectionState) float64 {
	switch s {
	case common.StateConnected:
		return 2
	case common.StateReconnecting:
		return 1
	default:
		return 0
	}
}
