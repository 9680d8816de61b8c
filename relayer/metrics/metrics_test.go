package metrics

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/payout-relay/relayer/chains/common"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.IncEventObserved()
	m.IncEventObserved()
	m.IncDuplicate()
	m.IncDecodeFailure()
	m.ObservePayout("CONFIRMED", 2*time.Second)
	m.ObservePayout("REJECTED", time.Second)
	m.ObservePayout("CONFIRMED", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsObserved))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicateEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.payoutsTotal.WithLabelValues("CONFIRMED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payoutsTotal.WithLabelValues("REJECTED")))
}

func TestMetrics_Transitions(t *testing.T) {
	m := New()

	m.ObserveTransition(common.StateDisconnected, common.StateConnected)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionState))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.reconnectsTotal))

	m.ObserveTransition(common.StateConnected, common.StateDisconnected)
	m.ObserveTransition(common.StateDisconnected, common.StateReconnecting)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState))

	m.ObserveTransition(common.StateReconnecting, common.StateConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnectsTotal))
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SetFundingBalance(big.NewInt(5_000))
	m.SetCheckpoint(42)

	assert.Equal(t, 5000.0, testutil.ToFloat64(m.fundingBalance))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.checkpointBlock))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncEventObserved()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "payout_relay_events_observed_total 1")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncEventObserved()
		m.ObservePayout("CONFIRMED", time.Second)
		m.ObserveTransition(common.StateReconnecting, common.StateConnected)
		m.SetFundingBalance(big.NewInt(1))
		m.SetCheckpoint(1)
	})
	assert.Nil(t, m.Registry())
}
