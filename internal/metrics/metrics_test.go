package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Update("device", true)
		m.Write(OutcomeOK, time.Millisecond)
		m.Revert()
		m.Snapshot()
		m.Error("write")
		m.Connected(true)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	m := New()

	m.Update("device", false)
	m.Update("device", true)
	m.Update("alert", false)
	m.Write(OutcomeOK, 10*time.Millisecond)
	m.Write(OutcomeFailed, 10*time.Millisecond)
	m.Write(OutcomeDiscarded, 0)
	m.Revert()
	m.Snapshot()
	m.Snapshot()
	m.Error("subscription")
	m.Connected(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.updates.WithLabelValues("device")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.updates.WithLabelValues("alert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.coalesced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reverts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.snapshots))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("subscription")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))

	m.Connected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connected))
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.Snapshot()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "homesync_snapshots_total 1")
}
