package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRoundCounters(t *testing.T) {
	m := New()
	m.RoundFinished(OutcomeSuccess)
	m.RoundFinished(OutcomeSuccess)
	m.RoundFinished(OutcomeEmptyQueue)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rounds.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rounds.WithLabelValues(OutcomeEmptyQueue)))
}

func TestGauges(t *testing.T) {
	m := New()
	m.RoundStarted(5, 1024)
	m.SetPaused(true)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.QueueCount))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.PayloadSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Paused))

	m.SetPaused(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Paused))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RoundStarted(1, 1)
		m.RoundFinished(OutcomeSuccess)
		m.ObserveDrain("10", 0.1)
		m.Pop("localhost:3001", "ok")
		m.PushError()
		m.SetPaused(true)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.PushError()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "maxpop_push_errors_total 1")
}
