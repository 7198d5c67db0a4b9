package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/client-runner/internal/lifecycle"
)

var _ lifecycle.Observer = (*Recorder)(nil)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder("reports")

	r.ObserveRun(lifecycle.OutcomeSuccess, 2*time.Second)
	r.ObserveRun(lifecycle.OutcomeEscalated, time.Minute)
	r.ObserveRetry()
	r.ObserveRetry()
	r.ObserveEscalation()
	r.ObserveReleaseFailure(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("reports", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("reports", "escalated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("reports")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.escalations.WithLabelValues("reports")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.releaseFailures.WithLabelValues("reports")))
	assert.Greater(t, testutil.ToFloat64(r.lastRun.WithLabelValues("reports")), 0.0)
}

func TestRecorder_EscalationExposed(t *testing.T) {
	r := NewRecorder("reports")
	r.ObserveEscalation()

	expected := `
# HELP client_runner_escalations_total Runs that reached the retry ceiling.
# TYPE client_runner_escalations_total counter
client_runner_escalations_total{module="reports"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "client_runner_escalations_total"))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder("reports")
	r.ObserveRun(lifecycle.OutcomeSuccess, time.Second)

	path := filepath.Join(t.TempDir(), "client_runner.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `client_runner_runs_total{module="reports",outcome="success"} 1`)
}

func TestRecorder_WriteTextfileError(t *testing.T) {
	r := NewRecorder("reports")
	err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder("reports")
	r.ObserveRetry()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `client_runner_retries_total{module="reports"} 1`)
}
