package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.RecordStage("enrichment", OutcomeOK)
	m.RecordStage("enrichment", OutcomeOK)
	m.RecordStage("enrichment", OutcomeSkipped)
	m.RecordSink("tenders", true)
	m.RecordSink("tenders", false)
	m.ObserveRecovery("quote_repair")
	m.ObserveStage("enrichment", 250*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.records.WithLabelValues("enrichment", OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.records.WithLabelValues("enrichment", OutcomeSkipped)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sink.WithLabelValues("tenders", OutcomeFailed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.recovery.WithLabelValues("quote_repair")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordStage("codes", OutcomeOK)
		m.RecordSink("cpvs", true)
		m.ObserveRecovery("fallback")
		m.ObserveStage("codes", time.Second)
	})
}

func TestServerEndpoints(t *testing.T) {
	m := New()
	m.RecordSink("pdfs", true)

	srv := httptest.NewServer(NewServer(m, ":0").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `etenders_sink_records_total{outcome="ok",sink="pdfs"} 1`))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
