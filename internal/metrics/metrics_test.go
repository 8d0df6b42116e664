package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.MessageApplied("p")
	m.LateEvent("p")
	m.RecordsDropped(3)
	m.CacheLookup(true)
	require.Nil(t, m.Registry())
}

func TestMetrics_CountsAndServes(t *testing.T) {
	m := New()
	m.MessageApplied("avg-length")
	m.MessageApplied("avg-length")
	m.RecordsWritten(3)
	m.CacheLookup(false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("avg-length")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.recordsWritten))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `profiler_model_cache_lookups_total{result="miss"} 1`))
}
