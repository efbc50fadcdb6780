package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisefs-labs/execcore/pkg/executor"
)

func TestServer_StatsEndpointServesExecutorSnapshot(t *testing.T) {
	e := executor.NewNoop()
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Shutdown(0) })

	s := New("front", e)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var doc StatsDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "noop", doc.Executor.Executor)
}

func TestServer_HealthzReportsOK(t *testing.T) {
	e := executor.NewNoop()
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Shutdown(0) })

	s := New("front", e)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MetricsEndpointExposesPrometheusFormat(t *testing.T) {
	e := executor.NewNoop()
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Shutdown(0) })

	s := New("front", e)
	_ = s.Document() // populate gauges before scraping
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
