package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisefs-labs/execcore/pkg/executor"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	e := executor.NewNoop()
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Shutdown(0) })
	return New("front", e)
}

func TestHandleDrain_InvokesDrainFuncWithTimeout(t *testing.T) {
	s := newTestServer(t)

	var gotTimeout time.Duration
	s.WithDrain(func(timeout time.Duration) bool {
		gotTimeout = timeout
		return true
	})

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/drain?timeout=2s", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2*time.Second, gotTimeout)

	var body struct {
		Drained bool `json:"drained"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Drained)
}

func TestHandleDrain_NotConfiguredReturns501(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/drain", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestHandleTune_AppliesPartialUpdate(t *testing.T) {
	s := newTestServer(t)

	var got TuneRequest
	s.WithTune(func(req TuneRequest) error {
		got = req
		return nil
	})

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body, _ := json.Marshal(TuneRequest{IdlePctThreshold: intPtr(75)})
	resp, err := http.Post(srv.URL+"/tune", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotNil(t, got.IdlePctThreshold)
	assert.Equal(t, 75, *got.IdlePctThreshold)
}

func intPtr(n int) *int { return &n }
