package retry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSONEscalatesRateLimitSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Code": -11}`))
	}))
	defer srv.Close()

	_, err := DoJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, nil, map[string]any{})
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
}

func TestDoJSONEscalatesProxyAuthStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusProxyAuthRequired)
	}))
	defer srv.Close()

	_, err := DoJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, nil, map[string]any{})
	var pae *ProxyAuthError
	require.ErrorAs(t, err, &pae)
}

func TestDoJSONRetriesTransientFailureThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.Write([]byte("not json"))
			return
		}
		w.Write([]byte(`{"data": "ok"}`))
	}))
	defer srv.Close()

	raw, err := DoJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, nil, map[string]any{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": "ok"}`, string(raw))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
