package proxypool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanku-art/tile-harvester/internal/retry"
)

type redirectTransport struct{ target *url.URL }

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	req.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newRedirectedClient(t *testing.T, srv *httptest.Server) *http.Client {
	t.Helper()
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &http.Client{Transport: redirectTransport{target: target}}
}

func TestNewWithEmptyKeyReturnsConfigError(t *testing.T) {
	_, err := New(nil, "")
	require.Error(t, err)
	var cfgErr *retry.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestAllocateParsesBareStringHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Data": [{"host": "1.2.3.4:8080"}, {"host": "5.6.7.8:9090"}]}`))
	}))
	defer srv.Close()

	p, err := New(newRedirectedClient(t, srv), "test-key")
	require.NoError(t, err)

	proxies, err := p.Allocate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://1.2.3.4:8080", "http://5.6.7.8:9090"}, proxies)
}

func TestAllocateParsesObjectShapedHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Data": [{"host": {"http": "http://9.9.9.9:80", "https": "https://9.9.9.9:443"}}]}`))
	}))
	defer srv.Close()

	p, err := New(newRedirectedClient(t, srv), "test-key")
	require.NoError(t, err)

	proxies, err := p.Allocate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://9.9.9.9:80"}, proxies)
}

func TestAllocateFailsFatalWhenDataArrayIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Data": []}`))
	}))
	defer srv.Close()

	p, err := New(newRedirectedClient(t, srv), "test-key")
	require.NoError(t, err)

	_, err = p.Allocate(context.Background(), 1)
	require.Error(t, err)
	var fatalErr *retry.FatalProxyError
	assert.ErrorAs(t, err, &fatalErr)
}
