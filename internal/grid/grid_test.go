package grid

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanku-art/tile-harvester/internal/model"
	"github.com/quanku-art/tile-harvester/internal/session"
	"github.com/quanku-art/tile-harvester/internal/sessionpool"
	"github.com/quanku-art/tile-harvester/internal/sign"
	"github.com/quanku-art/tile-harvester/internal/tile"
)

type redirectTransport struct{ target *url.URL }

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	req.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestBundle(t *testing.T, srv *httptest.Server) *session.Bundle {
	t.Helper()
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &session.Bundle{
		Client:  &http.Client{Transport: redirectTransport{target: target}},
		Headers: map[string]string{},
	}
}

// stubTokenEndpoint points the token mint at a local stub so constructing
// a real pool never leaves the test process.
func stubTokenEndpoint(t *testing.T) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token": "tok-test"}`))
	}))
	old := session.AccessTokenURL
	session.AccessTokenURL = srv.URL
	t.Cleanup(func() {
		session.AccessTokenURL = old
		srv.Close()
	})
}

func newProber(t *testing.T) *Prober {
	t.Helper()
	stubTokenEndpoint(t)
	pool, err := sessionpool.New(context.Background(), 1, false, nil, nil, "grid-test")
	require.NoError(t, err)
	return New(tile.New(pool, sign.New()))
}

// TestGridTerminatesAfterThreeEmptyColumns exercises the "empty variant"
// property: a variant whose every tile 404s must halt after exactly three
// probed columns, saving nothing and writing no completion marker.
func TestGridTerminatesAfterThreeEmptyColumns(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newProber(t)
	bundle := newTestBundle(t, srv)
	result, _, err := p.Probe(context.Background(), dir, "variant-1", model.SUHA, bundle, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, result.TilesSaved)
	assert.False(t, result.Completed)
	_, statErr := os.Stat(filepath.Join(dir, model.CompletionMarkerName))
	assert.True(t, os.IsNotExist(statErr))
}

// TestGridSavesRectangularGridAndMarksComplete exercises the happy-path
// 2x2 grid: every tile in a 2x2 block succeeds, then the grid is bounded
// by the first miss on row 2.
func TestGridSavesRectangularGridAndMarksComplete(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x, y := parseXY(r.URL.Path)
		if x < 2 && y < 2 {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newProber(t)
	bundle := newTestBundle(t, srv)
	result, _, err := p.Probe(context.Background(), dir, "variant-1", model.SUHA, bundle, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, result.TilesSaved)
	assert.True(t, result.Completed)
	for _, name := range []string{"0_0.jpg", "0_1.jpg", "1_0.jpg", "1_1.jpg"} {
		_, statErr := os.Stat(filepath.Join(dir, "tile", name))
		assert.NoError(t, statErr)
	}
	_, markerErr := os.Stat(filepath.Join(dir, model.CompletionMarkerName))
	assert.NoError(t, markerErr)
}

// TestGridAdaptiveHeightBoundsLaterColumns pins the probed height to the
// first row miss: (0,3) misses after three good rows, so later columns
// stop at y=2 and never query y=3. Column 2 is entirely empty and starts
// the run of empty columns that ends the sweep; tiles were saved, so the
// marker is still written.
func TestGridAdaptiveHeightBoundsLaterColumns(t *testing.T) {
	dir := t.TempDir()
	queried := make(map[string]bool)
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x, y := parseXY(r.URL.Path)
		mu.Lock()
		queried[fmt.Sprintf("%d_%d", x, y)] = true
		mu.Unlock()
		if x < 2 && y < 3 {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newProber(t)
	bundle := newTestBundle(t, srv)
	result, _, err := p.Probe(context.Background(), dir, "variant-1", model.SUHA, bundle, 0)
	require.NoError(t, err)

	assert.Equal(t, 6, result.TilesSaved)
	assert.True(t, result.Completed)
	assert.True(t, queried["0_3"], "the first column must probe until its first miss")
	assert.False(t, queried["1_3"], "later columns must stop at the bound height")
	_, markerErr := os.Stat(filepath.Join(dir, model.CompletionMarkerName))
	assert.NoError(t, markerErr)
}

// TestProbeSkipsVariantWithCompletionMarker exercises the resume contract:
// a marked variant must issue zero tile requests.
func TestProbeSkipsVariantWithCompletionMarker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.CompletionMarkerName), []byte("123"), 0o644))

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p := newProber(t)
	bundle := newTestBundle(t, srv)
	result, _, err := p.Probe(context.Background(), dir, "variant-1", model.SUHA, bundle, 0)
	require.NoError(t, err)

	assert.True(t, result.Completed)
	assert.Equal(t, 0, result.TilesSaved)
	assert.False(t, called, "a completed variant must not issue any tile requests")
}

func parseXY(path string) (int, int) {
	base := filepath.Base(path)
	base = base[:len(base)-len(filepath.Ext(base))]
	var x, y int
	sep := -1
	for i, c := range base {
		if c == '_' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return -1, -1
	}
	x = atoiSafe(base[:sep])
	y = atoiSafe(base[sep+1:])
	return x, y
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}
