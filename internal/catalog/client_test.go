package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanku-art/tile-harvester/internal/model"
	"github.com/quanku-art/tile-harvester/internal/session"
)

// redirectTransport rewrites every outbound request's host to point at a
// local httptest server, so the hardcoded api.quanku.art endpoints can be
// exercised without real network access.
type redirectTransport struct{ target *url.URL }

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	req.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testBundle(t *testing.T, srv *httptest.Server) *session.Bundle {
	t.Helper()
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &session.Bundle{
		Client:    &http.Client{Transport: redirectTransport{target: target}},
		TourToken: "tok-1",
		Headers:   map[string]string{},
	}
}

func TestListOfArtistPersistsRawResponseAndDecodesData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"Id": "w1", "name": "Work One"}]}`))
	}))
	defer srv.Close()

	root := t.TempDir()
	client := New(nil, root)
	bundle := testBundle(t, srv)

	entries, _, err := client.ListOfArtist(context.Background(), model.SUHA, "artist-1", bundle, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var decoded struct {
		ID string `json:"Id"`
	}
	require.NoError(t, json.Unmarshal(entries[0], &decoded))
	assert.Equal(t, "w1", decoded.ID)

	raw, readErr := os.ReadFile(filepath.Join(root, "artist-1", "all_huia_of_artist.json"))
	require.NoError(t, readErr)
	assert.Contains(t, string(raw), "Work One")
}

func TestGetSubListWritesErrorEnvelopeOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	root := t.TempDir()
	client := New(nil, root)
	bundle := testBundle(t, srv)

	_, _, err := client.GetSubList(context.Background(), "artist-1", "work-1", model.SUHA, bundle, 0)
	require.Error(t, err)

	raw, readErr := os.ReadFile(filepath.Join(root, "artist-1", "work-1", "sub_list.json"))
	require.NoError(t, readErr)
	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.NotEmpty(t, envelope.Error)
}

func TestGetResourcePersistsRawPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"suha": {"hdp": {"hdpic": {"resourceId": "res-1", "name": "Plate 1"}}}}}`))
	}))
	defer srv.Close()

	root := t.TempDir()
	client := New(nil, root)
	bundle := testBundle(t, srv)

	raw, _, err := client.GetResource(context.Background(), "artist-1", "work-1", "res-1", model.SUHA, bundle, 0)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Plate 1")

	persisted, readErr := os.ReadFile(filepath.Join(root, "artist-1", "work-1", "res-1", "resource.json"))
	require.NoError(t, readErr)
	assert.Contains(t, string(persisted), "Plate 1")
}
