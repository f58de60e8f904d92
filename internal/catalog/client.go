// Package catalog wraps the four JSON catalog endpoints, persisting each
// raw response to disk and propagating rotated session bundles back to the
// caller.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/quanku-art/tile-harvester/internal/model"
	"github.com/quanku-art/tile-harvester/internal/retry"
	"github.com/quanku-art/tile-harvester/internal/session"
	"github.com/quanku-art/tile-harvester/internal/sessionpool"
)

const (
	listHuiaURL    = "https://api.quanku.art/cag2.ArtistService/listHuiaOfArtist"
	listSufaURL    = "https://api.quanku.art/cag2.ArtistService/listSufaOfArtist"
	subListURL     = "https://api.quanku.art/cag2.ResourceService/getSubList"
	getResourceURL = "https://api.quanku.art/cag2.ResourceService/getResource"
)

// Client wraps the catalog endpoints and persists raw responses under root.
type Client struct {
	pool *sessionpool.Pool
	root string
}

// New builds a Client that persists JSON under root (the rawdata tree).
func New(pool *sessionpool.Pool, root string) *Client {
	return &Client{pool: pool, root: root}
}

// ErrorEnvelope is written to disk in place of a response when a catalog
// call ultimately fails, so downstream tools can re-queue from the
// sentinel files.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Request any    `json:"request"`
}

func writeJSON(path string, raw []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, raw, 0o644)
}

func writeErrorEnvelope(path string, err error, request any) {
	envelope := ErrorEnvelope{Error: err.Error(), Request: request}
	raw, marshalErr := json.MarshalIndent(envelope, "", "  ")
	if marshalErr != nil {
		return
	}
	writeJSON(path, raw)
}

// callWithRotation runs body against bundle/index, rotating token or bundle
// on the pool as instructed by the outer rotation loop, and returns the
// raw JSON bytes from the last attempt.
func (c *Client) callWithRotation(ctx context.Context, kind model.PoolKind, bundle **session.Bundle, index int, body func(b *session.Bundle) ([]byte, error)) ([]byte, error) {
	var raw []byte
	err := retry.WithRotation(
		ctx,
		index,
		func() string { return (*bundle).TourToken },
		func(ctx context.Context, idx int, forceNew bool, oldToken string) error {
			rotated, err := c.pool.RotateToken(ctx, kind, idx, forceNew, oldToken)
			if err != nil {
				return err
			}
			*bundle = rotated
			return nil
		},
		func(ctx context.Context, idx int, forceNewToken bool) error {
			rotated, err := c.pool.Replace(ctx, kind, idx, forceNewToken)
			if err != nil {
				return err
			}
			*bundle = rotated
			return nil
		},
		func() error {
			b, err := body(*bundle)
			raw = b
			return err
		},
	)
	return raw, err
}

type listPage struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

type requestContext struct {
	TourToken string `json:"tourToken"`
}

type listRequest struct {
	ID      string         `json:"Id"`
	Page    listPage       `json:"page"`
	Context requestContext `json:"context"`
}

// ListResponse is the decoded shape of the two listing endpoints.
type ListResponse struct {
	Data []json.RawMessage `json:"data"`
}

// ListOfArtist fetches either the painting or calligraphy listing for
// artistID, persisting the raw response and returning the (possibly
// rotated) bundle alongside the decoded work entries.
func (c *Client) ListOfArtist(ctx context.Context, family model.Family, artistID string, bundle *session.Bundle, index int) ([]json.RawMessage, *session.Bundle, error) {
	url := listHuiaURL
	fileName := "all_huia_of_artist.json"
	if family == model.SUFA {
		url = listSufaURL
		fileName = "all_sufa_of_artist.json"
	}
	writePath := filepath.Join(c.root, artistID, fileName)

	reqBody := listRequest{
		ID:      artistID,
		Page:    listPage{Skip: 0, Limit: 999},
		Context: requestContext{TourToken: bundle.TourToken},
	}

	raw, err := c.callWithRotation(ctx, model.Primary, &bundle, index, func(b *session.Bundle) ([]byte, error) {
		reqBody.Context.TourToken = b.TourToken
		return retry.DoJSON(ctx, b.Client, http.MethodPost, url, b.Headers, reqBody)
	})
	if err != nil {
		writeErrorEnvelope(writePath, err, reqBody)
		return nil, bundle, err
	}
	writeJSON(writePath, raw)

	var parsed ListResponse
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil {
		return nil, bundle, fmt.Errorf("decode listing response: %w", jsonErr)
	}
	return parsed.Data, bundle, nil
}

type subListRequest struct {
	Src     string         `json:"src"`
	ID      string         `json:"id"`
	Context requestContext `json:"context"`
}

// SubListResponse is the decoded shape of the sub-list endpoint.
type SubListResponse struct {
	Data       []json.RawMessage `json:"data"`
	ParentData json.RawMessage   `json:"parentData"`
}

// GetSubList fetches the sub-resource list for workID under family.
func (c *Client) GetSubList(ctx context.Context, artistID, workID string, family model.Family, bundle *session.Bundle, index int) (SubListResponse, *session.Bundle, error) {
	writePath := filepath.Join(c.root, artistID, workID, "sub_list.json")
	reqBody := subListRequest{
		Src:     string(family),
		ID:      workID,
		Context: requestContext{TourToken: bundle.TourToken},
	}

	raw, err := c.callWithRotation(ctx, model.Primary, &bundle, index, func(b *session.Bundle) ([]byte, error) {
		reqBody.Context.TourToken = b.TourToken
		return retry.DoJSON(ctx, b.Client, http.MethodPost, subListURL, b.Headers, reqBody)
	})
	if err != nil {
		writeErrorEnvelope(writePath, err, reqBody)
		return SubListResponse{}, bundle, err
	}
	writeJSON(writePath, raw)

	var parsed SubListResponse
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil {
		return SubListResponse{}, bundle, fmt.Errorf("decode sub-list response: %w", jsonErr)
	}
	return parsed, bundle, nil
}

type resourceRequest struct {
	ID      string         `json:"id"`
	Src     string         `json:"src"`
	Context requestContext `json:"context"`
}

// ResourceResponse is the decoded shape of the resource-detail endpoint.
type ResourceResponse struct {
	Data json.RawMessage `json:"data"`
}

// GetResource fetches the detail payload for resourceID.
func (c *Client) GetResource(ctx context.Context, artistID, workID, resourceID string, family model.Family, bundle *session.Bundle, index int) (json.RawMessage, *session.Bundle, error) {
	writePath := filepath.Join(c.root, artistID, workID, resourceID, "resource.json")
	reqBody := resourceRequest{
		ID:      resourceID,
		Src:     string(family),
		Context: requestContext{TourToken: bundle.TourToken},
	}

	raw, err := c.callWithRotation(ctx, model.Primary, &bundle, index, func(b *session.Bundle) ([]byte, error) {
		reqBody.Context.TourToken = b.TourToken
		return retry.DoJSON(ctx, b.Client, http.MethodPost, getResourceURL, b.Headers, reqBody)
	})
	if err != nil {
		writeErrorEnvelope(writePath, err, reqBody)
		return nil, bundle, err
	}
	writeJSON(writePath, raw)

	var parsed ResourceResponse
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil {
		return nil, bundle, fmt.Errorf("decode resource response: %w", jsonErr)
	}
	return parsed.Data, bundle, nil
}
