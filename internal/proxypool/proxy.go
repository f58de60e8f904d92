// Package proxypool allocates outbound HTTP proxies from the vendor
// endpoint.
package proxypool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/quanku-art/tile-harvester/internal/retry"
)

const allocateURLTemplate = "https://proxy.qg.net/allocate?Key=%s&Num=%d"

// host entries arrive either as a bare "host:port" string or as an object
// keyed by scheme.
type allocateResponse struct {
	Data []json.RawMessage `json:"Data"`
}

type hostEntry struct {
	Host json.RawMessage `json:"host"`
}

// Provider allocates proxy URLs using a vendor secret.
type Provider struct {
	client *http.Client
	key    string
}

// New builds a Provider. Returns *retry.ConfigError if key is empty.
func New(client *http.Client, key string) (*Provider, error) {
	if key == "" {
		return nil, &retry.ConfigError{Reason: "missing proxy vendor key (QINGGOU_KEY)"}
	}
	if client == nil {
		client = &http.Client{Timeout: retry.RequestTimeout}
	}
	return &Provider{client: client, key: key}, nil
}

// Allocate returns up to n proxy URLs of the form "http://host:port".
func (p *Provider) Allocate(ctx context.Context, n int) ([]string, error) {
	url := fmt.Sprintf(allocateURLTemplate, p.key, n)
	raw, err := retry.DoJSON(ctx, p.client, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("allocate proxies: %w", err)
	}

	var parsed allocateResponse
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil || len(parsed.Data) == 0 {
		return nil, &retry.FatalProxyError{Cause: fmt.Errorf("proxy vendor returned no Data array")}
	}

	var proxies []string
	for _, entry := range parsed.Data {
		host, ok := parseHost(entry)
		if !ok {
			continue
		}
		proxies = append(proxies, normalize(host))
	}
	if len(proxies) == 0 {
		return nil, &retry.FatalProxyError{Cause: fmt.Errorf("every proxy entry was unparsable")}
	}
	return proxies, nil
}

func parseHost(raw json.RawMessage) (string, bool) {
	var entry hostEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Host == nil {
		return "", false
	}

	var asString string
	if err := json.Unmarshal(entry.Host, &asString); err == nil && asString != "" {
		return asString, true
	}

	var asObject struct {
		HTTP  string `json:"http"`
		HTTPS string `json:"https"`
	}
	if err := json.Unmarshal(entry.Host, &asObject); err == nil {
		if asObject.HTTP != "" {
			return asObject.HTTP, true
		}
		if asObject.HTTPS != "" {
			return asObject.HTTPS, true
		}
	}
	return "", false
}

func normalize(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	return "http://" + host
}
