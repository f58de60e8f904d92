// Package session builds authenticated, proxied HTTP session bundles.
package session

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quanku-art/tile-harvester/internal/retry"
)

// AccessTokenURL mints anonymous tour tokens. It is a variable so tests
// can point it at a stub server.
var AccessTokenURL = "https://api.quanku.art/cag2.TouristService/getAccessToken"

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

var uaRand = struct {
	mu sync.Mutex
	r  *rand.Rand
}{r: rand.New(rand.NewSource(time.Now().UnixNano()))}

func randomUserAgent() string {
	uaRand.mu.Lock()
	defer uaRand.mu.Unlock()
	return userAgents[uaRand.r.Intn(len(userAgents))]
}

// Bundle is a SessionBundle: an HTTP client bound to a proxy, plus the
// currently active tour token. It is owned exclusively by a SessionPool
// slot; the TourToken field is mutated in place under the pool's lock.
type Bundle struct {
	Client    *http.Client
	Proxy     string // empty string means direct connection
	TourToken string
	Headers   map[string]string
}

func baseHeaders() map[string]string {
	return map[string]string{
		"accept":          "application/json",
		"accept-language": "zh-CN,zh;q=0.9",
		"content-type":    "application/json;charset=UTF-8",
		"origin":          "https://g2.ltfc.net",
		"referer":         "https://g2.ltfc.net/",
		"user-agent":      randomUserAgent(),
	}
}

func newClient(proxy string) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{
		Timeout:   retry.RequestTimeout,
		Transport: transport,
	}, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Create builds a SessionBundle bound to proxy (empty for direct). If
// reuseToken is non-empty it is used verbatim; otherwise a fresh tour token
// is minted via AccessTokenURL. Returns *retry.ProxyAuthError when the mint
// call is proxy-auth-shaped, or a plain error when the JSON response lacks
// a token field.
func Create(ctx context.Context, proxy, reuseToken string) (*Bundle, error) {
	client, err := newClient(proxy)
	if err != nil {
		return nil, err
	}
	headers := baseHeaders()

	token := reuseToken
	if token == "" {
		raw, err := retry.DoJSON(ctx, client, http.MethodPost, AccessTokenURL, headers, map[string]any{})
		if err != nil {
			return nil, err
		}
		var parsed tokenResponse
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil || parsed.Token == "" {
			return nil, fmt.Errorf("access token response missing token field: %s", truncate(raw))
		}
		token = parsed.Token
	}

	return &Bundle{Client: client, Proxy: proxy, TourToken: token, Headers: headers}, nil
}

func truncate(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// Fingerprint returns a short, stable identifier for this bundle suitable
// for structured logs, without leaking the full token.
func (b *Bundle) Fingerprint() string {
	sum := md5.Sum([]byte(b.Proxy + "|" + b.TourToken))
	return fmt.Sprintf("%x", sum)[:8]
}
