package retry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quanku-art/tile-harvester/internal/metrics"
)

// RequestTimeout is the fixed timeout applied to every outbound request.
const RequestTimeout = 20 * time.Second

// rateLimitCode is the service's rate-limit sentinel.
const rateLimitCode = -11

// codeEnvelope peeks at a JSON response for the {Code: -11} rate-limit
// sentinel without committing to a full schema.
type codeEnvelope struct {
	Code int `json:"Code"`
}

// DoJSON executes method/url with the given headers and JSON body through
// client, applying the inner HTTP retry schedule: up to
// len(CatalogDelays)+1 attempts, escalating immediately on a proxy-auth
// status or a {Code:-11} payload, retrying on any other transient failure
// or non-JSON response. The raw response bytes are returned so callers can
// persist them verbatim.
func DoJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		raw, err := doOnce(ctx, client, method, url, headers, payload)
		if err == nil {
			var probe codeEnvelope
			if jsonErr := json.Unmarshal(raw, &probe); jsonErr == nil && probe.Code == rateLimitCode {
				return raw, &RateLimitError{Code: probe.Code}
			}
			return raw, nil
		}

		if IsProxyAuthShaped(err) {
			return nil, err
		}
		var rle *RateLimitError
		if asRateLimit(err, &rle) {
			return nil, err
		}

		lastErr = err
		if attempt >= len(CatalogDelays) {
			break
		}
		metrics.RetryDelay.WithLabelValues("catalog").Observe(CatalogDelays[attempt].Seconds())
		select {
		case <-time.After(CatalogDelays[attempt]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, &TransientTransportError{Cause: lastErr}
}

func asRateLimit(err error, target **RateLimitError) bool {
	if rle, ok := err.(*RateLimitError); ok {
		*target = rle
		return true
	}
	return false
}

func doOnce(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if shapedAsProxyAuth(err) {
			return nil, &ProxyAuthError{Cause: err}
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusProxyAuthRequired || resp.StatusCode == http.StatusRequestTimeout {
		return nil, &ProxyAuthError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("non-JSON response (status %d): %w", resp.StatusCode, err)
	}

	return raw, nil
}

func shapedAsProxyAuth(err error) bool {
	return IsProxyAuthShaped(err)
}
