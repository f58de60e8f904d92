// Package tile fetches individual grid tiles through the secondary session
// pool, replacing proxy-blocked (407/408) bundles mid-download and
// writing each tile atomically.
package tile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/quanku-art/tile-harvester/internal/metrics"
	"github.com/quanku-art/tile-harvester/internal/model"
	"github.com/quanku-art/tile-harvester/internal/retry"
	"github.com/quanku-art/tile-harvester/internal/session"
	"github.com/quanku-art/tile-harvester/internal/sign"
)

const zoomLevel = 17

// secondaryPool is the slice of the session pool a Fetcher needs: bundle
// replacement on the secondary slots, and the proxy-mode flag that selects
// the retry schedule.
type secondaryPool interface {
	ReplaceSecondary(ctx context.Context, index int, forceNewToken bool) (*session.Bundle, error)
	UseProxy() bool
}

// Fetcher downloads individual tiles for one variant.
type Fetcher struct {
	pool   secondaryPool
	signer *sign.Signer
}

// New builds a Fetcher backed by pool for secondary session rotation.
func New(pool secondaryPool, signer *sign.Signer) *Fetcher {
	return &Fetcher{pool: pool, signer: signer}
}

// Outcome classifies a single tile fetch result.
type Outcome int

const (
	// Saved means the tile was written (or already existed) at path.
	Saved Outcome = iota
	// Miss means the retry schedule was exhausted without a 200 image
	// response; this is not an error, GridProber interprets it.
	Miss
)

func tilePath(variantDir string, x, y int) string {
	return filepath.Join(variantDir, "tile", fmt.Sprintf("%d_%d.jpg", x, y))
}

func tileURL(variantID string, x, y int) string {
	return fmt.Sprintf("https://cag.ltfc.net/cagstore/%s/%d/%d_%d.jpg", variantID, zoomLevel, x, y)
}

// Fetch downloads tile (x, y) of variantID into variantDir, using bundle
// (the secondary-pool slot at index) as the starting session. It returns
// the tile's on-disk path, the outcome, and the (possibly rotated) bundle
// so the caller's next call observes any rotation.
func (f *Fetcher) Fetch(ctx context.Context, variantDir, variantID string, x, y int, family model.Family, bundle *session.Bundle, index int) (string, Outcome, *session.Bundle, error) {
	path := tilePath(variantDir, x, y)
	if _, err := os.Stat(path); err == nil {
		return path, Saved, bundle, nil
	}

	rawURL := tileURL(variantID, x, y)
	signedURL, err := f.signer.Sign(ctx, rawURL, family, time.Now())
	if err != nil {
		slog.Warn("tile url signing failed", "variant", variantID, "x", x, "y", y, "err", err)
		return "", Miss, bundle, nil
	}

	delays := retry.TileDelaysFor(f.pool.UseProxy())
	proxyReplacements := 0

	// attempt advances only on delayed retries; bundle replacements re-run
	// the request without consuming a delay slot.
	attempt := 0
	for {
		resp, fetchErr := f.doOnce(ctx, bundle.Client, signedURL, bundle.Headers)
		if fetchErr != nil {
			if retry.IsProxyAuthShaped(fetchErr) && proxyReplacements < retry.MaxProxyRetries {
				proxyReplacements++
				rotated, rotErr := f.pool.ReplaceSecondary(ctx, index, true)
				if rotErr != nil {
					return "", Miss, bundle, rotErr
				}
				bundle = rotated
				continue
			}
			if attempt >= len(delays) {
				metrics.TilesMissed.Inc()
				return "", Miss, bundle, nil
			}
			metrics.RetryDelay.WithLabelValues("tile").Observe(delays[attempt].Seconds())
			time.Sleep(delays[attempt])
			attempt++
			continue
		}

		if resp.statusCode == http.StatusProxyAuthRequired || resp.statusCode == http.StatusRequestTimeout {
			if proxyReplacements >= retry.MaxProxyRetries {
				metrics.TilesMissed.Inc()
				return "", Miss, bundle, nil
			}
			proxyReplacements++
			forceNewToken := resp.statusCode == http.StatusProxyAuthRequired
			rotated, rotErr := f.pool.ReplaceSecondary(ctx, index, forceNewToken)
			if rotErr != nil {
				return "", Miss, bundle, rotErr
			}
			bundle = rotated
			continue
		}

		if resp.statusCode == http.StatusOK && strings.HasPrefix(resp.contentType, "image") {
			if err := writeAtomic(path, resp.body); err != nil {
				slog.Warn("tile write failed", "path", path, "err", err)
				return "", Miss, bundle, nil
			}
			metrics.TilesSaved.Inc()
			return path, Saved, bundle, nil
		}

		slog.Warn("unexpected tile response", "variant", variantID, "x", x, "y", y, "status", resp.statusCode, "error_field", resp.errorField)
		if attempt >= len(delays) {
			break
		}
		metrics.RetryDelay.WithLabelValues("tile").Observe(delays[attempt].Seconds())
		time.Sleep(delays[attempt])
		attempt++
	}

	metrics.TilesMissed.Inc()
	return "", Miss, bundle, nil
}

type tileResponse struct {
	statusCode  int
	contentType string
	body        []byte
	errorField  string
}

func (f *Fetcher) doOnce(ctx context.Context, client *http.Client, url string, headers map[string]string) (*tileResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &retry.TransientTransportError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusProxyAuthRequired || resp.StatusCode == http.StatusRequestTimeout {
		return &tileResponse{statusCode: resp.StatusCode}, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, &retry.TransientTransportError{Cause: readErr}
	}

	return &tileResponse{
		statusCode:  resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
		errorField:  bestEffortError(body),
	}, nil
}

// bestEffortError extracts an "error" field from a non-image JSON response,
// for the warning log; returns "" if the body isn't JSON-shaped.
func bestEffortError(body []byte) string {
	const marker = `"error"`
	idx := strings.Index(string(body), marker)
	if idx < 0 || len(body) > 4096 {
		return ""
	}
	return strconv.Quote(string(body[idx:min(idx+80, len(body))]))
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename, so a concurrent reader never observes a partial
// tile.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tile-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
