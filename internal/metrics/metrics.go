// Package metrics exposes the Prometheus counters and histograms the
// harvester publishes under /metrics, one counter per outcome rather than
// a single catch-all.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TilesSaved counts tiles successfully written to disk.
	TilesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_tiles_saved_total",
		Help: "Total tiles written to disk.",
	})

	// TilesMissed counts terminal misses (grid exhausted a (x,y) with no
	// image response after the full retry schedule).
	TilesMissed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_tiles_missed_total",
		Help: "Total tile fetches that exhausted their retry schedule without success.",
	})

	// TokenRotations counts RateLimitError-triggered token rotations.
	TokenRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_token_rotations_total",
		Help: "Total tour-token rotations performed in response to rate limiting.",
	})

	// ProxyRotations counts ProxyAuthError-triggered bundle replacements.
	ProxyRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_proxy_rotations_total",
		Help: "Total session bundle replacements performed in response to proxy auth failure.",
	})

	// RetryDelay observes the delay slept between retry attempts, by call
	// site (catalog vs tile).
	RetryDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_retry_delay_seconds",
		Help:    "Delay slept between retry attempts.",
		Buckets: []float64{0.5, 1, 2, 4, 8},
	}, []string{"call_site"})

	// ArtistsCompleted counts artists whose completion marker was written.
	ArtistsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_artists_completed_total",
		Help: "Total artists marked complete.",
	})

	// VariantsCompleted counts variants whose completion marker was written.
	VariantsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_variants_completed_total",
		Help: "Total variants marked complete.",
	})
)
