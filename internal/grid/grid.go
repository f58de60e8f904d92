// Package grid drives the unknown-extent tile sweep for one variant:
// column-major probing with an adaptive row bound and a
// 3-consecutive-empty-column termination rule.
package grid

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/quanku-art/tile-harvester/internal/metrics"
	"github.com/quanku-art/tile-harvester/internal/model"
	"github.com/quanku-art/tile-harvester/internal/session"
	"github.com/quanku-art/tile-harvester/internal/tile"
)

const maxEmptyColumns = 3

// Prober sweeps the (x, y) tile grid for a single variant.
type Prober struct {
	fetcher *tile.Fetcher
}

// New builds a Prober backed by fetcher.
func New(fetcher *tile.Fetcher) *Prober {
	return &Prober{fetcher: fetcher}
}

// Result summarizes one variant's sweep.
type Result struct {
	TilesSaved int
	Completed  bool
}

// Probe sweeps variantDir for variantID, returning once three consecutive
// columns saved no tiles. It returns the (possibly rotated) secondary
// bundle so the caller's next variant observes any rotation that occurred
// mid-sweep.
func (p *Prober) Probe(ctx context.Context, variantDir, variantID string, family model.Family, bundle *session.Bundle, index int) (Result, *session.Bundle, error) {
	if _, err := os.Stat(filepath.Join(variantDir, model.CompletionMarkerName)); err == nil {
		return Result{Completed: true}, bundle, nil
	}

	emptyColumns := 0
	maxYLimit := -1 // unbounded until the first row miss defines it
	totalSaved := 0

	for x := 0; emptyColumns < maxEmptyColumns; x++ {
		savedInColumn := 0

		for y := 0; maxYLimit < 0 || y < maxYLimit; y++ {
			_, outcome, rotated, err := p.fetcher.Fetch(ctx, variantDir, variantID, x, y, family, bundle, index)
			bundle = rotated
			if err != nil {
				return Result{TilesSaved: totalSaved}, bundle, err
			}

			if outcome == tile.Miss {
				if maxYLimit < 0 {
					maxYLimit = y
				}
				break
			}
			savedInColumn++
		}

		if savedInColumn > 0 {
			emptyColumns = 0
			totalSaved += savedInColumn
		} else {
			emptyColumns++
		}
	}

	completed := totalSaved > 0
	if completed {
		if err := writeMarker(variantDir); err != nil {
			return Result{TilesSaved: totalSaved}, bundle, err
		}
		metrics.VariantsCompleted.Inc()
	}
	return Result{TilesSaved: totalSaved, Completed: completed}, bundle, nil
}

func writeMarker(variantDir string) error {
	path := filepath.Join(variantDir, model.CompletionMarkerName)
	return os.WriteFile(path, []byte(model.MarkerTimestamp(time.Now())), 0o644)
}
