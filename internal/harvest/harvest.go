// Package harvest dispatches concurrent artist workers over the artist
// catalog. Worker goroutines are tracked for lifecycle only, not for
// cancel-on-error semantics: one artist's fatal proxy error must not kill
// its peers.
package harvest

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/quanku-art/tile-harvester/internal/retry"
	"github.com/quanku-art/tile-harvester/internal/worker"
)

// ReadArtistIDs reads the artist CSV at path and returns the "Id" column
// values, in file order, duplicates and all. A duplicated id is crawled
// again; if the earlier pass has already written the artist's completion
// marker, the repeat stops after that one marker check.
func ReadArtistIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &retry.ConfigError{Reason: fmt.Sprintf("open artist csv: %v", err)}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, &retry.ConfigError{Reason: fmt.Sprintf("read artist csv header: %v", err)}
	}

	idCol := -1
	for i, h := range header {
		if h == "Id" {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, &retry.ConfigError{Reason: "artist csv missing Id column"}
	}

	var ids []string
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		if idCol < len(record) && record[idCol] != "" {
			ids = append(ids, record[idCol])
		}
	}
	return ids, nil
}

// Coordinator dispatches one Worker.Run per artist over a fixed-width pool.
type Coordinator struct {
	worker      *worker.Worker
	concurrency int
}

// New builds a Coordinator running up to concurrency artists at once.
func New(w *worker.Worker, concurrency int) *Coordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{worker: w, concurrency: concurrency}
}

// Run submits one task per artist id and waits for all to complete. A
// single artist's error is logged and does not abort its peers — errgroup
// is used purely for goroutine lifecycle tracking here, not its
// cancel-the-group-on-first-error default.
func (c *Coordinator) Run(ctx context.Context, artistIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, artistID := range artistIDs {
		i, artistID := i, artistID
		g.Go(func() error {
			if err := c.worker.Run(gctx, i, artistID); err != nil {
				slog.Warn("artist worker aborted", "artist", artistID, "index", i, "err", err)
			}
			return nil
		})
	}

	return g.Wait()
}
