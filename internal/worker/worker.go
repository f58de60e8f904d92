// Package worker implements the per-artist traversal: catalog listing,
// sub-list expansion, resource/variant extraction, and grid probing.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/quanku-art/tile-harvester/internal/archive"
	"github.com/quanku-art/tile-harvester/internal/catalog"
	"github.com/quanku-art/tile-harvester/internal/grid"
	"github.com/quanku-art/tile-harvester/internal/ledger"
	"github.com/quanku-art/tile-harvester/internal/metrics"
	"github.com/quanku-art/tile-harvester/internal/model"
	"github.com/quanku-art/tile-harvester/internal/retry"
	"github.com/quanku-art/tile-harvester/internal/session"
	"github.com/quanku-art/tile-harvester/internal/sessionpool"
	"github.com/quanku-art/tile-harvester/internal/status"
	"github.com/quanku-art/tile-harvester/internal/variant"
)

// Worker runs one artist's full traversal.
type Worker struct {
	catalog *catalog.Client
	pool    *sessionpool.Pool
	prober  *grid.Prober
	root    string
	ledger  *ledger.Ledger
	archive *archive.Client
	status  *status.Server
}

// New builds a Worker. root is the rawdata tree's base directory. ledger,
// archive, and status are all optional and may be nil.
func New(catalogClient *catalog.Client, pool *sessionpool.Pool, prober *grid.Prober, root string, crawlLedger *ledger.Ledger, archiveClient *archive.Client, statusServer *status.Server) *Worker {
	return &Worker{catalog: catalogClient, pool: pool, prober: prober, root: root, ledger: crawlLedger, archive: archiveClient, status: statusServer}
}

type workEntry struct {
	ID     string
	Name   string
	Family model.Family
}

// listingEntry is the subset of fields a listing-endpoint entry carries
// that the worker needs: an id and display name, irrespective of family.
type listingEntry struct {
	ID   string `json:"Id"`
	Name string `json:"name"`
}

// Run executes the full traversal for artist i (used to select the
// primary-pool slot) in the given artistID. It returns nil on success,
// including the "nothing downloaded" partial case; only a fatal pool
// exhaustion aborts this artist with an error.
func (w *Worker) Run(ctx context.Context, i int, artistID string) error {
	artistDir := filepath.Join(w.root, artistID)
	markerPath := filepath.Join(artistDir, model.CompletionMarkerName)
	if _, err := os.Stat(markerPath); err == nil {
		return nil
	}

	bundle, index, err := w.pool.GetPrimary(ctx, i)
	if err != nil {
		return err
	}

	works, bundle := w.listWorks(ctx, artistID, model.SUHA, bundle, index)
	sufaWorks, bundle2 := w.listWorks(ctx, artistID, model.SUFA, bundle, index)
	bundle = bundle2
	works = append(works, sufaWorks...)

	tilesSaved := 0
	worksDownloaded := 0
	for _, work := range works {
		savedInWork, nextBundle, err := w.processWork(ctx, artistID, work, bundle, index)
		bundle = nextBundle
		if err != nil {
			if isFatal(err) {
				return err
			}
			slog.Warn("work processing failed, continuing", "artist", artistID, "work", work.ID, "err", err)
			continue
		}
		if savedInWork > 0 {
			worksDownloaded++
			tilesSaved += savedInWork
		}
	}

	anyDownloaded := worksDownloaded > 0
	if anyDownloaded {
		if err := os.MkdirAll(artistDir, 0o755); err == nil {
			_ = os.WriteFile(markerPath, []byte(model.MarkerTimestamp(time.Now())), 0o644)
			metrics.ArtistsCompleted.Inc()
		}
		if uploadErr := w.archive.UploadArtist(artistID, artistDir); uploadErr != nil {
			slog.Warn("artist archive upload failed", "artist", artistID, "err", uploadErr)
		}
	}
	w.ledger.Upsert(artistID, len(works), tilesSaved, anyDownloaded)
	if w.status != nil {
		w.status.Broadcast(status.ProgressEvent{
			ArtistID:  artistID,
			Works:     len(works),
			Tiles:     tilesSaved,
			Completed: anyDownloaded,
		})
	}
	return nil
}

func (w *Worker) listWorks(ctx context.Context, artistID string, family model.Family, bundle *session.Bundle, index int) ([]workEntry, *session.Bundle) {
	entries, nextBundle, err := w.catalog.ListOfArtist(ctx, family, artistID, bundle, index)
	if err != nil {
		slog.Warn("listing fetch failed", "artist", artistID, "family", family, "err", err)
		return nil, nextBundle
	}
	works := make([]workEntry, 0, len(entries))
	for _, raw := range entries {
		var e listingEntry
		if jsonErr := json.Unmarshal(raw, &e); jsonErr != nil || e.ID == "" {
			continue
		}
		works = append(works, workEntry{ID: e.ID, Name: e.Name, Family: family})
	}
	return works, nextBundle
}

// processWork expands one work into resources, variants, and tiles, and
// reports how many tiles were saved under it.
func (w *Worker) processWork(ctx context.Context, artistID string, work workEntry, bundle *session.Bundle, index int) (int, *session.Bundle, error) {
	subList, nextBundle, err := w.catalog.GetSubList(ctx, artistID, work.ID, work.Family, bundle, index)
	bundle = nextBundle
	if err != nil {
		return 0, bundle, err
	}

	type resourceRef struct {
		ID   string
		Name string
	}
	var resources []resourceRef

	if len(subList.Data) == 0 {
		id, name := parentFallback(subList.ParentData, work.Family)
		if id != "" {
			resources = append(resources, resourceRef{ID: id, Name: name})
		}
	} else {
		for _, raw := range subList.Data {
			id, name := childResourceRef(raw, work.Family)
			if id != "" {
				resources = append(resources, resourceRef{ID: id, Name: name})
			}
		}
	}

	tilesSaved := 0
	for _, res := range resources {
		savedInResource, nextBundle, err := w.processResource(ctx, artistID, work, res.ID, res.Name, bundle, index)
		bundle = nextBundle
		if err != nil {
			if isFatal(err) {
				return tilesSaved, bundle, err
			}
			slog.Warn("resource processing failed, continuing", "artist", artistID, "work", work.ID, "resource", res.ID, "err", err)
			continue
		}
		tilesSaved += savedInResource
	}
	return tilesSaved, bundle, nil
}

func (w *Worker) processResource(ctx context.Context, artistID string, work workEntry, resourceID, resourceName string, bundle *session.Bundle, index int) (int, *session.Bundle, error) {
	detail, nextBundle, err := w.catalog.GetResource(ctx, artistID, work.ID, resourceID, work.Family, bundle, index)
	bundle = nextBundle
	if err != nil {
		return 0, bundle, err
	}

	variants, extractErr := variant.Extract(detail, work.Family, work.ID, resourceID)
	if extractErr != nil {
		return 0, bundle, extractErr
	}
	if len(variants) == 0 {
		variants = []model.Variant{variant.Fallback(work.Family, work.ID, resourceID, resourceName)}
	}

	resourceDir := filepath.Join(w.root, artistID, work.ID, resourceID)
	tilesSaved := 0
	for _, v := range variants {
		variantDir := filepath.Join(resourceDir, v.VariantID)
		secondaryBundle, secondaryIndex := w.pool.NextSecondary()
		result, _, err := w.prober.Probe(ctx, variantDir, v.VariantID, v.Family, secondaryBundle, secondaryIndex)
		if err != nil {
			if isFatal(err) {
				return tilesSaved, bundle, err
			}
			slog.Warn("variant probe failed, continuing", "artist", artistID, "variant", v.VariantID, "err", err)
			continue
		}
		tilesSaved += result.TilesSaved
	}
	return tilesSaved, bundle, nil
}

// parentFallback extracts {resourceId, name} from getSubList's parentData
// when the sub-list is empty, so a work with no sub-entries still yields a
// single resource.
func parentFallback(parentData json.RawMessage, family model.Family) (string, string) {
	if len(parentData) == 0 {
		return "", ""
	}
	var wrapper struct {
		Suha familyRef `json:"suha"`
		Sufa familyRef `json:"sufa"`
	}
	if err := json.Unmarshal(parentData, &wrapper); err != nil {
		return "", ""
	}
	ref := wrapper.Suha
	if family == model.SUFA {
		ref = wrapper.Sufa
	}
	return ref.ResourceID, ref.Name
}

// childResourceRef extracts {resourceId, name} from one sub-list entry,
// always preferring suha; sufa is used only as a fallback when family=SUFA
// and suha is missing.
func childResourceRef(raw json.RawMessage, family model.Family) (string, string) {
	var wrapper struct {
		Suha familyRef `json:"suha"`
		Sufa familyRef `json:"sufa"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", ""
	}
	if family == model.SUFA && wrapper.Suha.ResourceID == "" && wrapper.Sufa.ResourceID != "" {
		return wrapper.Sufa.ResourceID, wrapper.Sufa.Name
	}
	return wrapper.Suha.ResourceID, wrapper.Suha.Name
}

type familyRef struct {
	ResourceID string `json:"resourceId"`
	Name       string `json:"name"`
}

// isFatal reports whether err means the session pool is exhausted; only
// this aborts the artist, everything else is a logged partial failure.
func isFatal(err error) bool {
	var fatal *retry.FatalProxyError
	return errors.As(err, &fatal)
}
