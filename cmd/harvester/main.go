// Command harvester is the CLI entrypoint wiring the session pool,
// catalog client, tile fetcher, grid prober, and coordinator together.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/quanku-art/tile-harvester/internal/archive"
	"github.com/quanku-art/tile-harvester/internal/catalog"
	"github.com/quanku-art/tile-harvester/internal/config"
	"github.com/quanku-art/tile-harvester/internal/grid"
	"github.com/quanku-art/tile-harvester/internal/harvest"
	"github.com/quanku-art/tile-harvester/internal/ledger"
	"github.com/quanku-art/tile-harvester/internal/proxypool"
	"github.com/quanku-art/tile-harvester/internal/sessionpool"
	"github.com/quanku-art/tile-harvester/internal/sign"
	"github.com/quanku-art/tile-harvester/internal/status"
	"github.com/quanku-art/tile-harvester/internal/tile"
	"github.com/quanku-art/tile-harvester/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("harvester exited with error", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harvester",
		Short: "Concurrent tile harvester for the quanku.art catalog",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var workersFlag int
	var csvPath string
	var rawdataDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl every artist in the catalog CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if workersFlag > 0 {
				cfg.Workers = workersFlag
			}
			if csvPath != "" {
				cfg.ArtistCSVPath = csvPath
			}
			if rawdataDir != "" {
				cfg.RawdataDir = rawdataDir
			}
			return runHarvest(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVar(&workersFlag, "workers", 0, "override worker count (default: config/env)")
	cmd.Flags().StringVar(&csvPath, "artists", "", "override artist CSV path")
	cmd.Flags().StringVar(&rawdataDir, "rawdata", "", "override rawdata output directory")
	return cmd
}

func runHarvest(ctx context.Context, cfg *config.Config) error {
	runID := uuid.NewString()
	slog.Info("starting harvest run", "runId", runID, "workers", cfg.Workers, "useProxy", cfg.UseProxy)

	artistIDs, err := harvest.ReadArtistIDs(cfg.ArtistCSVPath)
	if err != nil {
		return err
	}
	slog.Info("loaded artist catalog", "count", len(artistIDs))

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	var proxies *proxypool.Provider
	if cfg.UseProxy {
		proxies, err = proxypool.New(http.DefaultClient, cfg.ProxyKey)
		if err != nil {
			return err
		}
	}

	pool, err := sessionpool.New(ctx, cfg.Workers, cfg.UseProxy, proxies, redisClient, runID)
	if err != nil {
		return fmt.Errorf("build session pool: %w", err)
	}

	var crawlLedger *ledger.Ledger
	if cfg.LedgerDSN != "" {
		crawlLedger, err = ledger.Open(cfg.LedgerDSN)
		if err != nil {
			slog.Warn("crawl ledger unavailable, continuing without it", "err", err)
			crawlLedger = nil
		}
	}

	archiveClient, err := archive.New(cfg.S3Bucket, cfg.S3Endpoint, cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey)
	if err != nil {
		slog.Warn("archive client unavailable, continuing without it", "err", err)
		archiveClient = nil
	}

	var statusServer *status.Server
	if cfg.StatusAddr != "" {
		statusServer = status.New(runID)
		go func() {
			slog.Info("status server listening", "addr", cfg.StatusAddr)
			if err := http.ListenAndServe(cfg.StatusAddr, statusServer.Router()); err != nil {
				slog.Warn("status server stopped", "err", err)
			}
		}()
	}

	catalogClient := catalog.New(pool, cfg.RawdataDir)
	signer := sign.New()
	fetcher := tile.New(pool, signer)
	prober := grid.New(fetcher)
	w := worker.New(catalogClient, pool, prober, cfg.RawdataDir, crawlLedger, archiveClient, statusServer)

	coordinator := harvest.New(w, cfg.Workers)
	if err := coordinator.Run(ctx, artistIDs); err != nil {
		return fmt.Errorf("harvest run: %w", err)
	}

	slog.Info("harvest run complete", "runId", runID, "tokenPoolLen", pool.Tokens().Len())
	return nil
}
