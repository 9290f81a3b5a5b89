package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/drop"
	"github.com/harborcats/intake-cli/internal/fetcher"
	"github.com/harborcats/intake-cli/internal/upload"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Poll export drops for new files",
	Long: "Walks the configured FTP/HTTPS drop locations, downloads files that " +
		"are new or changed since the last poll, and creates a pending upload " +
		"per file. Run 'intake process' (or the server) to promote them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		pool, err := openPool(ctx, "fetch")
		if err != nil {
			return err
		}
		defer pool.Close()

		manifest, err := drop.OpenManifest(cfg.Drops.ManifestPath)
		if err != nil {
			return err
		}
		defer manifest.Close()

		timeout := time.Duration(cfg.Drops.TimeoutSecs) * time.Second
		httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: timeout})
		syncer := drop.NewSyncer(manifest, httpFetcher, upload.NewStore(pool), cfg.Uploads.Dir, timeout)

		results, err := syncer.SyncAll(ctx, cfg.Drops.Locations)
		if err != nil {
			return eris.Wrap(err, "fetch drops")
		}

		var fetched, failed int
		for _, r := range results {
			if r.Err != "" {
				failed++
				continue
			}
			fetched += r.Fetched
		}
		zap.L().Info("drop poll complete",
			zap.Int("locations", len(results)),
			zap.Int("fetched", fetched),
			zap.Int("failed_locations", failed),
		)
		if failed > 0 {
			return eris.Errorf("fetch: %d of %d locations failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
