package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/link"
	"github.com/harborcats/intake-cli/internal/resolve"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill-links",
	Short: "Attribute historical appointments to requests",
	Long: "Runs cat-to-request attribution over all appointments with the " +
		"trailing horizon disabled. The attribution window rules still apply; " +
		"only the recency guard that protects routine runs is lifted. Safe to " +
		"re-run: existing links are never duplicated.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx, "backfill")
		if err != nil {
			return err
		}
		defer pool.Close()

		blacklist, err := resolve.LoadBlacklist(ctx, pool)
		if err != nil {
			return err
		}
		resolver := resolve.New(pool, blacklist)

		// Horizon 0 disables the anti-backfill guard.
		linker := link.New(pool, resolver, 0)

		counts, err := linker.AttributeCatsByRequest(ctx)
		if err != nil {
			return eris.Wrap(err, "backfill request links")
		}

		var total int64
		for _, c := range counts {
			total += c.Linked
			zap.L().Info("request links backfilled",
				zap.String("case_number", c.CaseNumber),
				zap.Int64("request_id", c.RequestID),
				zap.Int64("links_created", c.Linked),
			)
		}
		zap.L().Info("backfill complete",
			zap.Int("requests_linked", len(counts)),
			zap.Int64("links_created", total),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}
