package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/match"
)

var matchgenCmd = &cobra.Command{
	Use:   "matchgen",
	Short: "Generate duplicate-person match candidates",
	Long: "Runs the tiered duplicate-person detection (exact phone/email, then " +
		"fuzzy names across shared places) and queues candidate pairs for " +
		"external review. Nothing is merged automatically.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx, "matchgen")
		if err != nil {
			return err
		}
		defer pool.Close()

		builder := match.New(pool, cfg.Pipeline.MatchLimit, cfg.Pipeline.MatchMinConfidence)
		queued, err := builder.Generate(ctx)
		if err != nil {
			return eris.Wrap(err, "generate match candidates")
		}

		zap.L().Info("match candidate generation complete", zap.Int64("queued", queued))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(matchgenCmd)
}
