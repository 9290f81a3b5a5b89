package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processUploadID string

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one upload through the full pipeline",
	Long: "Claims the upload, extracts and stages its rows, resolves canonical " +
		"entities, runs the relationship-linking passes, and prints the final " +
		"report. Re-running a completed or failed upload is safe; an upload " +
		"already processing is refused.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initIntake(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Orchestrator.Process(ctx, processUploadID)
		if err != nil {
			return eris.Wrapf(err, "process upload %s", processUploadID)
		}

		zap.L().Info("upload processed",
			zap.String("upload_id", rep.UploadID),
			zap.Int("rows_total", rep.RowsTotal),
			zap.Int("warnings", len(rep.Post.Warnings)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	processCmd.Flags().StringVar(&processUploadID, "upload", "", "upload id (required)")
	_ = processCmd.MarkFlagRequired("upload")
	rootCmd.AddCommand(processCmd)
}
