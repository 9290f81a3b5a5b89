package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harborcats/intake-cli/internal/model"
)

var (
	ingestSystem   string
	ingestTable    string
	ingestParallel int
)

// fileOutcome pairs one ingested file with its report or failure.
type fileOutcome struct {
	Path   string
	Report *model.IngestReport
	Err    error
}

var ingestCmd = &cobra.Command{
	Use:   "ingest --system <system> --table <table> FILE...",
	Short: "Ingest local export files",
	Long: "Creates an upload per file and processes each through the full " +
		"pipeline. Files run in parallel up to --parallel; rows within one " +
		"file always stage sequentially, and a failing file never stops the " +
		"others.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initIntake(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		// Catch an unknown (system, table) before any upload rows exist.
		if _, err := env.Registry.Get(ingestSystem, ingestTable); err != nil {
			return err
		}

		parallel := ingestParallel
		if parallel <= 0 {
			parallel = cfg.Uploads.MaxConcurrent
		}

		zap.L().Info("ingesting files",
			zap.String("source", ingestSystem+"/"+ingestTable),
			zap.Int("files", len(args)),
			zap.Int("parallel", parallel),
		)

		outcomes := make([]fileOutcome, len(args))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallel)
		for i, path := range args {
			g.Go(func() error {
				outcomes[i] = fileOutcome{Path: path}
				outcomes[i].Report, outcomes[i].Err = ingestFile(gctx, env, path)
				return nil
			})
		}
		_ = g.Wait()

		formatIngestOutcomes(os.Stdout, outcomes)

		var failed int
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			return eris.Errorf("ingest: %d of %d files failed", failed, len(args))
		}
		return nil
	},
}

// ingestFile records one file as an upload and runs it to a terminal
// state. The stored path is the file itself; nothing is copied.
func ingestFile(ctx context.Context, env *intakeEnv, path string) (*model.IngestReport, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve path %s", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, eris.Wrapf(err, "stat %s", path)
	}

	up, err := env.Uploads.Create(ctx, model.Upload{
		SourceSystem: ingestSystem,
		SourceTable:  ingestTable,
		FileName:     filepath.Base(abs),
		StoredPath:   abs,
		SizeBytes:    info.Size(),
	})
	if err != nil {
		return nil, err
	}

	return env.Orchestrator.Process(ctx, up.ID)
}

// formatIngestOutcomes writes a per-file summary table to w.
func formatIngestOutcomes(out io.Writer, outcomes []fileOutcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tSTATUS\tROWS\tINSERTED\tUPDATED\tSKIPPED\tWARNINGS\tERROR")
	_, _ = fmt.Fprintln(w, "----\t------\t----\t--------\t-------\t-------\t--------\t-----")

	for _, o := range outcomes {
		name := filepath.Base(o.Path)
		if o.Err != nil {
			_, _ = fmt.Fprintf(w, "%s\tfailed\t-\t-\t-\t-\t-\t%s\n", name, truncate(o.Err.Error(), 60))
			continue
		}
		r := o.Report
		_, _ = fmt.Fprintf(w, "%s\tcompleted\t%d\t%d\t%d\t%d\t%d\t\n",
			name, r.RowsTotal, r.RowsInserted, r.RowsUpdated, r.RowsSkipped, len(r.Post.Warnings))
	}
	_ = w.Flush()
}

// truncate caps s at n runes for single-line table output.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSystem, "system", "", "source system (required)")
	ingestCmd.Flags().StringVar(&ingestTable, "table", "", "source table (required)")
	ingestCmd.Flags().IntVar(&ingestParallel, "parallel", 0, "max files processing at once (default from uploads.max_concurrent)")
	_ = ingestCmd.MarkFlagRequired("system")
	_ = ingestCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(ingestCmd)
}
