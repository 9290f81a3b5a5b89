package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborcats/intake-cli/internal/upload"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent uploads and source coverage",
	Long: "Lists the most recent uploads with their lifecycle state and row " +
		"counts, then the coverage ledger per source table, flagging sources " +
		"whose coverage has gone stale.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx, "status")
		if err != nil {
			return err
		}
		defer pool.Close()

		uploads := upload.NewStore(pool)

		recent, err := uploads.List(ctx, statusLimit)
		if err != nil {
			return err
		}
		coverage, err := uploads.LatestCoverage(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "UPLOAD\tSOURCE\tSTATUS\tROWS\tINS\tUPD\tSKIP\tCREATED\tERROR")
		for _, up := range recent {
			errMsg := ""
			if up.Error != "" {
				errMsg = truncate(up.Error, 50)
			}
			rows, ins, upd, skip := "-", "-", "-", "-"
			if r := up.Result; r != nil {
				rows = fmt.Sprint(r.RowsTotal)
				ins = fmt.Sprint(r.RowsInserted)
				upd = fmt.Sprint(r.RowsUpdated)
				skip = fmt.Sprint(r.RowsSkipped)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				up.ID, up.SourceSystem, up.SourceTable, up.Status,
				rows, ins, upd, skip,
				up.CreatedAt.Format("2006-01-02 15:04"), errMsg)
		}
		_ = w.Flush()

		if len(coverage) == 0 {
			fmt.Println("\nno coverage recorded yet")
			return nil
		}

		staleCutoff := time.Now().AddDate(0, 0, -cfg.Monitoring.StaleSourceDays)

		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SOURCE\tCOVERAGE START\tCOVERAGE END\tLAST EXTENDED\t")
		for _, c := range coverage {
			flag := ""
			if c.End.Before(staleCutoff) {
				flag = "STALE"
			}
			_, _ = fmt.Fprintf(w, "%s/%s\t%s\t%s\t%s\t%s\n",
				c.SourceSystem, c.SourceTable,
				c.Start.Format("2006-01-02"), c.End.Format("2006-01-02"),
				c.RecordedAt.Format("2006-01-02 15:04"), flag)
		}
		_ = w.Flush()

		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max uploads to list")
	rootCmd.AddCommand(statusCmd)
}
