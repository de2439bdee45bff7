package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tokenbench/tokenbench/internal/config"
	"github.com/tokenbench/tokenbench/internal/results"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "List persisted benchmark summaries",
	Long:  `Report prints every summary recorded in the results database, newest first.`,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "output", "o", "table", "Output format (table, json)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Results.DatabasePath == "" {
		return fmt.Errorf("no results database configured")
	}

	store, err := results.NewStore(cfg.Results.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open results database: %w", err)
	}
	defer store.Close()

	records, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list summaries: %w", err)
	}

	if reportFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No summaries recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tATTEMPTS\tPROMPT\tPREDICTED\tDURATION\tTOK/S\tRECORDED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2fs\t%.1f\t%s\n",
			rec.Namespace,
			rec.Attempts,
			rec.Summary.PromptN,
			rec.Summary.PredictedN,
			rec.Summary.DurationS,
			rec.Summary.Throughput,
			rec.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
