package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkonradi/callmeter/cli/internal/output"
	"github.com/mkonradi/callmeter/pkg/results"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List persisted timing results",
	RunE: func(cmd *cobra.Command, args []string) error {
		logDir, _ := cmd.Flags().GetString("logdir")
		storeFmt, _ := cmd.Flags().GetString("store-format")
		limit, _ := cmd.Flags().GetInt("limit")
		if logDir == "" {
			logDir = cfg.LogDir
		}
		if storeFmt == "" {
			storeFmt = cfg.ResultsFormat
		}

		store, err := results.Open(logDir, results.Format(storeFmt))
		if err != nil {
			return err
		}
		rows, err := store.ReadAll()
		if err != nil {
			return fmt.Errorf("read %s: %w", store.Path(), err)
		}

		// Newest last on disk; show the most recent entries.
		if limit > 0 && len(rows) > limit {
			rows = rows[len(rows)-limit:]
		}

		if cfg.Format == "json" || cfg.Format == "yaml" {
			w := output.NewWriter(cfg.Format)
			return w.Print(rows)
		}

		table := output.Table{
			Headers: []string{"TIMESTAMP", "FUNCTION", "DURATION (S)", "CPU (S)", "MEM Δ (MB)", "UUID"},
			Rows:    make([][]string, len(rows)),
		}
		for i, r := range rows {
			uuid := r.UUID
			if len(uuid) > 8 {
				uuid = uuid[:8]
			}
			table.Rows[i] = []string{
				r.Timestamp,
				r.Function,
				fmt.Sprintf("%.4f", r.ExecutionSeconds),
				fmt.Sprintf("%.4f", r.CPUSeconds),
				fmt.Sprintf("%.2f", r.MemoryChangeMB),
				uuid,
			}
		}
		w := output.NewWriter("table")
		if err := w.Print(table); err != nil {
			return err
		}
		output.Info("%d rows from %s", len(rows), store.Path())
		return nil
	},
}

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List captured errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		logDir, _ := cmd.Flags().GetString("logdir")
		storeFmt, _ := cmd.Flags().GetString("store-format")
		limit, _ := cmd.Flags().GetInt("limit")
		if logDir == "" {
			logDir = cfg.LogDir
		}
		if storeFmt == "" {
			storeFmt = cfg.ResultsFormat
		}

		store, err := results.OpenErrors(logDir, results.Format(storeFmt))
		if err != nil {
			return err
		}
		rows, err := store.ReadAll()
		if err != nil {
			return fmt.Errorf("read %s: %w", store.Path(), err)
		}
		if limit > 0 && len(rows) > limit {
			rows = rows[len(rows)-limit:]
		}

		if cfg.Format == "json" || cfg.Format == "yaml" {
			w := output.NewWriter(cfg.Format)
			return w.Print(rows)
		}

		table := output.Table{
			Headers: []string{"TIMESTAMP", "FUNCTION", "MESSAGE", "UUID"},
			Rows:    make([][]string, len(rows)),
		}
		for i, r := range rows {
			msg := r.Message
			if len(msg) > 60 {
				msg = msg[:60] + "..."
			}
			uuid := r.UUID
			if len(uuid) > 8 {
				uuid = uuid[:8]
			}
			table.Rows[i] = []string{r.Timestamp, r.Function, msg, uuid}
		}
		w := output.NewWriter("table")
		if err := w.Print(table); err != nil {
			return err
		}
		output.Info("%d errors from %s", len(rows), store.Path())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{resultsCmd, errorsCmd} {
		c.Flags().String("logdir", "", "Log directory containing the results store")
		c.Flags().String("store-format", "", "Results store format (csv, parquet)")
		c.Flags().Int("limit", 50, "Maximum rows to show (0 for all)")
	}
}
