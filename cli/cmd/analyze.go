package cmd

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkonradi/callmeter/cli/internal/output"
	"github.com/mkonradi/callmeter/pkg/analysis"
	"github.com/mkonradi/callmeter/pkg/chart"
)

const flagTimeLayout = "2006-01-02 15:04:05"

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Reconstruct the latest run and write a report",
	Long: `Reads the timing log files in the log directory, finds the most recent
dense cluster of records (or uses an explicit time window), aggregates
per-function statistics, and writes CSV, log, and chart artifacts into a
timestamped folder under the output root.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logDir, _ := cmd.Flags().GetString("logdir")
		outRoot, _ := cmd.Flags().GetString("output-root")
		tag, _ := cmd.Flags().GetString("tag")
		subtitle, _ := cmd.Flags().GetString("subtitle")
		gapSeconds, _ := cmd.Flags().GetFloat64("gap-seconds")
		minCluster, _ := cmd.Flags().GetInt("min-cluster")
		noCharts, _ := cmd.Flags().GetBool("no-charts")

		if logDir == "" {
			logDir = cfg.LogDir
		}
		if outRoot == "" {
			outRoot = cfg.OutputRoot
		}

		opts := analysis.Options{
			LogDir:         logDir,
			OutputRoot:     outRoot,
			Tag:            tag,
			Subtitle:       subtitle,
			GapSeconds:     gapSeconds,
			MinClusterSize: minCluster,
		}

		var err error
		if opts.Start, err = parseTimeFlag(cmd, "start-time"); err != nil {
			return err
		}
		if opts.End, err = parseTimeFlag(cmd, "end-time"); err != nil {
			return err
		}

		rep, err := analysis.Run(opts)
		if err != nil {
			return err
		}

		if rep.OutputDir == "" {
			output.Info("no run found in %s (skipped %d malformed lines)", logDir, rep.SkippedLines)
			return nil
		}

		if !noCharts && !rep.Empty {
			if err := chart.WriteAll(rep.OutputDir, rep); err != nil {
				return err
			}
		}

		if cfg.Verbose {
			for _, f := range rep.LogFiles {
				output.Info("read %s", f)
			}
			if rep.SkippedLines > 0 {
				output.Info("skipped %d malformed lines", rep.SkippedLines)
			}
		}

		if cfg.Format == "json" || cfg.Format == "yaml" {
			w := output.NewWriter(cfg.Format)
			return w.Print(aggregateViews(rep.Aggregates))
		}

		table := output.Table{
			Headers: []string{"FUNCTION", "COUNT", "SUM (S)", "MEAN (S)", "MAX (S)"},
			Rows:    make([][]string, len(rep.Aggregates)),
		}
		for i, a := range rep.Aggregates {
			table.Rows[i] = []string{
				a.Function,
				strconv.Itoa(a.Count),
				fmt.Sprintf("%.4f", a.Sum),
				fmt.Sprintf("%.4f", a.Mean),
				fmt.Sprintf("%.4f", a.Max),
			}
		}
		w := output.NewWriter("table")
		if err := w.Print(table); err != nil {
			return err
		}

		output.Success("report written to %s (%d records)", rep.OutputDir, len(rep.Records))
		return nil
	},
}

// aggregateView is the serializable form of an aggregate row. NaN means
// (no resource samples) become absent fields, since JSON cannot carry NaN.
type aggregateView struct {
	Function          string   `json:"function" yaml:"function"`
	Count             int      `json:"count" yaml:"count"`
	SumSeconds        float64  `json:"sum_seconds" yaml:"sum_seconds"`
	MeanSeconds       float64  `json:"mean_seconds" yaml:"mean_seconds"`
	MaxSeconds        float64  `json:"max_seconds" yaml:"max_seconds"`
	MeanCPUDelta      *float64 `json:"mean_cpu_delta,omitempty" yaml:"mean_cpu_delta,omitempty"`
	MeanMemoryDeltaMB *float64 `json:"mean_memory_delta_mb,omitempty" yaml:"mean_memory_delta_mb,omitempty"`
}

func aggregateViews(rows []analysis.AggregateRow) []aggregateView {
	views := make([]aggregateView, len(rows))
	for i, r := range rows {
		views[i] = aggregateView{
			Function:          r.Function,
			Count:             r.Count,
			SumSeconds:        r.Sum,
			MeanSeconds:       r.Mean,
			MaxSeconds:        r.Max,
			MeanCPUDelta:      finitePtr(r.MeanCPUDelta),
			MeanMemoryDeltaMB: finitePtr(r.MeanMemoryDeltaMB),
		}
	}
	return views
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseTimeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(flagTimeLayout, raw, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: want %q", name, raw, flagTimeLayout)
	}
	return &t, nil
}

func init() {
	analyzeCmd.Flags().String("logdir", "", "Log directory to analyze (default from CALLMETER_LOG_DIR)")
	analyzeCmd.Flags().String("output-root", "", "Parent directory for report folders (default from CALLMETER_OUTPUT_ROOT)")
	analyzeCmd.Flags().String("tag", "run", "Suffix for the report folder name")
	analyzeCmd.Flags().String("subtitle", "", `Report subtitle ("none" disables, empty derives from the window)`)
	analyzeCmd.Flags().String("start-time", "", `Explicit window start, e.g. "2025-03-01 10:00:00"`)
	analyzeCmd.Flags().String("end-time", "", `Explicit window end, e.g. "2025-03-01 10:30:00"`)
	analyzeCmd.Flags().Float64("gap-seconds", 30, "Idle gap that separates two runs")
	analyzeCmd.Flags().Int("min-cluster", 1, "Minimum records for a cluster to count as a run")
	analyzeCmd.Flags().Bool("no-charts", false, "Skip chart rendering")
}
