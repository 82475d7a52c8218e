package analysis

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mkonradi/callmeter/pkg/logging"
)

// Options configures one analysis invocation.
type Options struct {
	LogDir     string
	OutputRoot string // parent of the per-run output folder; empty disables file output
	Tag        string // output folder suffix, default "run"
	Subtitle   string // "" derives "<start> to <end>"; the literal "none" disables it

	// Explicit window overrides. When both are set, detection is bypassed
	// and the values are used verbatim; a single override fills in for the
	// corresponding detected bound.
	Start *time.Time
	End   *time.Time

	GapSeconds     float64
	MinClusterSize int
}

// Report is the outcome of one analysis run.
type Report struct {
	Window        Window
	Detected      bool // window came from detection rather than overrides
	Empty         bool // no records fell inside the window
	LogFiles      []string
	SkippedLines  int
	FilteredLines []Line // every in-window line, measurements or not
	Records       []Line // in-window measurements only
	Aggregates    []AggregateRow
	Subtitle      string
	OutputDir     string
}

const outputTimeTag = "2006-01-02_15-04-05"

// Run ingests the log directory, establishes the run window, aggregates,
// and writes the output artifacts. An empty window is reported, with
// zero-row outputs, not returned as an error; genuine I/O problems are.
func Run(opts Options) (*Report, error) {
	if opts.LogDir == "" {
		return nil, fmt.Errorf("analysis: log directory is required")
	}
	if opts.Tag == "" {
		opts.Tag = "run"
	}

	lines, skipped, files, err := LoadDir(opts.LogDir)
	if err != nil {
		return nil, err
	}

	rep := &Report{LogFiles: files, SkippedLines: skipped}

	window, ok := resolveWindow(lines, opts, rep)
	if !ok {
		// Nothing ingested and no explicit window: there is no run to
		// report on and no end timestamp to name an output folder after.
		rep.Empty = true
		return rep, nil
	}
	rep.Window = window

	for _, l := range lines {
		if !window.Contains(l.Timestamp) {
			continue
		}
		rep.FilteredLines = append(rep.FilteredLines, l)
		if l.IsMeasurement() {
			rep.Records = append(rep.Records, l)
		}
	}
	rep.Empty = len(rep.Records) == 0
	rep.Aggregates = Aggregate(rep.Records)
	rep.Subtitle = resolveSubtitle(opts.Subtitle, window)

	if opts.OutputRoot != "" {
		if err := writeArtifacts(rep, opts); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func resolveWindow(lines []Line, opts Options, rep *Report) (Window, bool) {
	if opts.Start != nil && opts.End != nil {
		return Window{Start: *opts.Start, End: *opts.End}, true
	}

	times := make([]time.Time, len(lines))
	for i, l := range lines {
		times[i] = l.Timestamp
	}
	detected, ok := Detect(times, DetectOptions{
		GapSeconds:     opts.GapSeconds,
		MinClusterSize: opts.MinClusterSize,
	})
	if !ok {
		return Window{}, false
	}

	rep.Detected = true
	if opts.Start != nil {
		detected.Start = *opts.Start
	}
	if opts.End != nil {
		detected.End = *opts.End
	}
	return detected, true
}

func resolveSubtitle(subtitle string, w Window) string {
	switch {
	case subtitle == "":
		return fmt.Sprintf("%s to %s",
			w.Start.Format("2006-01-02 15:04:05"), w.End.Format("2006-01-02 15:04:05"))
	case strings.EqualFold(subtitle, "none"):
		return ""
	default:
		return subtitle
	}
}

func writeArtifacts(rep *Report, opts Options) error {
	dir := filepath.Join(opts.OutputRoot,
		fmt.Sprintf("%s_%s", rep.Window.End.Format(outputTimeTag), opts.Tag))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("analysis: create output dir: %w", err)
	}
	rep.OutputDir = dir

	if err := writeRawCSV(filepath.Join(dir, "results.csv"), rep.Records); err != nil {
		return err
	}
	if err := WriteAggregateCSV(filepath.Join(dir, "results_aggregate.csv"), rep.Aggregates); err != nil {
		return err
	}
	if err := writeFilteredLines(filepath.Join(dir, "filtered_log_lines.log"), rep.FilteredLines); err != nil {
		return err
	}
	return writeMetadata(filepath.Join(dir, "README.txt"), rep)
}

func writeRawCSV(path string, records []Line) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("analysis: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"Function", "Call ID", "Timestamp", "Duration (s)",
		"CPU Delta", "Memory Delta (MB)", "Memory After (MB)", "Arguments",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("analysis: write %s: %w", path, err)
	}
	for _, r := range records {
		row := []string{
			r.Function, r.UUID, r.Timestamp.Format(logging.TimeLayout),
			formatFloat(r.DurationSeconds), formatFloat(r.CPUDelta),
			formatFloat(r.MemoryDeltaMB), formatFloat(r.MemoryAfterMB), r.Arguments,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("analysis: write %s: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteAggregateCSV writes aggregate rows in their deterministic order;
// rerunning on an unchanged input set yields byte-identical output.
func WriteAggregateCSV(path string, rows []AggregateRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("analysis: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"Function", "Count", "Sum (s)", "Mean (s)", "Max (s)",
		"Mean CPU Delta", "Mean Memory Delta (MB)",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("analysis: write %s: %w", path, err)
	}
	for _, r := range rows {
		row := []string{
			r.Function, strconv.Itoa(r.Count),
			formatFloat(r.Sum), formatFloat(r.Mean), formatFloat(r.Max),
			formatFloat(r.MeanCPUDelta), formatFloat(r.MeanMemoryDeltaMB),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("analysis: write %s: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}

func writeFilteredLines(path string, lines []Line) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("analysis: create %s: %w", path, err)
	}
	defer f.Close()

	for _, l := range lines {
		if _, err := fmt.Fprintln(f, l.Raw); err != nil {
			return fmt.Errorf("analysis: write %s: %w", path, err)
		}
	}
	return nil
}

func writeMetadata(path string, rep *Report) error {
	var b strings.Builder
	b.WriteString("=== Timing Analysis Metadata ===\n")
	b.WriteString("Log files used:\n")
	for _, f := range rep.LogFiles {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	fmt.Fprintf(&b, "\nTime window: %s to %s\n",
		rep.Window.Start.Format("2006-01-02 15:04:05"), rep.Window.End.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Subtitle:    %s\n", rep.Subtitle)
	fmt.Fprintf(&b, "Records:     %d (skipped %d malformed lines)\n", len(rep.Records), rep.SkippedLines)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("analysis: write %s: %w", path, err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
