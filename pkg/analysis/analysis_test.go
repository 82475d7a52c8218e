package analysis

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkonradi/callmeter/pkg/testutil"
)

func perfLine(ts, fn string, dur float64) string {
	return fmt.Sprintf(`{"timestamp":"%s","level":"INFO","message":"Function `+"`%s`"+` executed in %.4f sec","function":"%s","uuid":"u-%s","duration_seconds":%g}`,
		ts, fn, dur, fn, ts, dur)
}

func writeSink(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	testutil.SeedSink(t, dir, name, lines...)
}

func TestRun_DetectsLatestClusterAndAggregates(t *testing.T) {
	dir := t.TempDir()
	writeSink(t, dir, "timing.log",
		perfLine("2025-03-01 07:00:00,000", "old", 99),
		perfLine("2025-03-01 10:00:00,000", "work", 1),
		perfLine("2025-03-01 10:00:01,000", "work", 2),
		perfLine("2025-03-01 10:00:02,000", "work", 3),
	)

	rep, err := Run(Options{LogDir: dir, GapSeconds: 60})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Detected {
		t.Fatal("expected a detected window")
	}
	wantStart := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	wantEnd := time.Date(2025, 3, 1, 10, 0, 2, 0, time.Local)
	if !rep.Window.Start.Equal(wantStart) || !rep.Window.End.Equal(wantEnd) {
		t.Fatalf("window = [%v, %v], want [%v, %v]", rep.Window.Start, rep.Window.End, wantStart, wantEnd)
	}
	if len(rep.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(rep.Records))
	}

	if len(rep.Aggregates) != 1 {
		t.Fatalf("aggregate rows = %d, want 1", len(rep.Aggregates))
	}
	agg := rep.Aggregates[0]
	if agg.Function != "work" || agg.Count != 3 {
		t.Fatalf("aggregate = %+v", agg)
	}
	if agg.Sum != 6 || agg.Mean != 2 || agg.Max != 3 {
		t.Fatalf("sum/mean/max = %v/%v/%v, want 6/2/3", agg.Sum, agg.Mean, agg.Max)
	}
	if !math.IsNaN(agg.MeanCPUDelta) {
		t.Fatalf("mean cpu delta = %v, want NaN with no samples", agg.MeanCPUDelta)
	}
}

func TestRun_IgnoresRecordsBeforeGap(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	var lines []string
	for i := 0; i < 5; i++ {
		ts := base.Add(-time.Hour).Add(time.Duration(i) * time.Second)
		lines = append(lines, perfLine(ts.Format("2006-01-02 15:04:05,000"), "stale", 1))
	}
	for i := 0; i < 8; i++ {
		ts := base.Add(time.Duration(i*100) * time.Millisecond)
		lines = append(lines, perfLine(ts.Format("2006-01-02 15:04:05,000"), "fresh", 1))
	}
	writeSink(t, dir, "timing.log", lines...)

	rep, err := Run(Options{LogDir: dir, GapSeconds: 30})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Records) != 8 {
		t.Fatalf("records = %d, want 8", len(rep.Records))
	}
	for _, r := range rep.Records {
		if r.Function != "fresh" {
			t.Fatalf("unexpected function %q inside window", r.Function)
		}
	}
}

func TestRun_ExplicitEmptyWindowWritesZeroRowOutputs(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()
	writeSink(t, dir, "timing.log",
		perfLine("2025-03-01 10:00:00,000", "work", 1),
	)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	end := start.Add(time.Hour)
	rep, err := Run(Options{LogDir: dir, OutputRoot: out, Start: &start, End: &end})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Empty {
		t.Fatal("expected an empty report for an out-of-range window")
	}
	if rep.Detected {
		t.Fatal("override window must bypass detection")
	}
	if rep.OutputDir == "" {
		t.Fatal("explicit window should still produce an output dir")
	}

	data, err := os.ReadFile(filepath.Join(rep.OutputDir, "results_aggregate.csv"))
	if err != nil {
		t.Fatal(err)
	}
	want := "Function,Count,Sum (s),Mean (s),Max (s),Mean CPU Delta,Mean Memory Delta (MB)\n"
	if string(data) != want {
		t.Fatalf("aggregate csv = %q, want header only", data)
	}
}

func TestRun_MergesRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeSink(t, dir, "timing.log",
		perfLine("2025-03-01 10:00:02,000", "work", 3),
	)
	writeSink(t, dir, "timing.log.1",
		perfLine("2025-03-01 10:00:00,000", "work", 1),
		perfLine("2025-03-01 10:00:01,000", "work", 2),
	)

	rep, err := Run(Options{LogDir: dir, GapSeconds: 60})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.LogFiles) != 2 {
		t.Fatalf("log files = %v, want 2 entries", rep.LogFiles)
	}
	if len(rep.Records) != 3 {
		t.Fatalf("records = %d, want 3 across rotated files", len(rep.Records))
	}
	if rep.Aggregates[0].Count != 3 {
		t.Fatalf("count = %d, want 3", rep.Aggregates[0].Count)
	}
}

func TestRun_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeSink(t, dir, "timing.log",
		"this is not json",
		perfLine("2025-03-01 10:00:00,000", "work", 1),
		`{"message":"missing timestamp"}`,
		perfLine("2025-03-01 10:00:01,000", "work", 2),
	)

	rep, err := Run(Options{LogDir: dir, GapSeconds: 60})
	if err != nil {
		t.Fatal(err)
	}
	if rep.SkippedLines != 2 {
		t.Fatalf("skipped = %d, want 2", rep.SkippedLines)
	}
	if len(rep.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(rep.Records))
	}
}

func TestRun_WritesArtifactsAndIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeSink(t, dir, "timing.log",
		perfLine("2025-03-01 10:00:00,000", "beta", 1),
		perfLine("2025-03-01 10:00:01,000", "alpha", 5),
		perfLine("2025-03-01 10:00:02,000", "beta", 2),
	)

	out := t.TempDir()
	rep, err := Run(Options{LogDir: dir, OutputRoot: out, Tag: "bench", GapSeconds: 60})
	if err != nil {
		t.Fatal(err)
	}
	wantDir := filepath.Join(out, "2025-03-01_10-00-02_bench")
	if rep.OutputDir != wantDir {
		t.Fatalf("output dir = %q, want %q", rep.OutputDir, wantDir)
	}
	for _, name := range []string{"results.csv", "results_aggregate.csv", "filtered_log_lines.log", "README.txt"} {
		if _, err := os.Stat(filepath.Join(wantDir, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}

	first, err := os.ReadFile(filepath.Join(wantDir, "results_aggregate.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Run(Options{LogDir: dir, OutputRoot: out, Tag: "bench", GapSeconds: 60}); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(filepath.Join(wantDir, "results_aggregate.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatal("aggregate output changed between identical runs")
	}

	// Sum-descending order: alpha (5) before beta (3).
	if rep.Aggregates[0].Function != "alpha" || rep.Aggregates[1].Function != "beta" {
		t.Fatalf("aggregate order = %q, %q", rep.Aggregates[0].Function, rep.Aggregates[1].Function)
	}
}

func TestRun_EmptyDirectoryProducesEmptyReport(t *testing.T) {
	dir := t.TempDir()
	rep, err := Run(Options{LogDir: dir, OutputRoot: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Empty {
		t.Fatal("expected empty report")
	}
	if rep.OutputDir != "" {
		t.Fatal("no output dir should be created without a window")
	}
}

func TestDetect_SingleRecordZeroWidthWindow(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	w, ok := Detect([]time.Time{ts}, DefaultDetectOptions())
	if !ok {
		t.Fatal("single record must form a window")
	}
	if !w.Start.Equal(ts) || !w.End.Equal(ts) {
		t.Fatalf("window = [%v, %v], want zero width at %v", w.Start, w.End, ts)
	}
	if !w.Contains(ts) {
		t.Fatal("zero-width window must contain its own timestamp")
	}
}

func TestDetect_MinClusterSizeSkipsSparseTail(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	times := []time.Time{
		base, base.Add(time.Second), base.Add(2 * time.Second),
		base.Add(2 * time.Hour), // lone straggler after the dense cluster
	}
	w, ok := Detect(times, DetectOptions{GapSeconds: 30, MinClusterSize: 3})
	if !ok {
		t.Fatal("expected the dense cluster to be found")
	}
	if !w.Start.Equal(base) || !w.End.Equal(base.Add(2*time.Second)) {
		t.Fatalf("window = [%v, %v], want the three-record cluster", w.Start, w.End)
	}
}
