// Package chart renders plain-text charts of analysis results. Charts
// are written next to the CSV artifacts so a run's output folder is
// self-contained and viewable without any tooling.
package chart

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/mkonradi/callmeter/pkg/analysis"
)

const (
	defaultWidth  = 80
	defaultHeight = 12
)

// RenderTimeline plots call durations in time order as a line chart.
func RenderTimeline(records []analysis.Line, caption string) string {
	data := durations(records)
	if len(data) == 0 {
		return "no data"
	}
	if len(data) == 1 {
		// asciigraph needs at least two points to draw a line.
		data = append(data, data[0])
	}
	return asciigraph.Plot(data,
		asciigraph.Height(defaultHeight),
		asciigraph.Width(defaultWidth),
		asciigraph.Caption(caption),
	)
}

// RenderFunctionBars draws a horizontal bar chart of mean duration per
// function, widest bar for the slowest function.
func RenderFunctionBars(rows []analysis.AggregateRow, width int) string {
	if len(rows) == 0 {
		return "no data"
	}
	if width < 40 {
		width = 40
	}

	maxVal := 0.0
	maxLabel := 0
	for _, r := range rows {
		if r.Mean > maxVal {
			maxVal = r.Mean
		}
		if len(r.Function) > maxLabel {
			maxLabel = len(r.Function)
		}
	}
	if maxVal == 0 {
		maxVal = 1
	}

	barWidth := width - maxLabel - 14
	if barWidth < 10 {
		barWidth = 10
	}

	var lines []string
	for _, r := range rows {
		barLen := int((r.Mean / maxVal) * float64(barWidth))
		if barLen < 0 {
			barLen = 0
		}
		line := fmt.Sprintf("%*s │%s %.4fs (n=%d)",
			maxLabel, r.Function, strings.Repeat("█", barLen), r.Mean, r.Count)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// WriteAll renders the standard chart set for a report into dir:
// an overall duration timeline, a per-function mean bar chart, and one
// timeline per function.
func WriteAll(dir string, rep *analysis.Report) error {
	if err := writeChart(filepath.Join(dir, "duration_timeline.txt"),
		RenderTimeline(rep.Records, "call duration (s), "+rep.Subtitle)); err != nil {
		return err
	}
	if err := writeChart(filepath.Join(dir, "function_means.txt"),
		RenderFunctionBars(rep.Aggregates, defaultWidth)); err != nil {
		return err
	}

	byFunc := make(map[string][]analysis.Line)
	for _, r := range rep.Records {
		byFunc[r.Function] = append(byFunc[r.Function], r)
	}
	names := make([]string, 0, len(byFunc))
	for name := range byFunc {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, "timing_"+sanitizeName(name)+".txt")
		chart := RenderTimeline(byFunc[name], name+" duration (s)")
		if err := writeChart(path, chart); err != nil {
			return err
		}
	}
	return nil
}

func writeChart(path, body string) error {
	if err := os.WriteFile(path, []byte(body+"\n"), 0o644); err != nil {
		return fmt.Errorf("chart: write %s: %w", path, err)
	}
	return nil
}

func durations(records []analysis.Line) []float64 {
	var out []float64
	for _, r := range records {
		if math.IsNaN(r.DurationSeconds) {
			continue
		}
		out = append(out, r.DurationSeconds)
	}
	return out
}

// sanitizeName makes a function name safe to use in a filename.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
