// Package analysis reconstructs a run from accumulated telemetry sinks and
// computes per-function aggregate statistics over it.
package analysis

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mkonradi/callmeter/pkg/logging"
)

// Line is one parsed sink record. Numeric telemetry fields hold NaN when the
// source line did not carry them (span start events, error events, records
// captured with resource tracking off).
type Line struct {
	Timestamp       time.Time
	Level           string
	Message         string
	Function        string
	UUID            string
	DurationSeconds float64
	CPUDelta        float64
	MemoryDeltaMB   float64
	MemoryAfterMB   float64
	Arguments       string
	Raw             string
}

// IsMeasurement reports whether the line carries a completed timing
// measurement.
func (l Line) IsMeasurement() bool {
	return !math.IsNaN(l.DurationSeconds)
}

type wireLine struct {
	Timestamp       string   `json:"timestamp"`
	Level           string   `json:"level"`
	Message         string   `json:"message"`
	Function        string   `json:"function"`
	UUID            string   `json:"uuid"`
	DurationSeconds *float64 `json:"duration_seconds"`
	CPUDelta        *float64 `json:"cpu_delta"`
	MemoryDeltaMB   *float64 `json:"memory_delta_mb"`
	MemoryAfterMB   *float64 `json:"memory_after_mb"`
	Arguments       string   `json:"arguments"`
}

// LoadDir reads every timing sink in dir, current and rotated, and returns
// their records merged into one timestamp-ascending sequence. Malformed or
// partial lines (a sink may be mid-append in another process) are skipped
// and counted, never fatal.
func LoadDir(dir string) (lines []Line, skipped int, files []string, err error) {
	files, err = sinkFiles(dir)
	if err != nil {
		return nil, 0, nil, err
	}

	for _, file := range files {
		fileLines, fileSkipped, err := loadFile(file)
		if err != nil {
			return nil, 0, nil, err
		}
		lines = append(lines, fileLines...)
		skipped += fileSkipped
	}

	// Stable keeps same-timestamp records in file order, so overlapping
	// rotations merge without dropping or duplicating anything.
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Timestamp.Before(lines[j].Timestamp)
	})
	return lines, skipped, files, nil
}

// sinkFiles globs the current sink plus lumberjack's rotated backups.
func sinkFiles(dir string) ([]string, error) {
	current, err := filepath.Glob(filepath.Join(dir, "timing.log*"))
	if err != nil {
		return nil, fmt.Errorf("analysis: glob log dir: %w", err)
	}
	rotated, err := filepath.Glob(filepath.Join(dir, "timing-*.log"))
	if err != nil {
		return nil, fmt.Errorf("analysis: glob log dir: %w", err)
	}

	seen := map[string]bool{}
	var files []string
	for _, f := range append(current, rotated...) {
		if filepath.Ext(f) == ".lock" || seen[f] {
			continue
		}
		seen[f] = true
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func loadFile(path string) ([]Line, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("analysis: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []Line
	skipped := 0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line, ok := parseLine(sc.Text())
		if !ok {
			skipped++
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("analysis: read %s: %w", path, err)
	}
	return lines, skipped, nil
}

func parseLine(raw string) (Line, bool) {
	if raw == "" {
		return Line{}, false
	}
	var w wireLine
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Line{}, false
	}
	if w.Timestamp == "" || w.Message == "" {
		return Line{}, false
	}
	ts, err := time.ParseInLocation(logging.TimeLayout, w.Timestamp, time.Local)
	if err != nil {
		return Line{}, false
	}

	return Line{
		Timestamp:       ts,
		Level:           w.Level,
		Message:         w.Message,
		Function:        w.Function,
		UUID:            w.UUID,
		DurationSeconds: deref(w.DurationSeconds),
		CPUDelta:        deref(w.CPUDelta),
		MemoryDeltaMB:   deref(w.MemoryDeltaMB),
		MemoryAfterMB:   deref(w.MemoryAfterMB),
		Arguments:       w.Arguments,
		Raw:             raw,
	}, true
}

func deref(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
