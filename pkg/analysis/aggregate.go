package analysis

import (
	"math"
	"sort"
)

// AggregateRow summarizes one function's measurements inside the run window.
type AggregateRow struct {
	Function          string
	Count             int
	Sum               float64
	Mean              float64
	Max               float64
	MeanCPUDelta      float64
	MeanMemoryDeltaMB float64
}

// Aggregate groups measurement lines by function and computes duration
// count/sum/mean/max plus mean CPU and memory deltas. Output ordering is
// deterministic regardless of input order: total duration descending,
// function name ascending on ties. CPU and memory means are taken over the
// records that carried those fields; a function with none yields NaN.
func Aggregate(lines []Line) []AggregateRow {
	type acc struct {
		count  int
		sum    float64
		max    float64
		cpuSum float64
		cpuN   int
		memSum float64
		memN   int
	}

	byFunc := map[string]*acc{}
	for _, l := range lines {
		if !l.IsMeasurement() {
			continue
		}
		a := byFunc[l.Function]
		if a == nil {
			a = &acc{}
			byFunc[l.Function] = a
		}
		a.count++
		a.sum += l.DurationSeconds
		if l.DurationSeconds > a.max {
			a.max = l.DurationSeconds
		}
		if !math.IsNaN(l.CPUDelta) {
			a.cpuSum += l.CPUDelta
			a.cpuN++
		}
		if !math.IsNaN(l.MemoryDeltaMB) {
			a.memSum += l.MemoryDeltaMB
			a.memN++
		}
	}

	rows := make([]AggregateRow, 0, len(byFunc))
	for fn, a := range byFunc {
		row := AggregateRow{
			Function:          fn,
			Count:             a.count,
			Sum:               a.sum,
			Mean:              a.sum / float64(a.count),
			Max:               a.max,
			MeanCPUDelta:      math.NaN(),
			MeanMemoryDeltaMB: math.NaN(),
		}
		if a.cpuN > 0 {
			row.MeanCPUDelta = a.cpuSum / float64(a.cpuN)
		}
		if a.memN > 0 {
			row.MeanMemoryDeltaMB = a.memSum / float64(a.memN)
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Sum != rows[j].Sum {
			return rows[i].Sum > rows[j].Sum
		}
		return rows[i].Function < rows[j].Function
	})
	return rows
}
