package analysis

import (
	"time"
)

// Window bounds the most recent dense cluster of record timestamps,
// inclusive on both ends. A single-record sequence yields a zero-width
// window where Start equals End.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, boundaries included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// DetectOptions tunes run detection. GapSeconds has no principled
// derivation; it must sit above intra-run inter-call latency and below
// inter-run idle time. 30s is the documented default. MinClusterSize
// discards clusters smaller than it; the default of 1 accepts any trailing
// record as its own run.
type DetectOptions struct {
	GapSeconds     float64
	MinClusterSize int
}

// DefaultDetectOptions returns the documented defaults.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{GapSeconds: 30, MinClusterSize: 1}
}

// Detect finds the most recent dense cluster in a timestamp-ascending
// sequence: consecutive gaps at or below the threshold extend a cluster, a
// larger gap closes it. The latest cluster meeting the minimum size wins.
// ok is false for an empty sequence or when no cluster is large enough.
func Detect(times []time.Time, opts DetectOptions) (w Window, ok bool) {
	if len(times) == 0 {
		return Window{}, false
	}
	if opts.GapSeconds <= 0 {
		opts.GapSeconds = 30
	}
	if opts.MinClusterSize < 1 {
		opts.MinClusterSize = 1
	}

	gap := time.Duration(opts.GapSeconds * float64(time.Second))

	// Walk backward from the last record, growing the candidate window
	// until a gap exceeds the threshold; then keep walking to find an
	// earlier cluster if this one is below the minimum size.
	end := len(times) - 1
	for end >= 0 {
		start := end
		for start > 0 && times[start].Sub(times[start-1]) <= gap {
			start--
		}
		if end-start+1 >= opts.MinClusterSize {
			return Window{Start: times[start], End: times[end]}, true
		}
		end = start - 1
	}
	return Window{}, false
}
