// Package meter instruments function calls with timing, resource, and error
// telemetry and emits one structured record per call.
//
// The capture surface has three shapes: Meter.Wrap for callables that can be
// wrapped, Meter.Start/Meter.End for call sites that cannot, and
// Catcher.Wrap for failure observation. Wrappers are observers only: the
// wrapped call's return value, error, or panic always passes through
// unchanged. Composition is explicit nesting; put the catcher outermost so
// it also observes failures raised by the timing layer itself:
//
//	fn = catcher.Wrap("ingest", m.Wrap("ingest", fn))
package meter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// WorkFunc is the unit of work the wrappers instrument. The variadic args
// are captured into the record's serialized argument string; the work itself
// decides what, if anything, to do with them.
type WorkFunc func(ctx context.Context, args ...any) error

// TelemetryRecord is one measured call. Immutable once emitted.
type TelemetryRecord struct {
	CallID          string
	Function        string
	Timestamp       time.Time
	DurationSeconds float64
	CPUDelta        float64
	MemoryDeltaMB   float64
	MemoryAfterMB   float64
	Arguments       string
	Message         string
}

// ErrorRecord is one observed failure.
type ErrorRecord struct {
	CallID    string
	Function  string
	Timestamp time.Time
	ErrType   string
	Message   string
	Stack     string
	Arguments string
}

// Sanitizer transforms a serialized argument or message string before it is
// persisted. It must be a pure function, total on any input.
type Sanitizer func(string) string

// MaskDigits is an example Sanitizer that replaces every digit with '*'.
func MaskDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return '*'
		}
		return r
	}, s)
}

// serializeArgs renders args as a JSON object of stringified values, each
// sanitized and then truncated with a trailing marker.
func serializeArgs(args []any, sanitize Sanitizer, maxLen int) string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = safeString(a, sanitize, maxLen)
	}
	payload, err := json.Marshal(struct {
		Args []string `json:"args"`
	}{Args: out})
	if err != nil {
		return `{"args":["<unserializable>"]}`
	}
	return string(payload)
}

func safeString(v any, sanitize Sanitizer, maxLen int) (s string) {
	defer func() {
		// A hostile String() implementation must not crash the observer.
		if recover() != nil {
			s = "<unserializable>"
		}
	}()
	s = fmt.Sprintf("%v", v)
	if sanitize != nil {
		s = sanitize(s)
	}
	if maxLen > 0 && len(s) > maxLen {
		// Back off to a rune boundary so the cut never leaves a partial
		// UTF-8 sequence for the JSON encoder to mangle.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
