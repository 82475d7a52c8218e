package meter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/mkonradi/callmeter/pkg/logging"
	"github.com/mkonradi/callmeter/pkg/results"
)

// fallback is the last-resort reporter for emission failures. Telemetry must
// never crash or block the observed call, so sink errors land on stderr and
// the call proceeds.
var fallback = slog.New(slog.NewTextHandler(os.Stderr, nil))

// emitter serializes records to the configured sinks: console echo, rotating
// JSON sink, and the tabular results store. All methods swallow I/O errors
// after reporting them through fallback.
type emitter struct {
	console bool
	sink    *logging.Sink
	store   results.Store
	errs    results.ErrorStore
}

func (e *emitter) emitPerf(rec TelemetryRecord) {
	if e.console {
		fmt.Println(rec.Message)
	}

	if e.sink != nil {
		line := map[string]any{
			"timestamp": rec.Timestamp.Format(logging.TimeLayout),
			"level":     "INFO",
			"message":   rec.Message,
			"function":  rec.Function,
			"uuid":      rec.CallID,
			"arguments": rec.Arguments,
		}
		putNum(line, "duration_seconds", rec.DurationSeconds)
		putNum(line, "cpu_delta", rec.CPUDelta)
		putNum(line, "memory_delta_mb", rec.MemoryDeltaMB)
		putNum(line, "memory_after_mb", rec.MemoryAfterMB)
		e.writeLine(line)
	}

	if e.store != nil {
		row := results.Row{
			Timestamp:        rec.Timestamp.Format(logging.TimeLayout),
			UUID:             rec.CallID,
			Function:         rec.Function,
			ExecutionSeconds: rec.DurationSeconds,
			CPUSeconds:       zeroNaN(rec.CPUDelta),
			MemoryChangeMB:   zeroNaN(rec.MemoryDeltaMB),
			FinalMemoryMB:    zeroNaN(rec.MemoryAfterMB),
			Arguments:        rec.Arguments,
			LogMessage:       rec.Message,
		}
		if err := e.store.Append(row); err != nil {
			fallback.Error("callmeter: results store append failed", "err", err)
		}
	}
}

// emitEvent writes a non-measurement line (span start, instrumented-call
// failure) to the JSON sink only.
func (e *emitter) emitEvent(rec TelemetryRecord, level string) {
	if e.console {
		fmt.Println(rec.Message)
	}
	if e.sink == nil {
		return
	}
	e.writeLine(map[string]any{
		"timestamp": rec.Timestamp.Format(logging.TimeLayout),
		"level":     level,
		"message":   rec.Message,
		"function":  rec.Function,
		"uuid":      rec.CallID,
	})
}

func (e *emitter) emitError(rec ErrorRecord) {
	if e.console {
		fmt.Fprintf(os.Stderr, "Function `%s` raised an error: %s\n", rec.Function, rec.Message)
	}

	if e.sink != nil {
		e.writeLine(map[string]any{
			"timestamp":  rec.Timestamp.Format(logging.TimeLayout),
			"level":      "ERROR",
			"message":    fmt.Sprintf("Function `%s` raised an error: %s", rec.Function, rec.Message),
			"function":   rec.Function,
			"uuid":       rec.CallID,
			"error_type": rec.ErrType,
			"error":      rec.Message,
			"stack":      rec.Stack,
		})
	}

	if e.errs != nil {
		row := results.ErrorRow{
			Timestamp: rec.Timestamp.Format(logging.TimeLayout),
			UUID:      rec.CallID,
			Function:  rec.Function,
			Message:   rec.Message,
			Arguments: rec.Arguments,
		}
		if err := e.errs.Append(row); err != nil {
			fallback.Error("callmeter: error store append failed", "err", err)
		}
	}
}

func (e *emitter) writeLine(line map[string]any) {
	payload, err := json.Marshal(line)
	if err != nil {
		fallback.Error("callmeter: record marshal failed", "err", err)
		return
	}
	if err := e.sink.WriteLine(payload); err != nil {
		fallback.Error("callmeter: sink write failed", "err", err)
	}
}

// putNum adds a numeric field, dropping NaN/Inf which JSON cannot carry.
// Ingestion treats the missing field as unknown.
func putNum(m map[string]any, key string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	m[key] = v
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
