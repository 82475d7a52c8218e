package meter

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mkonradi/callmeter/pkg/config"
	"github.com/mkonradi/callmeter/pkg/logging"
	"github.com/mkonradi/callmeter/pkg/results"
	"github.com/mkonradi/callmeter/pkg/sampler"
)

const timingLog = "timing.log"

// Meter wraps units of work with before/after resource sampling and emits
// one TelemetryRecord per successful call. All state is fixed at
// construction; concurrent calls through the same Meter share nothing but
// the physical sinks.
type Meter struct {
	dir        string
	console    bool
	fileOutput bool
	track      bool
	maxArgLen  int
	sanitize   Sanitizer
	format     results.Format
	maxSizeMB  int
	maxBackups int

	emit *emitter
}

// Option configures a Meter.
type Option func(*Meter)

// WithLogDir sets the directory for the timing sink and results store.
func WithLogDir(dir string) Option { return func(m *Meter) { m.dir = dir } }

// WithConsole toggles echoing each record to stdout.
func WithConsole(on bool) Option { return func(m *Meter) { m.console = on } }

// WithFileOutput toggles the rotating sink and the results store.
func WithFileOutput(on bool) Option { return func(m *Meter) { m.fileOutput = on } }

// WithResourceTracking toggles CPU and memory sampling around each call.
func WithResourceTracking(on bool) Option { return func(m *Meter) { m.track = on } }

// WithMaxArgLength truncates each serialized argument beyond n bytes,
// appending a "..." marker. Zero means unlimited.
func WithMaxArgLength(n int) Option { return func(m *Meter) { m.maxArgLen = n } }

// WithSanitizer applies f to every serialized argument string.
func WithSanitizer(f Sanitizer) Option { return func(m *Meter) { m.sanitize = f } }

// WithResultsFormat selects the tabular store representation.
func WithResultsFormat(f results.Format) Option { return func(m *Meter) { m.format = f } }

// WithRotation overrides the sink rotation threshold and backup count.
func WithRotation(maxSizeMB, maxBackups int) Option {
	return func(m *Meter) {
		m.maxSizeMB = maxSizeMB
		m.maxBackups = maxBackups
	}
}

// New constructs a Meter, creating the log directory, the timing sink, and
// the results store up front so emission never depends on lazy global state.
// Defaults come from the CALLMETER_* environment; options override them.
func New(opts ...Option) (*Meter, error) {
	base := config.Load()
	m := &Meter{
		dir:        base.LogDir,
		console:    base.Console,
		fileOutput: true,
		track:      true,
		format:     results.Format(base.ResultsFormat),
		maxSizeMB:  base.MaxSizeMB,
		maxBackups: base.MaxBackups,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.emit = &emitter{console: m.console}
	if m.fileOutput {
		if err := os.MkdirAll(m.dir, 0o755); err != nil {
			return nil, fmt.Errorf("meter: create log dir: %w", err)
		}
		m.emit.sink = logging.NewSink(filepath.Join(m.dir, timingLog), m.maxSizeMB, m.maxBackups)
		store, err := results.Open(m.dir, m.format)
		if err != nil {
			return nil, err
		}
		m.emit.store = store
	}
	return m, nil
}

// Close releases the timing sink.
func (m *Meter) Close() error {
	if m.emit.sink != nil {
		return m.emit.sink.Close()
	}
	return nil
}

// Wrap returns fn with timing and resource observation injected. The
// returned function generates a fresh call ID, samples before and after,
// emits one record, and passes fn's outcome through unchanged. A failing fn
// produces an error-level event in the sink instead of a measurement.
func (m *Meter) Wrap(name string, fn WorkFunc) WorkFunc {
	return func(ctx context.Context, args ...any) error {
		callID := uuid.NewString()
		before := m.sample()

		if err := fn(ctx, args...); err != nil {
			m.emit.emitEvent(TelemetryRecord{
				CallID:    callID,
				Function:  name,
				Timestamp: before.Timestamp,
				Message:   fmt.Sprintf("Function `%s` raised an error: %v", name, err),
			}, "ERROR")
			return err
		}

		after := m.sample()
		m.emit.emitPerf(m.record(callID, name, before, after, serializeArgs(args, m.sanitize, m.maxArgLen)))
		return nil
	}
}

// Wrap instruments a value-returning function with m. The value and error
// pass through unchanged.
func Wrap[T any](m *Meter, name string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var out T
		err := m.Wrap(name, func(ctx context.Context, _ ...any) error {
			var ferr error
			out, ferr = fn(ctx)
			return ferr
		})(ctx)
		return out, err
	}
}

func (m *Meter) sample() sampler.Sample {
	if m.track {
		return sampler.Take()
	}
	return sampler.Sample{Timestamp: time.Now(), CPUSeconds: math.NaN(), RSSMB: math.NaN()}
}

func (m *Meter) record(callID, name string, before, after sampler.Sample, args string) TelemetryRecord {
	duration := after.Timestamp.Sub(before.Timestamp).Seconds()
	cpuDelta, memDelta := sampler.Delta(before, after)

	msg := fmt.Sprintf("Function `%s` executed in %.4f sec", name, duration)
	if m.track {
		msg += fmt.Sprintf(", CPU Time: %.4f sec, Memory Change: %.4f MB, Final Memory: %.4f MB",
			cpuDelta, memDelta, after.RSSMB)
	}

	return TelemetryRecord{
		CallID:          callID,
		Function:        name,
		Timestamp:       after.Timestamp,
		DurationSeconds: duration,
		CPUDelta:        cpuDelta,
		MemoryDeltaMB:   memDelta,
		MemoryAfterMB:   after.RSSMB,
		Arguments:       args,
		Message:         msg,
	}
}
