package meter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/mkonradi/callmeter/pkg/config"
	"github.com/mkonradi/callmeter/pkg/logging"
	"github.com/mkonradi/callmeter/pkg/results"
)

const errorLog = "error.log"

// Catcher observes failures raised by wrapped calls: each one produces an
// ErrorRecord in the dedicated error sink and store, after which the
// original failure continues unchanged. Both returned errors and panics are
// observed; panics are re-raised.
type Catcher struct {
	dir        string
	console    bool
	fileOutput bool
	maxArgLen  int
	sanitize   Sanitizer
	format     results.Format
	maxSizeMB  int
	maxBackups int

	emit *emitter
}

// CatcherOption configures a Catcher.
type CatcherOption func(*Catcher)

// CatcherLogDir sets the directory for the error sink and error store.
func CatcherLogDir(dir string) CatcherOption { return func(c *Catcher) { c.dir = dir } }

// CatcherConsole toggles echoing failures to stderr.
func CatcherConsole(on bool) CatcherOption { return func(c *Catcher) { c.console = on } }

// CatcherFileOutput toggles the rotating error sink and the error store.
func CatcherFileOutput(on bool) CatcherOption { return func(c *Catcher) { c.fileOutput = on } }

// CatcherSanitizer applies f to failure messages and serialized arguments.
func CatcherSanitizer(f Sanitizer) CatcherOption { return func(c *Catcher) { c.sanitize = f } }

// CatcherMaxArgLength truncates serialized arguments beyond n bytes.
func CatcherMaxArgLength(n int) CatcherOption { return func(c *Catcher) { c.maxArgLen = n } }

// CatcherResultsFormat selects the error store representation.
func CatcherResultsFormat(f results.Format) CatcherOption { return func(c *Catcher) { c.format = f } }

// CatcherRotation overrides the error sink rotation threshold and backups.
func CatcherRotation(maxSizeMB, maxBackups int) CatcherOption {
	return func(c *Catcher) {
		c.maxSizeMB = maxSizeMB
		c.maxBackups = maxBackups
	}
}

// NewCatcher constructs a Catcher with its dedicated rotating error sink.
// Defaults come from the CALLMETER_* environment; options override them.
func NewCatcher(opts ...CatcherOption) (*Catcher, error) {
	base := config.Load()
	c := &Catcher{
		dir:        base.LogDir,
		console:    base.Console,
		fileOutput: true,
		format:     results.Format(base.ResultsFormat),
		maxSizeMB:  base.MaxSizeMB,
		maxBackups: base.MaxBackups,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.emit = &emitter{console: c.console}
	if c.fileOutput {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return nil, fmt.Errorf("meter: create log dir: %w", err)
		}
		c.emit.sink = logging.NewSink(filepath.Join(c.dir, errorLog), c.maxSizeMB, c.maxBackups)
		errs, err := results.OpenErrors(c.dir, c.format)
		if err != nil {
			return nil, err
		}
		c.emit.errs = errs
	}
	return c, nil
}

// Close releases the error sink.
func (c *Catcher) Close() error {
	if c.emit.sink != nil {
		return c.emit.sink.Close()
	}
	return nil
}

// Wrap returns fn with failure observation injected. A returned error is
// recorded and returned as-is; a panic is recorded and re-raised. When
// composed with Meter.Wrap, the Catcher belongs outermost.
func (c *Catcher) Wrap(name string, fn WorkFunc) WorkFunc {
	return func(ctx context.Context, args ...any) (err error) {
		callID := uuid.NewString()

		defer func() {
			if v := recover(); v != nil {
				c.record(callID, name, args, fmt.Sprintf("panic: %v", v), fmt.Sprintf("%T", v))
				panic(v)
			}
		}()

		if err = fn(ctx, args...); err != nil {
			c.record(callID, name, args, err.Error(), fmt.Sprintf("%T", err))
		}
		return err
	}
}

// CatchErrors instruments a value-returning function with c.
func CatchErrors[T any](c *Catcher, name string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var out T
		err := c.Wrap(name, func(ctx context.Context, _ ...any) error {
			var ferr error
			out, ferr = fn(ctx)
			return ferr
		})(ctx)
		return out, err
	}
}

func (c *Catcher) record(callID, name string, args []any, msg, errType string) {
	if c.sanitize != nil {
		msg = c.sanitize(msg)
	}
	c.emit.emitError(ErrorRecord{
		CallID:    callID,
		Function:  name,
		Timestamp: time.Now(),
		ErrType:   errType,
		Message:   msg,
		Stack:     string(debug.Stack()),
		Arguments: serializeArgs(args, c.sanitize, c.maxArgLen),
	})
}
