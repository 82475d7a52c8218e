// Package logging provides the general-purpose rotating log sinks and the
// process-wide logger initialization contract.
//
// Sinks rotate once they exceed a configured byte size, retaining a bounded
// number of prior rotations; the rotation mechanics are delegated to
// lumberjack. Physical writes are serialized through an in-process mutex and
// a cross-process advisory file lock so concurrently emitting processes never
// interleave partial lines.
package logging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mkonradi/callmeter/pkg/config"
)

// TimeLayout is the timestamp layout used in every sink line, millisecond
// precision with a comma separator.
const TimeLayout = "2006-01-02 15:04:05,000"

// ErrUninitializedSink is returned when a record is emitted through the
// general logger before Init has been called. This indicates a programming
// error in the host application, not a transient condition.
var ErrUninitializedSink = errors.New("logging: sink used before Init")

// Config describes the general logger sinks.
type Config struct {
	Dir        string
	GeneralLog string // human-readable sink filename
	JSONLog    string // structured sink filename; empty disables it
	MaxSizeMB  int
	MaxBackups int
	Console    bool
	Level      slog.Level // console threshold; file sinks capture everything
}

// DefaultConfig returns the documented defaults: logs/general.log and
// logs/general.json.log, 10 MiB rotation, 5 backups, console at info.
func DefaultConfig() Config {
	return Config{
		Dir:        "logs",
		GeneralLog: "general.log",
		JSONLog:    "general.json.log",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
		Level:      slog.LevelInfo,
	}
}

// EnvConfig builds a Config from the CALLMETER_* environment. A log format
// of "text" drops the structured JSON sink.
func EnvConfig() Config {
	base := config.Load()
	cfg := DefaultConfig()
	cfg.Dir = base.LogDir
	cfg.MaxSizeMB = base.MaxSizeMB
	cfg.MaxBackups = base.MaxBackups
	cfg.Console = base.Console
	cfg.Level = ParseLevel(base.LogLevel)
	if base.LogFormat == "text" {
		cfg.JSONLog = ""
	}
	return cfg
}

// Sink is a rotating line-oriented destination. WriteLine appends exactly one
// record; concurrent writers, in this process or another, never corrupt it.
type Sink struct {
	mu   sync.Mutex
	fl   *flock.Flock
	out  *lumberjack.Logger
	path string
}

// NewSink opens a rotating sink at path. The file is created on first write.
func NewSink(path string, maxSizeMB, maxBackups int) *Sink {
	return &Sink{
		fl: flock.New(path + ".lock"),
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		},
		path: path,
	}
}

// Path returns the sink's current (unrotated) file path.
func (s *Sink) Path() string { return s.path }

// WriteLine appends line (with a trailing newline) as one physical write.
func (s *Sink) WriteLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fl.Lock(); err == nil {
		defer s.fl.Unlock()
	}
	// A lock failure degrades to in-process exclusion only; losing the
	// cross-process guarantee beats dropping the record.

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := s.out.Write(buf)
	return err
}

// Close releases the sink's file handle.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}

// Handle owns the general logger's sinks and slog front end.
type Handle struct {
	cfg  Config
	text *Sink
	json *Sink
	log  *slog.Logger
}

var (
	defaultMu     sync.Mutex
	defaultHandle *Handle
)

// Init configures the general-purpose logger and installs it as the process
// default. It must be called before any general record is emitted; calling
// it again replaces the previous handle.
func Init(cfg Config) (*Handle, error) {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.GeneralLog == "" {
		cfg.GeneralLog = "general.log"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}

	h := &Handle{cfg: cfg}
	h.text = NewSink(filepath.Join(cfg.Dir, cfg.GeneralLog), cfg.MaxSizeMB, cfg.MaxBackups)
	if cfg.JSONLog != "" {
		h.json = NewSink(filepath.Join(cfg.Dir, cfg.JSONLog), cfg.MaxSizeMB, cfg.MaxBackups)
	}
	h.log = slog.New(&sinkHandler{h: h})

	defaultMu.Lock()
	defaultHandle = h
	defaultMu.Unlock()
	return h, nil
}

// Default returns the handle installed by Init, or ErrUninitializedSink.
func Default() (*Handle, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHandle == nil {
		return nil, ErrUninitializedSink
	}
	return defaultHandle, nil
}

// Reset tears down the process default so tests can re-Init in isolation.
func Reset() {
	defaultMu.Lock()
	h := defaultHandle
	defaultHandle = nil
	defaultMu.Unlock()
	if h != nil {
		h.Close()
	}
}

// Logger returns the slog front end. Every record fans out to the text sink,
// the JSON sink, and (above the configured level) the console.
func (h *Handle) Logger() *slog.Logger { return h.log }

// Close flushes and closes the sinks.
func (h *Handle) Close() error {
	err := h.text.Close()
	if h.json != nil {
		if jerr := h.json.Close(); err == nil {
			err = jerr
		}
	}
	return err
}

// sinkHandler is the slog.Handler that renders records into the pinned wire
// formats. Each record is stamped with a fresh UUID for cross-log
// correlation, the way every other sink in this module tags records.
type sinkHandler struct {
	h     *Handle
	attrs []slog.Attr
}

func (s *sinkHandler) Enabled(_ context.Context, _ slog.Level) bool {
	// File sinks capture everything; the console threshold is applied in
	// Handle, not here.
	return true
}

func (s *sinkHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	id := uuid.NewString()
	fn := callerFunc(r.PC)
	msg := r.Message

	attrs := make([]slog.Attr, 0, len(s.attrs)+r.NumAttrs())
	attrs = append(attrs, s.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	if len(attrs) > 0 {
		var b strings.Builder
		b.WriteString(msg)
		for _, a := range attrs {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		}
		msg = b.String()
	}

	level := strings.ToUpper(r.Level.String())

	line := fmt.Sprintf("%s %s %s [%s] %s", ts.Format(TimeLayout), level, id, fn, msg)
	if err := s.h.text.WriteLine([]byte(line)); err != nil {
		fmt.Fprintf(os.Stderr, "callmeter: general text sink write failed: %v\n", err)
	}

	if s.h.json != nil {
		payload, err := json.Marshal(map[string]string{
			"timestamp": ts.Format(TimeLayout),
			"level":     level,
			"message":   msg,
			"function":  fn,
			"uuid":      id,
		})
		if err == nil {
			if werr := s.h.json.WriteLine(payload); werr != nil {
				fmt.Fprintf(os.Stderr, "callmeter: general json sink write failed: %v\n", werr)
			}
		}
	}

	if s.h.cfg.Console && r.Level >= s.h.cfg.Level {
		fmt.Printf("%s %s [%s] %s\n", ts.Format(TimeLayout), level, fn, msg)
	}
	return nil
}

func (s *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(s.attrs)+len(attrs))
	merged = append(merged, s.attrs...)
	merged = append(merged, attrs...)
	return &sinkHandler{h: s.h, attrs: merged}
}

func (s *sinkHandler) WithGroup(name string) slog.Handler {
	// Groups flatten into plain attrs; the wire format has no nesting.
	return s
}

func callerFunc(pc uintptr) string {
	if pc == 0 {
		return "N/A"
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.Function == "" {
		return "N/A"
	}
	if i := strings.LastIndex(frame.Function, "/"); i >= 0 {
		return frame.Function[i+1:]
	}
	return frame.Function
}

// ParseLevel converts a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
