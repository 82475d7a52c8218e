package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDefault_BeforeInit(t *testing.T) {
	Reset()

	if _, err := Default(); err != ErrUninitializedSink {
		t.Fatalf("Default() error = %v, want ErrUninitializedSink", err)
	}
}

func TestInit_WritesBothSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.Console = false

	h, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(Reset)

	h.Logger().Info("pipeline started", "stage", "load")

	text, err := os.ReadFile(filepath.Join(dir, "general.log"))
	if err != nil {
		t.Fatalf("reading text sink: %v", err)
	}
	if !strings.Contains(string(text), "pipeline started stage=load") {
		t.Errorf("text sink missing message, got %q", string(text))
	}
	if !strings.Contains(string(text), "INFO") {
		t.Errorf("text sink missing level, got %q", string(text))
	}

	raw, err := os.ReadFile(filepath.Join(dir, "general.json.log"))
	if err != nil {
		t.Fatalf("reading json sink: %v", err)
	}
	var rec map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &rec); err != nil {
		t.Fatalf("json sink line does not parse: %v", err)
	}
	for _, key := range []string{"timestamp", "level", "message", "function", "uuid"} {
		if rec[key] == "" {
			t.Errorf("json record missing %q: %v", key, rec)
		}
	}
	if rec["uuid"] == "N/A" {
		t.Error("json record has placeholder uuid")
	}
}

func TestDefault_AfterInit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Console = false

	if _, err := Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(Reset)

	h, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if h == nil {
		t.Fatal("Default() returned nil handle")
	}
}

func TestSink_ConcurrentWritesDoNotInterleave(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(filepath.Join(dir, "out.log"), 10, 2)
	defer sink.Close()

	const writers = 20
	line := strings.Repeat("x", 200)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sink.WriteLine([]byte(line)); err != nil {
				t.Errorf("WriteLine() error = %v", err)
			}
		}()
	}
	wg.Wait()

	raw, err := os.ReadFile(filepath.Join(dir, "out.log"))
	if err != nil {
		t.Fatalf("reading sink: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if len(lines) != writers {
		t.Fatalf("line count = %d, want %d", len(lines), writers)
	}
	for i, l := range lines {
		if l != line {
			t.Errorf("line %d corrupted: %q", i, l)
		}
	}
}

func TestEnvConfig(t *testing.T) {
	t.Setenv("CALLMETER_LOG_DIR", "/tmp/envlogs")
	t.Setenv("CALLMETER_LOG_LEVEL", "debug")
	t.Setenv("CALLMETER_LOG_FORMAT", "text")
	t.Setenv("CALLMETER_MAX_SIZE_MB", "3")

	cfg := EnvConfig()
	if cfg.Dir != "/tmp/envlogs" {
		t.Errorf("Dir = %q", cfg.Dir)
	}
	if cfg.Level.String() != "DEBUG" {
		t.Errorf("Level = %v", cfg.Level)
	}
	if cfg.JSONLog != "" {
		t.Error("text format should drop the JSON sink")
	}
	if cfg.MaxSizeMB != 3 {
		t.Errorf("MaxSizeMB = %d", cfg.MaxSizeMB)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in).String(); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
