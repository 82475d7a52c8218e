package meter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/mkonradi/callmeter/pkg/results"
)

func newTestMeter(t *testing.T, opts ...Option) (*Meter, string) {
	t.Helper()
	dir := t.TempDir()
	all := append([]Option{WithLogDir(dir), WithConsole(false)}, opts...)
	m, err := New(all...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, dir
}

// readSinkLines parses every JSON line from the given sink file.
func readSinkLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("open sink: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("sink line does not parse: %v (%q)", err, sc.Text())
		}
		lines = append(lines, rec)
	}
	return lines
}

func TestWrap_SuccessEmitsOneRecord(t *testing.T) {
	m, dir := newTestMeter(t)

	calls := 0
	fn := m.Wrap("load", func(ctx context.Context, args ...any) error {
		calls++
		return nil
	})

	if err := fn(context.Background(), "input.csv", 42); err != nil {
		t.Fatalf("wrapped call error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("wrapped function ran %d times, want 1", calls)
	}

	lines := readSinkLines(t, filepath.Join(dir, "timing.log"))
	if len(lines) != 1 {
		t.Fatalf("sink lines = %d, want 1", len(lines))
	}
	rec := lines[0]
	if rec["function"] != "load" {
		t.Errorf("function = %v, want load", rec["function"])
	}
	if rec["uuid"] == nil || rec["uuid"] == "" {
		t.Error("record has no call id")
	}
	dur, ok := rec["duration_seconds"].(float64)
	if !ok || dur < 0 {
		t.Errorf("duration_seconds = %v, want float >= 0", rec["duration_seconds"])
	}
	if !strings.Contains(rec["arguments"].(string), "input.csv") {
		t.Errorf("arguments = %v, missing call args", rec["arguments"])
	}

	store, err := results.Open(dir, results.FormatCSV)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Function != "load" {
		t.Errorf("results rows = %+v, want one load row", rows)
	}
}

func TestWrap_UniqueCallIDs(t *testing.T) {
	m, dir := newTestMeter(t)

	fn := m.Wrap("load", func(ctx context.Context, args ...any) error { return nil })
	for i := 0; i < 10; i++ {
		if err := fn(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	for _, rec := range readSinkLines(t, filepath.Join(dir, "timing.log")) {
		id := rec["uuid"].(string)
		if seen[id] {
			t.Fatalf("duplicate call id %q", id)
		}
		seen[id] = true
	}
	if len(seen) != 10 {
		t.Errorf("unique ids = %d, want 10", len(seen))
	}
}

func TestWrap_ErrorPassesThroughUnchanged(t *testing.T) {
	m, dir := newTestMeter(t)

	want := errors.New("backend unavailable")
	fn := m.Wrap("save", func(ctx context.Context, args ...any) error { return want })

	if got := fn(context.Background()); !errors.Is(got, want) {
		t.Fatalf("wrapped call error = %v, want original %v", got, want)
	}

	lines := readSinkLines(t, filepath.Join(dir, "timing.log"))
	if len(lines) != 1 {
		t.Fatalf("sink lines = %d, want 1 error event", len(lines))
	}
	if lines[0]["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", lines[0]["level"])
	}
	if _, ok := lines[0]["duration_seconds"]; ok {
		t.Error("failed call must not carry a measurement")
	}
}

func TestWrap_ReturnValuePassesThrough(t *testing.T) {
	m, _ := newTestMeter(t)

	fn := Wrap(m, "compute", func(ctx context.Context) (int, error) { return 42, nil })
	got, err := fn(context.Background())
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if got != 42 {
		t.Errorf("value = %d, want 42", got)
	}
}

func TestWrap_SanitizeAndTruncate(t *testing.T) {
	m, dir := newTestMeter(t, WithSanitizer(MaskDigits), WithMaxArgLength(8))

	fn := m.Wrap("login", func(ctx context.Context, args ...any) error { return nil })
	if err := fn(context.Background(), "secret-1234567890"); err != nil {
		t.Fatal(err)
	}

	rec := readSinkLines(t, filepath.Join(dir, "timing.log"))[0]
	args := rec["arguments"].(string)
	if strings.ContainsAny(args, "0123456789") {
		t.Errorf("arguments leaked digits: %q", args)
	}
	if !strings.Contains(args, "...") {
		t.Errorf("arguments not truncated: %q", args)
	}
}

func TestWrap_TruncateKeepsRuneBoundary(t *testing.T) {
	m, dir := newTestMeter(t, WithMaxArgLength(4))

	fn := m.Wrap("label", func(ctx context.Context, args ...any) error { return nil })
	// "ab日本語": the limit falls inside the first multi-byte rune.
	if err := fn(context.Background(), "ab日本語"); err != nil {
		t.Fatal(err)
	}

	rec := readSinkLines(t, filepath.Join(dir, "timing.log"))[0]
	args := rec["arguments"].(string)
	if !utf8.ValidString(args) {
		t.Fatalf("arguments are not valid UTF-8: %q", args)
	}
	if strings.ContainsRune(args, '�') {
		t.Errorf("truncation split a rune: %q", args)
	}
	if !strings.Contains(args, "ab...") {
		t.Errorf("arguments = %q, want cut back to %q", args, "ab...")
	}
}

func TestWrap_NoFileOutput(t *testing.T) {
	dir := t.TempDir()
	m, err := New(WithLogDir(dir), WithConsole(false), WithFileOutput(false))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	fn := m.Wrap("load", func(ctx context.Context, args ...any) error { return nil })
	if err := fn(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "timing.log")); !os.IsNotExist(err) {
		t.Error("timing.log exists despite file output disabled")
	}
}

func TestWrap_ResourceTrackingOff(t *testing.T) {
	m, dir := newTestMeter(t, WithResourceTracking(false))

	fn := m.Wrap("load", func(ctx context.Context, args ...any) error { return nil })
	if err := fn(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := readSinkLines(t, filepath.Join(dir, "timing.log"))[0]
	if _, ok := rec["cpu_delta"]; ok {
		t.Error("cpu_delta present with tracking disabled")
	}
	if _, ok := rec["duration_seconds"]; !ok {
		t.Error("duration_seconds missing; timing must survive tracking toggle")
	}
	if strings.Contains(rec["message"].(string), "CPU Time") {
		t.Errorf("message mentions resources with tracking off: %v", rec["message"])
	}
}

func TestSpan_StartEnd(t *testing.T) {
	m, dir := newTestMeter(t)

	sp := m.Start("ingest")
	rec, err := m.End(sp)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if rec.DurationSeconds < 0 {
		t.Errorf("DurationSeconds = %v, want >= 0", rec.DurationSeconds)
	}
	if rec.CallID != sp.CallID {
		t.Errorf("record call id %q != span call id %q", rec.CallID, sp.CallID)
	}

	lines := readSinkLines(t, filepath.Join(dir, "timing.log"))
	if len(lines) != 2 {
		t.Fatalf("sink lines = %d, want start event + measurement", len(lines))
	}
	if !strings.Contains(lines[0]["message"].(string), "start") {
		t.Errorf("first line is not the start event: %v", lines[0]["message"])
	}
}

func TestSpan_EndTwice(t *testing.T) {
	m, _ := newTestMeter(t)

	sp := m.Start("ingest")
	if _, err := m.End(sp); err != nil {
		t.Fatalf("first End() error = %v", err)
	}
	if _, err := m.End(sp); !errors.Is(err, ErrSpanAlreadyEnded) {
		t.Fatalf("second End() error = %v, want ErrSpanAlreadyEnded", err)
	}
}

func TestSpan_ConcurrentSpansDoNotCrossContaminate(t *testing.T) {
	m, dir := newTestMeter(t)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sp := m.Start(fmt.Sprintf("worker-%d", i))
			rec, err := m.End(sp)
			if err != nil {
				t.Errorf("End() error = %v", err)
				return
			}
			if rec.Function != fmt.Sprintf("worker-%d", i) {
				t.Errorf("record function = %q, want worker-%d", rec.Function, i)
			}
		}(i)
	}
	wg.Wait()

	lines := readSinkLines(t, filepath.Join(dir, "timing.log"))
	if len(lines) != 2*n {
		t.Errorf("sink lines = %d, want %d", len(lines), 2*n)
	}
}

func TestConcurrentEmission_NoInterleaving(t *testing.T) {
	m, dir := newTestMeter(t)

	const n = 32
	fn := m.Wrap("load", func(ctx context.Context, args ...any) error { return nil })

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(context.Background()); err != nil {
				t.Errorf("wrapped call error = %v", err)
			}
		}()
	}
	wg.Wait()

	// readSinkLines fails the test on any partial or corrupted line.
	lines := readSinkLines(t, filepath.Join(dir, "timing.log"))
	if len(lines) != n {
		t.Errorf("sink lines = %d, want %d", len(lines), n)
	}
}
