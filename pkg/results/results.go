// Package results provides the append-only tabular result stores, one row
// per telemetry record, in row-oriented CSV or columnar Parquet form.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	"github.com/parquet-go/parquet-go"
)

// Format selects the on-disk representation.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

const (
	timingCSV     = "timing_results.csv"
	timingParquet = "timing_results.parquet"
	errorCSV      = "error_results.csv"
	errorParquet  = "error_results.parquet"
)

// Row is one telemetry result. Column headers mirror the CSV schema.
type Row struct {
	Timestamp        string  `parquet:"timestamp"`
	UUID             string  `parquet:"uuid"`
	Function         string  `parquet:"function"`
	ExecutionSeconds float64 `parquet:"execution_seconds"`
	CPUSeconds       float64 `parquet:"cpu_seconds"`
	MemoryChangeMB   float64 `parquet:"memory_change_mb"`
	FinalMemoryMB    float64 `parquet:"final_memory_mb"`
	Arguments        string  `parquet:"arguments"`
	LogMessage       string  `parquet:"log_message"`
}

var rowHeader = []string{
	"Timestamp", "UUID", "Function Name", "Execution Time (s)",
	"CPU Time (sec)", "Memory Change (MB)", "Final Memory Usage (MB)",
	"Arguments", "Log Message",
}

// ErrorRow is one recorded failure.
type ErrorRow struct {
	Timestamp string `parquet:"timestamp"`
	UUID      string `parquet:"uuid"`
	Function  string `parquet:"function"`
	Message   string `parquet:"message"`
	Arguments string `parquet:"arguments"`
}

var errorHeader = []string{"Timestamp", "UUID", "Function Name", "Error Message", "Arguments"}

// Store appends and reads back telemetry rows. Append is safe to call
// concurrently from multiple goroutines and multiple processes: an
// in-process mutex serializes goroutines of one process (flock alone does
// not, a locked *Flock is a no-op for later callers on the same instance)
// and an advisory file lock serializes processes.
type Store interface {
	Append(Row) error
	ReadAll() ([]Row, error)
	Path() string
}

// ErrorStore is the failure-side counterpart of Store.
type ErrorStore interface {
	Append(ErrorRow) error
	ReadAll() ([]ErrorRow, error)
	Path() string
}

// Open creates (if needed) and returns the timing results store in dir.
func Open(dir string, format Format) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("results: create dir: %w", err)
	}
	switch format {
	case FormatParquet:
		return &parquetStore{path: filepath.Join(dir, timingParquet), fl: newLock(dir, timingParquet)}, nil
	case FormatCSV, "":
		s := &csvStore{path: filepath.Join(dir, timingCSV), fl: newLock(dir, timingCSV), header: rowHeader}
		return s, s.ensureHeader()
	default:
		return nil, fmt.Errorf("results: format must be csv or parquet, got %q", format)
	}
}

// OpenErrors creates (if needed) and returns the error results store in dir.
func OpenErrors(dir string, format Format) (ErrorStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("results: create dir: %w", err)
	}
	switch format {
	case FormatParquet:
		return &parquetErrorStore{path: filepath.Join(dir, errorParquet), fl: newLock(dir, errorParquet)}, nil
	case FormatCSV, "":
		s := &csvErrorStore{path: filepath.Join(dir, errorCSV), fl: newLock(dir, errorCSV), header: errorHeader}
		return s, s.ensureHeader()
	default:
		return nil, fmt.Errorf("results: format must be csv or parquet, got %q", format)
	}
}

func newLock(dir, name string) *flock.Flock {
	return flock.New(filepath.Join(dir, name+".lock"))
}

// withLock runs fn while holding the cross-process lock. Lock acquisition
// failure degrades to unlocked operation rather than dropping the record.
func withLock(fl *flock.Flock, fn func() error) error {
	if err := fl.Lock(); err == nil {
		defer fl.Unlock()
	}
	return fn()
}

// --- CSV ---

type csvStore struct {
	mu     sync.Mutex
	path   string
	fl     *flock.Flock
	header []string
}

func (s *csvStore) Path() string { return s.path }

func (s *csvStore) ensureHeader() error {
	return withLock(s.fl, func() error { return ensureCSVHeader(s.path, s.header) })
}

func (s *csvStore) Append(r Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withLock(s.fl, func() error {
		return appendCSV(s.path, s.header, []string{
			r.Timestamp, r.UUID, r.Function,
			formatFloat(r.ExecutionSeconds), formatFloat(r.CPUSeconds),
			formatFloat(r.MemoryChangeMB), formatFloat(r.FinalMemoryMB),
			r.Arguments, r.LogMessage,
		})
	})
}

func (s *csvStore) ReadAll() ([]Row, error) {
	records, err := readCSV(s.path, len(s.header))
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row{
			Timestamp:        rec[0],
			UUID:             rec[1],
			Function:         rec[2],
			ExecutionSeconds: parseFloat(rec[3]),
			CPUSeconds:       parseFloat(rec[4]),
			MemoryChangeMB:   parseFloat(rec[5]),
			FinalMemoryMB:    parseFloat(rec[6]),
			Arguments:        rec[7],
			LogMessage:       rec[8],
		})
	}
	return rows, nil
}

type csvErrorStore struct {
	mu     sync.Mutex
	path   string
	fl     *flock.Flock
	header []string
}

func (s *csvErrorStore) Path() string { return s.path }

func (s *csvErrorStore) ensureHeader() error {
	return withLock(s.fl, func() error { return ensureCSVHeader(s.path, s.header) })
}

func (s *csvErrorStore) Append(r ErrorRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withLock(s.fl, func() error {
		return appendCSV(s.path, s.header, []string{r.Timestamp, r.UUID, r.Function, r.Message, r.Arguments})
	})
}

func (s *csvErrorStore) ReadAll() ([]ErrorRow, error) {
	records, err := readCSV(s.path, len(s.header))
	if err != nil {
		return nil, err
	}
	rows := make([]ErrorRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, ErrorRow{
			Timestamp: rec[0], UUID: rec[1], Function: rec[2],
			Message: rec[3], Arguments: rec[4],
		})
	}
	return rows, nil
}

// ensureCSVHeader creates the file with its header row if it does not exist
// yet. O_EXCL makes creation race-free when several processes start at once;
// losing the race means another process already wrote the header.
func ensureCSVHeader(path string, header []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("results: create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("results: write csv header: %w", err)
	}
	w.Flush()
	return w.Error()
}

// appendCSV opens the file in append mode, writing the header first when the
// file is empty. O_CREATE keeps creation race-free across processes.
func appendCSV(path string, header, record []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("results: open csv: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("results: stat csv: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("results: write csv header: %w", err)
		}
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("results: write csv row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func readCSV(path string, width int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("results: open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = width
	r.LazyQuotes = true

	var out [][]string
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("results: read csv: %w", err)
		}
		if first {
			first = false
			continue // header
		}
		out = append(out, rec)
	}
	return out, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// --- Parquet ---
//
// Parquet has no append; each write reads the existing row set, appends in
// memory, and atomically replaces the file via a temp file and rename. The
// advisory lock makes the read-modify-write safe across processes.

type parquetStore struct {
	mu   sync.Mutex
	path string
	fl   *flock.Flock
}

func (s *parquetStore) Path() string { return s.path }

func (s *parquetStore) Append(r Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withLock(s.fl, func() error {
		rows, err := readParquet[Row](s.path)
		if err != nil {
			return err
		}
		return writeParquet(s.path, append(rows, r))
	})
}

func (s *parquetStore) ReadAll() ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readParquet[Row](s.path)
}

type parquetErrorStore struct {
	mu   sync.Mutex
	path string
	fl   *flock.Flock
}

func (s *parquetErrorStore) Path() string { return s.path }

func (s *parquetErrorStore) Append(r ErrorRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withLock(s.fl, func() error {
		rows, err := readParquet[ErrorRow](s.path)
		if err != nil {
			return err
		}
		return writeParquet(s.path, append(rows, r))
	})
}

func (s *parquetErrorStore) ReadAll() ([]ErrorRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readParquet[ErrorRow](s.path)
}

func readParquet[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("results: read parquet: %w", err)
	}
	return rows, nil
}

func writeParquet[T any](path string, rows []T) error {
	// Unique temp name per rewrite: if the lock ever degrades, two writers
	// must not clobber each other's temp file mid-rename.
	dir, base := filepath.Split(path)
	tmpf, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("results: create temp parquet: %w", err)
	}
	tmp := tmpf.Name()
	tmpf.Close()

	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("results: write parquet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("results: replace parquet: %w", err)
	}
	return nil
}
