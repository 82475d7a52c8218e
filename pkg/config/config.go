// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"strconv"
)

// ResultsFormat selects the tabular results representation.
type ResultsFormat string

const (
	// ResultsCSV appends rows to a plain-text CSV file.
	ResultsCSV ResultsFormat = "csv"
	// ResultsParquet stores rows in a columnar Parquet file.
	ResultsParquet ResultsFormat = "parquet"
)

// Base contains the shared configuration for capture and analysis.
type Base struct {
	// Capture
	LogDir        string
	ResultsFormat ResultsFormat
	MaxSizeMB     int // rotation threshold per sink file
	MaxBackups    int // rotated files retained per sink
	Console       bool

	// Analysis
	GapSeconds     float64
	MinClusterSize int
	OutputRoot     string

	// Diagnostic logging
	LogLevel  string
	LogFormat string // json, text
}

// Load reads configuration from CALLMETER_* environment variables, falling
// back to the documented defaults.
func Load() *Base {
	return &Base{
		LogDir:        getEnv("CALLMETER_LOG_DIR", "logs"),
		ResultsFormat: parseResultsFormat(getEnv("CALLMETER_RESULTS_FORMAT", "csv")),
		MaxSizeMB:     getEnvInt("CALLMETER_MAX_SIZE_MB", 10),
		MaxBackups:    getEnvInt("CALLMETER_MAX_BACKUPS", 5),
		Console:       getEnvBool("CALLMETER_CONSOLE", true),

		GapSeconds:     getEnvFloat("CALLMETER_GAP_SECONDS", 30),
		MinClusterSize: getEnvInt("CALLMETER_MIN_CLUSTER", 1),
		OutputRoot:     getEnv("CALLMETER_OUTPUT_ROOT", "figs"),

		LogLevel:  getEnv("CALLMETER_LOG_LEVEL", "info"),
		LogFormat: getEnv("CALLMETER_LOG_FORMAT", "json"),
	}
}

func parseResultsFormat(s string) ResultsFormat {
	switch s {
	case "parquet":
		return ResultsParquet
	default:
		return ResultsCSV
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
