// Package config provides configuration for the CLI.
package config

import (
	"os"
	"strconv"
)

// Config holds CLI configuration.
type Config struct {
	// Where the capture side writes its sink files.
	LogDir string

	// Parent directory for analysis output folders.
	OutputRoot string

	// Format of the persisted results store (csv, parquet).
	ResultsFormat string

	// Output format
	Format string // json, table, yaml

	// Verbosity
	Verbose bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogDir:        getEnv("CALLMETER_LOG_DIR", "logs"),
		OutputRoot:    getEnv("CALLMETER_OUTPUT_ROOT", "figs"),
		ResultsFormat: getEnv("CALLMETER_RESULTS_FORMAT", "csv"),
		Format:        getEnv("CALLMETER_FORMAT", "table"),
		Verbose:       getEnvBool("CALLMETER_VERBOSE", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}
