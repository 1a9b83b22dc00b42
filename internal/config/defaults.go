// Package config provides configuration loading and defaults for usagewatch.
package config

import "time"

// DefaultConfigDir is the default location for usagewatch configuration.
const DefaultConfigDir = "~/.config/usagewatch"

// DefaultConfigFile is the filename for the YAML config.
const DefaultConfigFile = "config.yaml"

// DefaultEnvFile is the dotenv file read from the working directory.
const DefaultEnvFile = ".env"

// EnvPrefix prefixes every environment override, e.g. USAGEWATCH_OUTPUT_DIR.
const EnvPrefix = "USAGEWATCH"

// DefaultBaseURL is the analytics API root.
const DefaultBaseURL = "https://server.codeium.com/api/v1"

// DefaultOutputDir is where reports and mapping files are written.
const DefaultOutputDir = "output"

// DefaultLookbackDays is the report range when no dates are given.
const DefaultLookbackDays = 7

// DefaultFetch holds the default fan-out settings.
var DefaultFetch = Fetch{
	Concurrency:       4,
	RequestsPerSecond: 5,
	Burst:             5,
	RequestTimeout:    30 * time.Second,
	ChunkDays:         0,
}

// DefaultCredits holds the default credit monitor settings.
var DefaultCredits = Credits{
	Limit:      1500,
	Thresholds: []float64{75, 85, 95},
}

// DefaultActivity holds the default activity check settings.
var DefaultActivity = Activity{
	Days:         30,
	LookbackDays: 90,
}

// DefaultLog holds the default logging settings.
var DefaultLog = Log{
	Level:  "info",
	Format: "text",
}
