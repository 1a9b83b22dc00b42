package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points HOME at an empty directory and runs from another, so no
// real config or .env leaks into the test.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SERVICE_KEY", "")
	t.Setenv("USAGEWATCH_SERVICE_KEY", "")
	work := t.TempDir()
	t.Chdir(work)
	return work
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.DefaultLookbackDays != 7 {
		t.Errorf("DefaultLookbackDays = %d, want 7", cfg.DefaultLookbackDays)
	}
	if cfg.Fetch.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.Fetch.RequestTimeout)
	}
	if cfg.Credits.Limit != 1500 || len(cfg.Credits.Thresholds) != 3 {
		t.Errorf("Credits = %+v", cfg.Credits)
	}
	if cfg.Activity.Days != 30 {
		t.Errorf("Activity.Days = %d, want 30", cfg.Activity.Days)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if err := cfg.RequireServiceKey(); err == nil {
		t.Error("expected missing service key error")
	}
}

func TestLoad_Precedence(t *testing.T) {
	work := isolate(t)

	yaml := "service_key: from-yaml\noutput_dir: yaml-out\nfetch:\n  concurrency: 2\n  chunk_days: 5\n"
	cfgPath := filepath.Join(work, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	dotenv := "SERVICE_KEY=from-dotenv\nUSAGEWATCH_FETCH_CONCURRENCY=6\n"
	if err := os.WriteFile(filepath.Join(work, ".env"), []byte(dotenv), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("USAGEWATCH_FETCH_CONCURRENCY", "9")

	cfg, err := Load(cfgPath, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceKey != "from-dotenv" {
		t.Errorf("ServiceKey = %q, want from-dotenv", cfg.ServiceKey)
	}
	if cfg.Fetch.Concurrency != 9 {
		t.Errorf("Concurrency = %d, want 9 from the environment", cfg.Fetch.Concurrency)
	}
	if cfg.Fetch.ChunkDays != 5 {
		t.Errorf("ChunkDays = %d, want 5 from yaml", cfg.Fetch.ChunkDays)
	}
	if cfg.OutputDir != "yaml-out" {
		t.Errorf("OutputDir = %q, want yaml-out", cfg.OutputDir)
	}
}

func TestLoad_ProcessServiceKeyWins(t *testing.T) {
	work := isolate(t)
	if err := os.WriteFile(filepath.Join(work, ".env"), []byte("SERVICE_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SERVICE_KEY", "from-env")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceKey != "from-env" {
		t.Errorf("ServiceKey = %q, want from-env", cfg.ServiceKey)
	}
}

func TestLoad_ExplicitMissingEnvFile(t *testing.T) {
	isolate(t)
	_, err := Load("", "does-not-exist.env")
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"zero concurrency", func(c *Config) { c.Fetch.Concurrency = 0 }, "fetch.concurrency"},
		{"negative chunk", func(c *Config) { c.Fetch.ChunkDays = -1 }, "fetch.chunk_days"},
		{"zero limit", func(c *Config) { c.Credits.Limit = 0 }, "credits.limit"},
		{"no thresholds", func(c *Config) { c.Credits.Thresholds = nil }, "credits.thresholds"},
		{"negative threshold", func(c *Config) { c.Credits.Thresholds = []float64{75, -1} }, "credits.thresholds"},
		{"empty base url", func(c *Config) { c.BaseURL = "" }, "base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				BaseURL:   DefaultBaseURL,
				OutputDir: DefaultOutputDir,
				Fetch:     DefaultFetch,
				Credits:   Credits{Limit: 1500, Thresholds: []float64{75}},
				Activity:  DefaultActivity,
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cerr.Key != tt.key {
				t.Errorf("Key = %q, want %q", cerr.Key, tt.key)
			}
		})
	}
}
