package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level usagewatch configuration.
type Config struct {
	ServiceKey          string   `mapstructure:"service_key"`
	BaseURL             string   `mapstructure:"base_url"`
	OutputDir           string   `mapstructure:"output_dir"`
	DefaultLookbackDays int      `mapstructure:"default_lookback_days"`
	Fetch               Fetch    `mapstructure:"fetch"`
	Credits             Credits  `mapstructure:"credits"`
	Activity            Activity `mapstructure:"activity"`
	Log                 Log      `mapstructure:"log"`
}

// Fetch controls the per-identifier query fan-out.
type Fetch struct {
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	// ChunkDays splits long ranges into windows of this many days. Zero
	// queries the whole range at once.
	ChunkDays         int           `mapstructure:"chunk_days"`
}

// Credits defines the credit monitor limit and alert thresholds.
type Credits struct {
	Limit      float64   `mapstructure:"limit"`
	Thresholds []float64 `mapstructure:"thresholds"`
}

// Activity defines the activity check window.
type Activity struct {
	// Days is how recent the last usage must be to count as active.
	Days         int `mapstructure:"days"`
	// LookbackDays is how far back usage is fetched to find last activity.
	LookbackDays int `mapstructure:"lookback_days"`
}

// Log defines logging preferences.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConfigurationError reports a missing or invalid setting.
type ConfigurationError struct {
	Key     string
	Problem string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Problem)
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_key", "")
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("output_dir", DefaultOutputDir)
	v.SetDefault("default_lookback_days", DefaultLookbackDays)
	v.SetDefault("fetch.concurrency", DefaultFetch.Concurrency)
	v.SetDefault("fetch.requests_per_second", DefaultFetch.RequestsPerSecond)
	v.SetDefault("fetch.burst", DefaultFetch.Burst)
	v.SetDefault("fetch.request_timeout", DefaultFetch.RequestTimeout)
	v.SetDefault("fetch.chunk_days", DefaultFetch.ChunkDays)
	v.SetDefault("credits.limit", DefaultCredits.Limit)
	v.SetDefault("credits.thresholds", DefaultCredits.Thresholds)
	v.SetDefault("activity.days", DefaultActivity.Days)
	v.SetDefault("activity.lookback_days", DefaultActivity.LookbackDays)
	v.SetDefault("log.level", DefaultLog.Level)
	v.SetDefault("log.format", DefaultLog.Format)
}

// Load reads configuration from the given path (or the default location),
// merges the dotenv file envFile (or ./.env), and applies environment
// overrides. Precedence, highest first: process environment, dotenv file,
// YAML file, defaults. Missing files are not an error unless named
// explicitly.
func Load(cfgFile, envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The bare SERVICE_KEY name is what existing .env files use.
	if err := v.BindEnv("service_key", EnvPrefix+"_SERVICE_KEY", "SERVICE_KEY"); err != nil {
		return nil, err
	}

	if cfgFile != "" {
		v.SetConfigFile(expandPath(cfgFile))
	} else {
		v.AddConfigPath(expandPath(DefaultConfigDir))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Read config file if it exists; missing file is not an error.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(cfgFile == "" && os.IsNotExist(err)) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	dotenv, err := readDotenv(envFile, v.AllKeys())
	if err != nil {
		return nil, err
	}
	if len(dotenv) > 0 {
		if err := v.MergeConfigMap(dotenv); err != nil {
			return nil, fmt.Errorf("merging %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.OutputDir = expandPath(cfg.OutputDir)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &cfg, nil
}

// readDotenv loads KEY=value pairs and maps them onto known config keys:
// SERVICE_KEY and USAGEWATCH_<KEY> where <KEY> is the dotted key with
// underscores. The result is nested the way MergeConfigMap expects.
func readDotenv(path string, known []string) (map[string]any, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil, nil
		}
		return nil, &ConfigurationError{Key: "env_file", Problem: err.Error()}
	}

	e := viper.New()
	e.SetConfigFile(path)
	e.SetConfigType("env")
	if err := e.ReadInConfig(); err != nil {
		return nil, &ConfigurationError{Key: "env_file", Problem: err.Error()}
	}

	out := make(map[string]any)
	for _, key := range known {
		name := strings.ToLower(EnvPrefix + "_" + strings.ReplaceAll(key, ".", "_"))
		val := e.Get(name)
		if val == nil && key == "service_key" {
			val = e.Get("service_key")
		}
		if val == nil {
			continue
		}
		setNested(out, strings.Split(key, "."), val)
	}
	return out, nil
}

func setNested(m map[string]any, path []string, val any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = val
}

// Validate checks value ranges. It does not require a service key, so
// offline commands can run without one.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return &ConfigurationError{Key: "base_url", Problem: "must not be empty"}
	case c.OutputDir == "":
		return &ConfigurationError{Key: "output_dir", Problem: "must not be empty"}
	case c.DefaultLookbackDays < 0:
		return &ConfigurationError{Key: "default_lookback_days", Problem: "must not be negative"}
	case c.Fetch.Concurrency < 1:
		return &ConfigurationError{Key: "fetch.concurrency", Problem: "must be at least 1"}
	case c.Fetch.RequestsPerSecond < 0:
		return &ConfigurationError{Key: "fetch.requests_per_second", Problem: "must not be negative"}
	case c.Fetch.Burst < 0:
		return &ConfigurationError{Key: "fetch.burst", Problem: "must not be negative"}
	case c.Fetch.RequestTimeout < 0:
		return &ConfigurationError{Key: "fetch.request_timeout", Problem: "must not be negative"}
	case c.Fetch.ChunkDays < 0:
		return &ConfigurationError{Key: "fetch.chunk_days", Problem: "must not be negative"}
	case c.Credits.Limit <= 0:
		return &ConfigurationError{Key: "credits.limit", Problem: "must be positive"}
	case len(c.Credits.Thresholds) == 0:
		return &ConfigurationError{Key: "credits.thresholds", Problem: "must list at least one percentage"}
	case c.Activity.Days < 0:
		return &ConfigurationError{Key: "activity.days", Problem: "must not be negative"}
	}
	for _, t := range c.Credits.Thresholds {
		if t <= 0 {
			return &ConfigurationError{Key: "credits.thresholds", Problem: fmt.Sprintf("%v is not a positive percentage", t)}
		}
	}
	return nil
}

// RequireServiceKey reports a ConfigurationError when no service key is set.
func (c *Config) RequireServiceKey() error {
	if strings.TrimSpace(c.ServiceKey) == "" {
		return &ConfigurationError{
			Key:     "service_key",
			Problem: "not set; export SERVICE_KEY or add it to .env or " + filepath.Join(DefaultConfigDir, DefaultConfigFile),
		}
	}
	return nil
}

// ConfigDir returns the expanded configuration directory.
func ConfigDir() string {
	return expandPath(DefaultConfigDir)
}
