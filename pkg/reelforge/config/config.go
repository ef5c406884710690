// Package config defines the YAML configuration for the ReelForge daemon
// and CLI. Values are plain data; components receive their sections through
// constructors, never through package-level state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/reelforge/pkg/reelforge/calendar"
)

// Config is the root configuration.
type Config struct {
	// Timezone is the display timezone for schedules and topic templates
	// (e.g. "America/Sao_Paulo"). Empty means UTC.
	Timezone string `yaml:"timezone"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Storage selects and locates the persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Scheduler tunes the job loop and retry policy.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Executor tunes the bounded-concurrency runner.
	Executor ExecutorConfig `yaml:"executor"`

	// Calendar tunes the conflict predicates.
	Calendar calendar.Config `yaml:"calendar"`

	// Pipeline configures the stage collaborators.
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the storage root (a directory for file, a database file for
	// sqlite).
	Path string `yaml:"path"`
}

// SchedulerConfig tunes the scheduling core.
type SchedulerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	MaxConcurrentJobs   int `yaml:"max_concurrent_jobs"`
	RetryDelaySeconds   int `yaml:"retry_delay_seconds"`
	MaxRetryDelayMin    int `yaml:"max_retry_delay_minutes"`
	DefaultMaxRetries   int `yaml:"default_max_retries"`
	PipelineTimeoutMin  int `yaml:"pipeline_timeout_minutes"`
	MisfireGraceMin     int `yaml:"misfire_grace_minutes"`
	SeparateMissedFires bool `yaml:"separate_missed_fires"`
}

// PollInterval returns the loop cadence as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RetryDelay returns the base requeue delay as a duration.
func (c SchedulerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// ExecutorConfig tunes the runner.
type ExecutorConfig struct {
	MaxConcurrent        int `yaml:"max_concurrent"`
	DefaultTimeoutMin    int `yaml:"default_timeout_minutes"`
	HistoryLimit         int `yaml:"history_limit"`
	HistoryMaxAgeMinutes int `yaml:"history_max_age_minutes"`
}

// PipelineConfig configures the stage collaborators.
type PipelineConfig struct {
	// AssetsDir holds the stock footage and audio the assembler draws from.
	AssetsDir string `yaml:"assets_dir"`

	// OutputDir receives rendered media files.
	OutputDir string `yaml:"output_dir"`

	// UploadAccount is the platform account videos are published under.
	UploadAccount string `yaml:"upload_account"`

	// UploadHost is the base URL of the upload platform (used by the stub
	// uploader in demo mode).
	UploadHost string `yaml:"upload_host"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{Backend: "file", Path: "data"},
		Scheduler: SchedulerConfig{
			PollIntervalSeconds: 60,
			MaxConcurrentJobs:   3,
			RetryDelaySeconds:   300,
			MaxRetryDelayMin:    60,
			DefaultMaxRetries:   3,
			PipelineTimeoutMin:  30,
			MisfireGraceMin:     5,
		},
		Executor: ExecutorConfig{
			MaxConcurrent:        3,
			DefaultTimeoutMin:    10,
			HistoryLimit:         100,
			HistoryMaxAgeMinutes: 60,
		},
		Calendar: calendar.Config{
			MinGapHours:              4,
			MaxVideosPerDay:          3,
			TopicSimilarityThreshold: 0.6,
		},
		Pipeline: PipelineConfig{
			OutputDir: "output",
		},
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} in config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadFromFile reads and parses a YAML configuration file. A .env file next
// to the working directory is loaded first (silently skipped when absent),
// and ${VAR} references in the YAML are expanded from the environment.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(expandEnvVars(string(data)))
}

// Parse overlays YAML on top of the defaults.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// FindConfigFile looks for a config file in the conventional locations:
// ./reelforge.yaml, ./config.yaml, then ~/.config/reelforge/config.yaml.
// Returns "" when none exists.
func FindConfigFile() string {
	candidates := []string{"reelforge.yaml", "config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "reelforge", "config.yaml"))
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		groups := envVarPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[2]
	})
}
