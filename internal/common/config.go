package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Paths   PathsConfig   `toml:"paths"`
	Workers WorkersConfig `toml:"workers"`
	Jobs    JobsConfig    `toml:"jobs"`
	Cleanup CleanupConfig `toml:"cleanup"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// PathsConfig locates the artifact directories and the worker installation.
type PathsConfig struct {
	Uploads string `toml:"uploads"` // Uploaded photos and mask files
	Results string `toml:"results"` // Stage outputs
	Masks   string `toml:"masks"`   // Reserved for the environment bootstrap
	Scripts string `toml:"scripts"` // Directory containing the worker scripts (ai/*.py)
	Venv    string `toml:"venv"`    // Worker virtualenv; its presence means the environment is ready
	Setup   string `toml:"setup"`   // Bootstrap status files (setup.pid, setup.log, setup.err, device)
}

// WorkersConfig controls how worker processes are invoked.
type WorkersConfig struct {
	Python      string        `toml:"python"`        // Interpreter used to run worker scripts
	Timeout     time.Duration `toml:"timeout"`       // Hard wall-clock ceiling per invocation
	MaxOutputMB int           `toml:"max_output_mb"` // Captured stdout/stderr cap
}

// JobsConfig contains scheduler limits.
type JobsConfig struct {
	MaxConcurrentLimit int           `toml:"max_concurrent_limit"` // Upper bound for the runtime-adjustable concurrency
	HeartbeatTimeout   time.Duration `toml:"heartbeat_timeout"`    // Client considered gone after this much polling silence
}

type CleanupConfig struct {
	Interval time.Duration `toml:"interval"` // Sweep frequency
	MaxAge   time.Duration `toml:"max_age"`  // Artifacts older than this are evicted
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3001,
			Host: "localhost",
		},
		Paths: PathsConfig{
			Uploads: "./data/uploads",
			Results: "./data/results",
			Masks:   "./data/masks",
			Scripts: "./ai",
			Venv:    "./ai/.venv",
			Setup:   "./data/setup",
		},
		Workers: WorkersConfig{
			Python:      "python3",
			Timeout:     5 * time.Minute,
			MaxOutputMB: 10,
		},
		Jobs: JobsConfig{
			MaxConcurrentLimit: 2,
			HeartbeatTimeout:   10 * time.Second,
		},
		Cleanup: CleanupConfig{
			Interval: 2 * time.Hour,
			MaxAge:   2 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// An empty path skips the file layer (defaults + env only).
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.Jobs.MaxConcurrentLimit < 1 {
		config.Jobs.MaxConcurrentLimit = 1
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// These are the variables the desktop shell and deploy scripts set.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PATINE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if dir := os.Getenv("UPLOADS_DIR"); dir != "" {
		config.Paths.Uploads = dir
	}
	if dir := os.Getenv("RESULTS_DIR"); dir != "" {
		config.Paths.Results = dir
	}
	if python := os.Getenv("PATINE_PYTHON"); python != "" {
		config.Workers.Python = python
	}

	if limit := os.Getenv("MAX_CONCURRENT_JOBS"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Jobs.MaxConcurrentLimit = n
		}
	}
	if seconds := os.Getenv("HEARTBEAT_TIMEOUT_SECONDS"); seconds != "" {
		if n, err := strconv.Atoi(seconds); err == nil && n > 0 {
			config.Jobs.HeartbeatTimeout = time.Duration(n) * time.Second
		}
	}

	if hours := os.Getenv("CLEANUP_INTERVAL_HOURS"); hours != "" {
		if f, err := strconv.ParseFloat(hours, 64); err == nil && f > 0 {
			config.Cleanup.Interval = time.Duration(f * float64(time.Hour))
		}
	}
	if hours := os.Getenv("CLEANUP_MAX_AGE_HOURS"); hours != "" {
		if f, err := strconv.ParseFloat(hours, 64); err == nil && f > 0 {
			config.Cleanup.MaxAge = time.Duration(f * float64(time.Hour))
		}
	}

	if level := os.Getenv("PATINE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
