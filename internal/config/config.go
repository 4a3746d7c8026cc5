package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendJSON = "json"
	BackendBolt = "bolt"
)

// Config holds all configuration for the application
type Config struct {
	// Journal source
	JournalDir   string `yaml:"journal_dir"`
	PollInterval int    `yaml:"poll_interval_ms"` // Directory rescan interval in milliseconds

	// Checkpoint storage
	DataDir           string `yaml:"data_dir"`
	CheckpointBackend string `yaml:"checkpoint_backend"` // json or bolt

	// Processing
	ProgressInterval int `yaml:"progress_interval"` // Lines between progress messages
	HistorySize      int `yaml:"history_size"`
	BackfillWindow   int `yaml:"backfill_window_sec"` // Dedup window for history backfill

	// HTTP control surface
	HTTPPort int `yaml:"http_port"`

	// ClickHouse relay
	ClickHouseEnabled bool   `yaml:"clickhouse_enabled"`
	ClickHouseHost    string `yaml:"clickhouse_host"`
	ClickHousePort    int    `yaml:"clickhouse_port"`
	ClickHouseDB      string `yaml:"clickhouse_db"`
	RelayBatchSize    int    `yaml:"relay_batch_size"`
	RelayFlushMs      int64  `yaml:"relay_flush_ms"`

	// Observability
	LogLevel       string  `yaml:"log_level"`
	LogFile        string  `yaml:"log_file"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	OTLPProtocol   string  `yaml:"otlp_protocol"`
	TraceSampling  float64 `yaml:"trace_sample_ratio"` // 0 samples every trace
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		JournalDir:        defaultJournalDir(),
		PollInterval:      1000,
		DataDir:           defaultDataDir(),
		CheckpointBackend: BackendJSON,
		ProgressInterval:  500,
		HistorySize:       1000,
		BackfillWindow:    60,
		HTTPPort:          8080,
		ClickHouseHost:    "localhost",
		ClickHousePort:    9000,
		ClickHouseDB:      "journal",
		RelayBatchSize:    500,
		RelayFlushMs:      2000,
		LogLevel:          "info",
		OTLPProtocol:      "grpc",
	}
}

// Load loads configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overlayEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// overlayFile applies the fields present in a YAML file
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.JournalDir = getEnv("JOURNAL_DIR", c.JournalDir)
	c.PollInterval = getEnvInt("POLL_INTERVAL_MS", c.PollInterval)

	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.CheckpointBackend = strings.ToLower(getEnv("CHECKPOINT_BACKEND", c.CheckpointBackend))

	c.ProgressInterval = getEnvInt("PROGRESS_INTERVAL", c.ProgressInterval)
	c.HistorySize = getEnvInt("HISTORY_SIZE", c.HistorySize)
	c.BackfillWindow = getEnvInt("BACKFILL_WINDOW_SEC", c.BackfillWindow)

	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)

	c.ClickHouseEnabled = getEnvBool("CLICKHOUSE_ENABLED", c.ClickHouseEnabled)
	c.ClickHouseHost = getEnv("CLICKHOUSE_HOST", c.ClickHouseHost)
	c.ClickHousePort = getEnvInt("CLICKHOUSE_PORT", c.ClickHousePort)
	c.ClickHouseDB = getEnv("CLICKHOUSE_DB", c.ClickHouseDB)
	c.RelayBatchSize = getEnvInt("RELAY_BATCH_SIZE", c.RelayBatchSize)
	c.RelayFlushMs = int64(getEnvInt("RELAY_FLUSH_MS", int(c.RelayFlushMs)))

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.OTLPEndpoint = getEnv("OTLP_ENDPOINT", c.OTLPEndpoint)
	c.OTLPProtocol = getEnv("OTLP_PROTOCOL", c.OTLPProtocol)
	c.TraceSampling = getEnvFloat("TRACE_SAMPLE_RATIO", c.TraceSampling)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.JournalDir == "" {
		return fmt.Errorf("JOURNAL_DIR is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.CheckpointBackend != BackendJSON && c.CheckpointBackend != BackendBolt {
		return fmt.Errorf("CHECKPOINT_BACKEND must be %q or %q", BackendJSON, BackendBolt)
	}
	if c.PollInterval < 50 {
		return fmt.Errorf("POLL_INTERVAL_MS must be at least 50")
	}
	if c.ProgressInterval < 1 {
		return fmt.Errorf("PROGRESS_INTERVAL must be at least 1")
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("HISTORY_SIZE must be at least 1")
	}
	if c.BackfillWindow < 1 {
		return fmt.Errorf("BACKFILL_WINDOW_SEC must be at least 1")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.ClickHouseEnabled {
		if c.ClickHouseHost == "" {
			return fmt.Errorf("CLICKHOUSE_HOST is required")
		}
		if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
			return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
		}
		if c.ClickHouseDB == "" {
			return fmt.Errorf("CLICKHOUSE_DB is required")
		}
		if c.RelayBatchSize < 1 {
			return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
		}
	}
	if c.TracingEnabled && c.OTLPProtocol != "grpc" && c.OTLPProtocol != "http" {
		return fmt.Errorf("OTLP_PROTOCOL must be grpc or http")
	}
	if c.TraceSampling < 0 || c.TraceSampling > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}

	return nil
}

// PollDuration returns the poll interval as a duration
func (c *Config) PollDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// BackfillDuration returns the history dedup window as a duration
func (c *Config) BackfillDuration() time.Duration {
	return time.Duration(c.BackfillWindow) * time.Second
}

// CheckpointPath returns the checkpoint file for the selected backend
func (c *Config) CheckpointPath() string {
	if c.CheckpointBackend == BackendBolt {
		return filepath.Join(c.DataDir, "checkpoints.db")
	}
	return filepath.Join(c.DataDir, "checkpoints.json")
}

// defaultJournalDir is the game's journal folder under the user's home
func defaultJournalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Saved Games", "Frontier Developments", "Elite Dangerous")
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(dir, "journal-ingest")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
