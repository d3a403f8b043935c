package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"daymark/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Sync       SyncConfig       `yaml:"sync"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
	Device     DeviceConfig     `yaml:"device"`
	StatusAPI  StatusAPIConfig  `yaml:"status_api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// ServerConfig describes the remote API. Durations are strings in
// time.ParseDuration format so they can come from YAML or env expansion.
type ServerConfig struct {
	BaseURL    string `yaml:"base_url"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
	RetryDelay string `yaml:"retry_delay"`
}

// RequestTimeout returns the per-call HTTP timeout.
func (s ServerConfig) RequestTimeout() time.Duration {
	return parseDuration(s.Timeout, models.DefaultRequestTimeout)
}

// RetryDelayDuration returns the fixed delay between transport retries.
func (s ServerConfig) RetryDelayDuration() time.Duration {
	return parseDuration(s.RetryDelay, time.Second)
}

type SyncConfig struct {
	QueuePath      string  `yaml:"queue_path"`
	PollInterval   string  `yaml:"poll_interval"`
	ProbeInterval  string  `yaml:"probe_interval"`
	BatchSize      int     `yaml:"batch_size"`
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffInitial string  `yaml:"backoff_initial"`
	BackoffMax     string  `yaml:"backoff_max"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	DrainRPS       float64 `yaml:"drain_rps"`
	DrainBurst     int     `yaml:"drain_burst"`
}

func (s SyncConfig) PollIntervalDuration() time.Duration {
	return parseDuration(s.PollInterval, models.DefaultPollInterval)
}

func (s SyncConfig) ProbeIntervalDuration() time.Duration {
	return parseDuration(s.ProbeInterval, models.DefaultProbeInterval)
}

func (s SyncConfig) BackoffInitialDuration() time.Duration {
	return parseDuration(s.BackoffInitial, 2*time.Second)
}

func (s SyncConfig) BackoffMaxDuration() time.Duration {
	return parseDuration(s.BackoffMax, time.Minute)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type DeviceConfig struct {
	ID string `yaml:"id"`
}

// StatusAPIConfig controls the local introspection endpoint the UI polls for
// sync state and abandonment notifications.
type StatusAPIConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Port           int     `yaml:"port"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// DefaultBaseURL is used when neither config nor DAYMARK_API_URL provide one.
const DefaultBaseURL = "https://api.daymark.app"

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Environment variables are expanded before YAML parsing so any field
	// can be overridden through the environment.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Sync.QueuePath == "" {
		return errors.New("sync.queue_path is required")
	}
	if c.Server.MaxRetries < 1 {
		return errors.New("server.max_retries must be at least 1")
	}
	if c.Sync.MaxAttempts < 1 {
		return errors.New("sync.max_attempts must be at least 1")
	}
	if _, err := time.ParseDuration(c.Server.Timeout); c.Server.Timeout != "" && err != nil {
		return fmt.Errorf("server.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Server.RetryDelay); c.Server.RetryDelay != "" && err != nil {
		return fmt.Errorf("server.retry_delay: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	// Env override beats config, config beats the hardcoded default.
	if url := os.Getenv("DAYMARK_API_URL"); url != "" {
		c.Server.BaseURL = url
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = DefaultBaseURL
	}
	if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = 3
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultBatchSize
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.StatusAPI.Enabled && c.StatusAPI.Port == 0 {
		c.StatusAPI.Port = 8712
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
