// Package config provides configuration management for the tender pipeline.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrInvalidPageRange         = errors.New("pipeline.start_page must be >= 1 and not exceed pipeline.end_page")
	ErrInvalidOutputFormat      = errors.New("pipeline.output must be one of: json, csv, postgres")
	ErrMissingOutputDir         = errors.New("pipeline.output_dir is required for file outputs")
	ErrInvalidPageDelay         = errors.New("scraper.page_delay_ms must be non-negative")
	ErrMissingBaseURL           = errors.New("scraper.base_url is required")
	ErrInvalidMaxAttempts       = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("retry.backoff_multiplier must be >= 1.0")
	ErrInvalidTimeout           = errors.New("retry.timeout_sec must be at least 1")
	ErrInvalidMaxBytes          = errors.New("documents.max_bytes_kb must be at least 1")
	ErrMissingEndpoint          = errors.New("classifier.endpoint is required when documents or bids are processed")
	ErrInvalidMaxChars          = errors.New("classifier.max_chars must be at least 1")
	ErrInvalidClassifierTimeout = errors.New("classifier.timeout_sec must be at least 1")
	ErrMissingReference         = errors.New("reference.path is required when code checking is enabled")
	ErrInvalidBatchSize         = errors.New("postgres.batch_size must be at least 1")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("logging.format must be 'text' or 'json'")
	ErrInvalidEnvValue          = errors.New("invalid environment override")
)

// Output formats.
const (
	OutputJSON     = "json"
	OutputCSV      = "csv"
	OutputPostgres = "postgres"
)

// Config represents the complete pipeline configuration.
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Features   FeaturesConfig   `yaml:"features"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Retry      RetryPolicy      `yaml:"retry"`
	Documents  DocumentsConfig  `yaml:"documents"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Bid        BidConfig        `yaml:"bid"`
	Reference  ReferenceConfig  `yaml:"reference"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// PipelineConfig selects the listing pages and the output sink.
type PipelineConfig struct {
	Output        string `yaml:"output"`
	OutputDir     string `yaml:"output_dir"`
	StartPage     int    `yaml:"start_page"`
	EndPage       int    `yaml:"end_page"`
	ProgressEvery int    `yaml:"progress_every"`
}

// FeaturesConfig contains feature flags.
type FeaturesConfig struct {
	ProcessDocuments bool `yaml:"process_documents"`
	CheckCodes       bool `yaml:"check_codes"`
	AnalyzeBids      bool `yaml:"analyze_bids"`
	Debug            bool `yaml:"debug"`
}

// ScraperConfig defines the listing walk.
type ScraperConfig struct {
	BaseURL     string `yaml:"base_url"`
	PageDelayMs int    `yaml:"page_delay_ms"`
}

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// DocumentsConfig bounds notice document downloads.
type DocumentsConfig struct {
	MaxBytesKb int `yaml:"max_bytes_kb"`
}

// ClassifierConfig points at the text generation service.
type ClassifierConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	DebugDir   string `yaml:"debug_dir"`
	TimeoutSec int    `yaml:"timeout_sec"`
	MaxChars   int    `yaml:"max_chars"`
}

// BidConfig configures the bid analysis stage.
type BidConfig struct {
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// ReferenceConfig locates the code dictionary.
type ReferenceConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds relational store connection settings.
type PostgresConfig struct {
	Host      string `yaml:"host"`
	Database  string `yaml:"database"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	SSLMode   string `yaml:"sslmode"`
	Port      int    `yaml:"port"`
	BatchSize int    `yaml:"batch_size"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	ErrorLog string `yaml:"error_log"`
}

// MetricsConfig enables the metrics endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Output:        OutputJSON,
			OutputDir:     "outputs",
			StartPage:     1,
			EndPage:       1,
			ProgressEvery: 10,
		},
		Features: FeaturesConfig{
			ProcessDocuments: true,
			CheckCodes:       true,
		},
		Scraper: ScraperConfig{
			BaseURL:     "https://www.etenders.gov.ie",
			PageDelayMs: 1000,
		},
		Retry: RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMs:    500,
			MaxDelayMs:        30000,
			BackoffMultiplier: 2.0,
			TimeoutSec:        30,
		},
		Documents: DocumentsConfig{
			MaxBytesKb: 20480,
		},
		Classifier: ClassifierConfig{
			Endpoint:   "http://localhost:11434",
			Model:      "llama3.2:3b",
			DebugDir:   "outputs/debug",
			TimeoutSec: 90,
			MaxChars:   15000,
		},
		Bid: BidConfig{
			Model:      "llama3.1:8b",
			TimeoutSec: 120,
		},
		Reference: ReferenceConfig{
			Path: "data/cpv_list.json",
		},
		Postgres: PostgresConfig{
			Host:      "localhost",
			Port:      5432,
			Database:  "etenders_db",
			User:      "etenders_user",
			Password:  "etenders_pass",
			SSLMode:   "disable",
			BatchSize: 50,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			ErrorLog: "outputs/errors.jsonl",
		},
	}
}

// LoadConfig overlays the YAML file at filepath on the defaults, applies
// environment overrides and validates the result.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error. Variables already set are left alone.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	return nil
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DB_HOST":     &c.Postgres.Host,
		"DB_NAME":     &c.Postgres.Database,
		"DB_USER":     &c.Postgres.User,
		"DB_PASSWORD": &c.Postgres.Password,
		"OLLAMA_HOST": &c.Classifier.Endpoint,
	}

	for key, dst := range strs {
		if val, ok := lookup(key); ok && val != "" {
			*dst = val
		}
	}

	if val, ok := lookup("DB_PORT"); ok && val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: DB_PORT=%q", ErrInvalidEnvValue, val)
		}

		c.Postgres.Port = port
	}

	if !strings.Contains(c.Classifier.Endpoint, "://") && c.Classifier.Endpoint != "" {
		c.Classifier.Endpoint = "http://" + c.Classifier.Endpoint
	}

	return nil
}

// SaveConfig saves configuration to YAML file.
func (c *Config) SaveConfig(filepath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pipeline.StartPage < 1 || c.Pipeline.StartPage > c.Pipeline.EndPage {
		return fmt.Errorf("%w: %d..%d", ErrInvalidPageRange, c.Pipeline.StartPage, c.Pipeline.EndPage)
	}

	switch c.Pipeline.Output {
	case OutputJSON, OutputCSV:
		if c.Pipeline.OutputDir == "" {
			return ErrMissingOutputDir
		}
	case OutputPostgres:
		if c.Postgres.BatchSize < 1 {
			return ErrInvalidBatchSize
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidOutputFormat, c.Pipeline.Output)
	}

	if c.Scraper.BaseURL == "" {
		return ErrMissingBaseURL
	}

	if c.Scraper.PageDelayMs < 0 {
		return ErrInvalidPageDelay
	}

	// Validate retry policy
	if c.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if c.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if c.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Retry.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if c.Features.ProcessDocuments || c.Features.AnalyzeBids {
		if c.Classifier.Endpoint == "" {
			return ErrMissingEndpoint
		}

		if c.Classifier.TimeoutSec < 1 {
			return ErrInvalidClassifierTimeout
		}
	}

	if c.Features.ProcessDocuments && c.Documents.MaxBytesKb < 1 {
		return ErrInvalidMaxBytes
	}

	if c.Classifier.MaxChars < 1 {
		return ErrInvalidMaxChars
	}

	if c.Features.CheckCodes && c.Reference.Path == "" {
		return ErrMissingReference
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return ErrInvalidLogFormat
	}

	return nil
}

// PageDelay returns the pause between listing pages.
func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.Scraper.PageDelayMs) * time.Millisecond
}

// ClassifierTimeout returns the per-call timeout of the classification service.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSec) * time.Second
}

// BidTimeout returns the per-call timeout of the bid analysis call.
func (c *Config) BidTimeout() time.Duration {
	return time.Duration(c.Bid.TimeoutSec) * time.Second
}

// MaxDocumentBytes returns the document download cap in bytes.
func (c *Config) MaxDocumentBytes() int64 {
	return int64(c.Documents.MaxBytesKb) * 1024
}

// DSN returns a lib/pq keyword/value connection string.
func (p *PostgresConfig) DSN() string {
	parts := []string{
		"host=" + quoteDSN(p.Host),
		"port=" + strconv.Itoa(p.Port),
		"dbname=" + quoteDSN(p.Database),
		"user=" + quoteDSN(p.User),
		"password=" + quoteDSN(p.Password),
	}

	if p.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteDSN(p.SSLMode))
	}

	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}

	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)

	return "'" + r.Replace(v) + "'"
}

// GetRetryDelay calculates exponential backoff delay for attempt number.
func (rp *RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 1; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	// Cap at max delay
	if int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

// GetTimeout returns the timeout duration.
func (rp *RetryPolicy) GetTimeout() time.Duration {
	return time.Duration(rp.TimeoutSec) * time.Second
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Pages: %d..%d, Output: %s, Documents: %t, Codes: %t, Bids: %t}",
		c.Pipeline.StartPage,
		c.Pipeline.EndPage,
		c.Pipeline.Output,
		c.Features.ProcessDocuments,
		c.Features.CheckCodes,
		c.Features.AnalyzeBids,
	)
}
