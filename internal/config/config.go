// Package config provides centralized configuration for the collector.
// Configuration is resolved from defaults, then an optional YAML (or JSON)
// file, then environment variables, and is validated as a whole before use.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Level stride policies accepted by FetchConfig.LevelStride.
const (
	StrideLastSeen = "last_seen"
	StrideWindow   = "window"
	StrideCount    = "count"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" yaml:"app_name"`
	Version    string `json:"version" yaml:"version"`
	ConfigPath string `json:"-" yaml:"-"`

	// CoinGlass metadata API
	CoinGlass CoinGlassConfig `json:"coinglass" yaml:"coinglass"`

	// Per-connector transport settings keyed by connector id
	Exchanges map[string]ExchangeConfig `json:"exchanges" yaml:"exchanges"`

	// Pagination, retry and interval behaviour
	Fetch FetchConfig `json:"fetch" yaml:"fetch"`

	// Candle sanity checks
	Validator ValidatorConfig `json:"validator" yaml:"validator"`

	// Optional persistence of aligned series
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Optional parquet export
	Export ExportConfig `json:"export" yaml:"export"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// CoinGlassConfig configures the metadata and derivatives history client
type CoinGlassConfig struct {
	BaseURL   string  `json:"base_url" yaml:"base_url" env:"COINGLASS_BASE_URL"`
	APIKey    string  `json:"api_key" yaml:"api_key" env:"COINGLASS_API_KEY"`
	Timeout   string  `json:"timeout" yaml:"timeout"`       // HTTP request timeout
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"` // Requests per second
	Burst     int     `json:"burst" yaml:"burst"`
}

// ExchangeConfig configures one exchange connector
type ExchangeConfig struct {
	BaseURL   string  `json:"base_url" yaml:"base_url"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"` // Requests per second
	Burst     int     `json:"burst" yaml:"burst"`
	Timeout   string  `json:"timeout" yaml:"timeout"`
	PageLimit int     `json:"page_limit" yaml:"page_limit"` // Candles requested per page
}

// FetchConfig configures the paginated fetchers
type FetchConfig struct {
	CandleRetry         RetryPolicyConfig `json:"candle_retry" yaml:"candle_retry"`
	LevelRetry          RetryPolicyConfig `json:"level_retry" yaml:"level_retry"`
	LevelStride         string            `json:"level_stride" yaml:"level_stride" env:"FETCH_LEVEL_STRIDE"` // last_seen, window, count
	LevelPageLimit      int               `json:"level_page_limit" yaml:"level_page_limit"`
	LegacyIntervalCodec bool              `json:"legacy_interval_codec" yaml:"legacy_interval_codec" env:"LEGACY_INTERVAL_CODEC"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts" yaml:"max_attempts"`         // Calls including the first; 0 retries forever
	InitialDelay    string   `json:"initial_delay" yaml:"initial_delay"`       // Initial delay between retries
	MaxDelay        string   `json:"max_delay" yaml:"max_delay"`               // Maximum delay between retries
	MaxElapsed      string   `json:"max_elapsed" yaml:"max_elapsed"`           // Total retry budget; empty means unbounded
	BackoffStrategy string   `json:"backoff_strategy" yaml:"backoff_strategy"` // Backoff strategy: fixed, exponential, linear
	RetryableErrors []string `json:"retryable_errors" yaml:"retryable_errors"` // List of retryable error types
	Jitter          bool     `json:"jitter" yaml:"jitter"`                     // Add randomness to delays
}

// ValidatorConfig configures candle sanity checks
type ValidatorConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	Type         string `json:"type" yaml:"type" env:"STORAGE_TYPE"`                 // "none", "memory", "duckdb"
	DatabaseURL  string `json:"database_url" yaml:"database_url" env:"DATABASE_URL"` // DuckDB file path
	QueryTimeout string `json:"query_timeout" yaml:"query_timeout"`
}

// ExportConfig configures parquet export of aligned series
type ExportConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Dir         string   `json:"dir" yaml:"dir" env:"EXPORT_DIR"`
	Compression string   `json:"compression" yaml:"compression"` // snappy, gzip, none
	S3          S3Config `json:"s3" yaml:"s3"`
}

// S3Config configures the optional object storage upload
type S3Config struct {
	Bucket          string `json:"bucket" yaml:"bucket" env:"EXPORT_S3_BUCKET"`
	Region          string `json:"region" yaml:"region" env:"EXPORT_S3_REGION"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle    bool   `json:"use_path_style" yaml:"use_path_style"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" env:"LOG_LEVEL"`             // Log level: debug, info, warn, error
	Format        string            `json:"format" yaml:"format" env:"LOG_FORMAT"`          // Log format: json, text
	Output        string            `json:"output" yaml:"output" env:"LOG_OUTPUT"`          // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path" env:"LOG_FILE_PATH"` // Log file path
	MaxSize       int               `json:"max_size" yaml:"max_size"`                       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups"`                 // Maximum log file backups
	MaxAge        int               `json:"max_age" yaml:"max_age"`                         // Maximum log file age in days
	Compress      bool              `json:"compress" yaml:"compress"`                       // Compress old log files
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`           // Additional context fields
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()
	config.ConfigPath = cm.configPath

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	applyExchangeDefaults(config)

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"storage_type", config.Storage.Type,
		"level_stride", config.Fetch.LevelStride,
		"legacy_interval_codec", config.Fetch.LegacyIntervalCodec,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a YAML file. JSON files are valid YAML.
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("COINGLASS_API_KEY"); val != "" {
		config.CoinGlass.APIKey = val
	}
	if val := os.Getenv("COINGLASS_BASE_URL"); val != "" {
		config.CoinGlass.BaseURL = val
	}

	if val := os.Getenv("FETCH_HOLD"); val != "" {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("FETCH_HOLD: %w", err)
		}
		config.Fetch.CandleRetry.InitialDelay = val
		config.Fetch.CandleRetry.MaxDelay = val
	}
	if val := os.Getenv("FETCH_LEVEL_STRIDE"); val != "" {
		config.Fetch.LevelStride = val
	}
	if val := os.Getenv("LEGACY_INTERVAL_CODEC"); val != "" {
		legacy, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("LEGACY_INTERVAL_CODEC: %w", err)
		}
		config.Fetch.LegacyIntervalCodec = legacy
	}

	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		config.Storage.Type = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		config.Storage.DatabaseURL = val
	}

	if val := os.Getenv("EXPORT_DIR"); val != "" {
		config.Export.Dir = val
		config.Export.Enabled = true
	}
	if val := os.Getenv("EXPORT_S3_BUCKET"); val != "" {
		config.Export.S3.Bucket = val
	}
	if val := os.Getenv("EXPORT_S3_REGION"); val != "" {
		config.Export.S3.Region = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// applyExchangeDefaults fills connector fields a file left empty.
func applyExchangeDefaults(config *AppConfig) {
	defaults := DefaultExchanges()
	if config.Exchanges == nil {
		config.Exchanges = defaults
		return
	}
	for id, def := range defaults {
		ex, ok := config.Exchanges[id]
		if !ok {
			config.Exchanges[id] = def
			continue
		}
		if ex.BaseURL == "" {
			ex.BaseURL = def.BaseURL
		}
		if ex.RateLimit == 0 {
			ex.RateLimit = def.RateLimit
		}
		if ex.Burst == 0 {
			ex.Burst = def.Burst
		}
		if ex.Timeout == "" {
			ex.Timeout = def.Timeout
		}
		if ex.PageLimit == 0 {
			ex.PageLimit = def.PageLimit
		}
		config.Exchanges[id] = ex
	}
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	if config.CoinGlass.APIKey == "" {
		errors = append(errors, "coinglass.api_key is required (set COINGLASS_API_KEY)")
	}
	if config.CoinGlass.BaseURL == "" {
		errors = append(errors, "coinglass.base_url is required")
	}
	if config.CoinGlass.RateLimit <= 0 {
		errors = append(errors, "coinglass.rate_limit must be greater than 0")
	}
	if err := validDuration(config.CoinGlass.Timeout); err != nil {
		errors = append(errors, fmt.Sprintf("coinglass.timeout: %v", err))
	}

	for id, ex := range config.Exchanges {
		if ex.RateLimit <= 0 {
			errors = append(errors, fmt.Sprintf("exchanges.%s.rate_limit must be greater than 0", id))
		}
		if ex.PageLimit <= 0 {
			errors = append(errors, fmt.Sprintf("exchanges.%s.page_limit must be greater than 0", id))
		}
		if err := validDuration(ex.Timeout); err != nil {
			errors = append(errors, fmt.Sprintf("exchanges.%s.timeout: %v", id, err))
		}
	}

	validStrides := map[string]bool{StrideLastSeen: true, StrideWindow: true, StrideCount: true}
	if !validStrides[config.Fetch.LevelStride] {
		errors = append(errors, "fetch.level_stride must be one of: last_seen, window, count")
	}
	if config.Fetch.LevelPageLimit <= 0 {
		errors = append(errors, "fetch.level_page_limit must be greater than 0")
	}
	errors = append(errors, validateRetryPolicy("fetch.candle_retry", config.Fetch.CandleRetry)...)
	errors = append(errors, validateRetryPolicy("fetch.level_retry", config.Fetch.LevelRetry)...)

	validStorage := map[string]bool{"none": true, "memory": true, "duckdb": true}
	if !validStorage[config.Storage.Type] {
		errors = append(errors, "storage.type must be one of: none, memory, duckdb")
	}
	if config.Storage.Type == "duckdb" && config.Storage.DatabaseURL == "" {
		errors = append(errors, "storage.database_url is required for DuckDB storage")
	}

	if config.Export.Enabled && config.Export.Dir == "" && config.Export.S3.Bucket == "" {
		errors = append(errors, "export requires export.dir or export.s3.bucket")
	}
	validCompression := map[string]bool{"": true, "snappy": true, "gzip": true, "none": true}
	if !validCompression[config.Export.Compression] {
		errors = append(errors, "export.compression must be one of: snappy, gzip, none")
	}
	if config.Export.S3.Bucket != "" && config.Export.S3.Region == "" {
		errors = append(errors, "export.s3.region is required when export.s3.bucket is set")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func validateRetryPolicy(prefix string, p RetryPolicyConfig) []string {
	var errors []string
	if p.MaxAttempts < 0 {
		errors = append(errors, prefix+".max_attempts must be >= 0")
	}
	for name, v := range map[string]string{"initial_delay": p.InitialDelay, "max_delay": p.MaxDelay, "max_elapsed": p.MaxElapsed} {
		if err := validDuration(v); err != nil {
			errors = append(errors, fmt.Sprintf("%s.%s: %v", prefix, name, err))
		}
	}
	switch p.BackoffStrategy {
	case "", "fixed", "linear", "exponential":
	default:
		errors = append(errors, prefix+".backoff_strategy must be one of: fixed, linear, exponential")
	}
	return errors
}

func validDuration(v string) error {
	if v == "" {
		return nil
	}
	_, err := time.ParseDuration(v)
	return err
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// DefaultExchanges returns the connector settings used when a file does not
// override them.
func DefaultExchanges() map[string]ExchangeConfig {
	return map[string]ExchangeConfig{
		"binance":       {BaseURL: "https://api.binance.com", RateLimit: 10, Burst: 1, Timeout: "30s", PageLimit: 1000},
		"binanceusdm":   {BaseURL: "https://fapi.binance.com", RateLimit: 10, Burst: 1, Timeout: "30s", PageLimit: 1500},
		"binancecoinm":  {BaseURL: "https://dapi.binance.com", RateLimit: 10, Burst: 1, Timeout: "30s", PageLimit: 1500},
		"bybit":         {BaseURL: "https://api.bybit.com", RateLimit: 10, Burst: 1, Timeout: "30s", PageLimit: 1000},
		"bitget":        {BaseURL: "https://api.bitget.com", RateLimit: 10, Burst: 1, Timeout: "30s", PageLimit: 200},
		"bitmex":        {BaseURL: "https://www.bitmex.com", RateLimit: 1, Burst: 1, Timeout: "30s", PageLimit: 1000},
		"deribit":       {BaseURL: "https://www.deribit.com", RateLimit: 10, Burst: 1, Timeout: "30s", PageLimit: 1000},
		"huobi":         {BaseURL: "https://api.hbdm.com", RateLimit: 10, Burst: 1, Timeout: "30s", PageLimit: 1000},
		"kraken":        {BaseURL: "https://api.kraken.com", RateLimit: 1, Burst: 1, Timeout: "30s", PageLimit: 720},
		"krakenfutures": {BaseURL: "https://futures.kraken.com", RateLimit: 5, Burst: 1, Timeout: "30s", PageLimit: 2000},
		"kucoinfutures": {BaseURL: "https://api-futures.kucoin.com", RateLimit: 5, Burst: 1, Timeout: "30s", PageLimit: 200},
		"okx":           {BaseURL: "https://www.okx.com", RateLimit: 10, Burst: 1, Timeout: "30s", PageLimit: 100},
	}
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "derivs-collector",
		Version: "1.0.0",
		CoinGlass: CoinGlassConfig{
			BaseURL:   "https://open-api-v3.coinglass.com/api/futures",
			Timeout:   "30s",
			RateLimit: 0.5,
			Burst:     1,
		},
		Exchanges: DefaultExchanges(),
		Fetch: FetchConfig{
			CandleRetry: RetryPolicyConfig{
				MaxAttempts:     0,
				InitialDelay:    "5s",
				MaxDelay:        "5s",
				BackoffStrategy: "fixed",
				RetryableErrors: []string{"exchange", "authentication", "exchange_unavailable", "timeout", "rate_limit"},
			},
			LevelRetry: RetryPolicyConfig{
				MaxAttempts:     1,
				InitialDelay:    "5s",
				MaxDelay:        "5s",
				BackoffStrategy: "fixed",
				RetryableErrors: []string{"exchange", "authentication", "exchange_unavailable", "timeout", "rate_limit"},
			},
			LevelStride:    StrideLastSeen,
			LevelPageLimit: 4500,
		},
		Validator: ValidatorConfig{
			Enabled: true,
		},
		Storage: StorageConfig{
			Type:         "none",
			DatabaseURL:  "./data/derivs.db",
			QueryTimeout: "30s",
		},
		Export: ExportConfig{
			Compression: "snappy",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
			ContextFields: map[string]string{
				"service": "derivs-collector",
			},
		},
	}
}

// GetLoggingConfig returns logging-specific configuration
func (c *AppConfig) GetLoggingConfig() LoggingConfig {
	return c.Logging
}

// Exchange returns the settings of a connector id, falling back to the
// built-in defaults.
func (c *AppConfig) Exchange(id string) (ExchangeConfig, bool) {
	if ex, ok := c.Exchanges[id]; ok {
		return ex, true
	}
	ex, ok := DefaultExchanges()[id]
	return ex, ok
}

// String returns a string representation of the configuration (excluding sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.CoinGlass.APIKey != "" {
		sanitized.CoinGlass.APIKey = "[REDACTED]"
	}
	if sanitized.Export.S3.SecretAccessKey != "" {
		sanitized.Export.S3.SecretAccessKey = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
