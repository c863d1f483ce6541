package sentry

import (
	"fmt"
	"time"

	"github.com/your-org/roadrunner-sentry/internal/dsn"
	"github.com/your-org/roadrunner-sentry/internal/protocol"
	"github.com/your-org/roadrunner-sentry/internal/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config represents the plugin configuration
type Config struct {
	// Enable/disable the plugin
	Enabled bool `mapstructure:"enabled"`

	// Sentry DSN. Empty keeps the client running but drops everything.
	DSN string `mapstructure:"dsn"`

	Release     string `mapstructure:"release"`
	Environment string `mapstructure:"environment"`
	ServerName  string `mapstructure:"server_name"`

	// Probability an error event is kept. Unset means 1.
	SampleRate *float64 `mapstructure:"sample_rate"`
	// Probability a transaction is sampled. Unset disables tracing unless the
	// incoming trace carries a decision.
	TracesSampleRate *float64 `mapstructure:"traces_sample_rate"`

	MaxBreadcrumbs    int `mapstructure:"max_breadcrumbs"`
	MaxValueLength    int `mapstructure:"max_value_length"`
	MaxSerializeDepth int `mapstructure:"max_serialize_depth"`

	// Path prefixes stripped from frame file names
	Prefixes     []string `mapstructure:"prefixes"`
	InAppInclude []string `mapstructure:"in_app_include"`
	InAppExclude []string `mapstructure:"in_app_exclude"`
	ContextLines int      `mapstructure:"context_lines"`

	SendDefaultPII bool `mapstructure:"send_default_pii"`

	// Default tags added to every error and transaction
	Tags map[string]string `mapstructure:"tags"`

	// HTTP transport settings
	Transport TransportConfig `mapstructure:"transport"`

	// Retry configuration
	Retry RetryConfig `mapstructure:"retry"`

	// Queue configuration
	Queue QueueConfig `mapstructure:"queue"`

	Logs    LogsConfig    `mapstructure:"logs"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Spans   SpansConfig   `mapstructure:"spans"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// TransportConfig contains HTTP transport settings
type TransportConfig struct {
	// Request timeout
	Timeout time.Duration `mapstructure:"timeout"`
	// Connection timeout
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// Enable gzip compression, on by default
	Compression *bool `mapstructure:"compression"`
	// SSL verification, on by default
	SSLVerify *bool `mapstructure:"ssl_verify"`
	// Proxy URL
	Proxy string `mapstructure:"proxy"`
}

// RetryConfig contains retry mechanism settings
type RetryConfig struct {
	// Maximum send attempts per envelope
	MaxAttempts int `mapstructure:"max_attempts"`
	// Initial backoff duration
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// Backoff multiplier
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	// Maximum backoff duration
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// QueueConfig contains queue settings
type QueueConfig struct {
	// Buffer size for the send queue
	BufferSize int `mapstructure:"buffer_size"`
	// Number of worker goroutines
	Workers int `mapstructure:"workers"`
	// How often aggregators and client reports are flushed
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// Upper bound for the final flush on stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogsConfig controls the structured log aggregator.
type LogsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// MetricsConfig controls the metric aggregator.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SpansConfig controls the standalone span buffer.
type SpansConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Minimum level of the plugin's own log entries. It can only raise the
	// level of the logger handed over by RoadRunner.
	Level string `mapstructure:"level"`
}

// InitDefaults initializes default configuration values
func (cfg *Config) InitDefaults() {
	if cfg.MaxBreadcrumbs == 0 {
		cfg.MaxBreadcrumbs = DefaultMaxBreadcrumbs
	}
	if cfg.ContextLines == 0 {
		cfg.ContextLines = 5
	}

	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 30 * time.Second
	}
	if cfg.Transport.ConnectTimeout == 0 {
		cfg.Transport.ConnectTimeout = 10 * time.Second
	}
	if cfg.Transport.Compression == nil {
		cfg.Transport.Compression = ptrTo(true)
	}
	if cfg.Transport.SSLVerify == nil {
		cfg.Transport.SSLVerify = ptrTo(true)
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = 1 * time.Second
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = 2.0
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 300 * time.Second
	}

	if cfg.Queue.BufferSize == 0 {
		cfg.Queue.BufferSize = 1000
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.FlushInterval == 0 {
		cfg.Queue.FlushInterval = 5 * time.Second
	}
	if cfg.Queue.ShutdownTimeout == 0 {
		cfg.Queue.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logs.BufferSize == 0 {
		cfg.Logs.BufferSize = 1000
	}
	if cfg.Spans.BufferSize == 0 {
		cfg.Spans.BufferSize = 1000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	if cfg.DSN != "" {
		if _, err := dsn.Parse(cfg.DSN); err != nil {
			return err
		}
	}

	if err := validateRate("sample_rate", cfg.SampleRate); err != nil {
		return err
	}
	if err := validateRate("traces_sample_rate", cfg.TracesSampleRate); err != nil {
		return err
	}

	if cfg.MaxBreadcrumbs < 1 {
		return fmt.Errorf("%w: max_breadcrumbs must be at least 1", protocol.ErrInvalidConfiguration)
	}
	if cfg.Logs.BufferSize < 1 || cfg.Spans.BufferSize < 1 {
		return fmt.Errorf("%w: buffer sizes must be at least 1", protocol.ErrInvalidConfiguration)
	}

	if cfg.Queue.BufferSize <= 0 {
		cfg.Queue.BufferSize = 1000
	}

	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 1
	}

	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}

	if cfg.Queue.FlushInterval < 0 {
		return fmt.Errorf("%w: queue.flush_interval must not be negative", protocol.ErrInvalidConfiguration)
	}

	if _, err := cfg.Logging.level(); err != nil {
		return err
	}

	return nil
}

func (l LoggingConfig) level() (zapcore.Level, error) {
	if l.Level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return lvl, fmt.Errorf("%w: logging.level: %v", protocol.ErrInvalidConfiguration, err)
	}
	return lvl, nil
}

func validateRate(name string, rate *float64) error {
	if rate != nil && (*rate < 0 || *rate > 1) {
		return fmt.Errorf("%w: %s must be within [0, 1], got %v", protocol.ErrInvalidConfiguration, name, *rate)
	}
	return nil
}

// ClientOptions converts the configuration into options for NewClient.
func (cfg *Config) ClientOptions(log *zap.Logger) ClientOptions {
	return ClientOptions{
		DSN:                cfg.DSN,
		Release:            cfg.Release,
		Environment:        cfg.Environment,
		ServerName:         cfg.ServerName,
		SampleRate:         cfg.SampleRate,
		TracesSampleRate:   cfg.TracesSampleRate,
		MaxBreadcrumbs:     cfg.MaxBreadcrumbs,
		MaxValueLength:     cfg.MaxValueLength,
		MaxSerializeDepth:  cfg.MaxSerializeDepth,
		PrefixesToStrip:    cfg.Prefixes,
		InAppInclude:       cfg.InAppInclude,
		InAppExclude:       cfg.InAppExclude,
		ContextLines:       cfg.ContextLines,
		SendDefaultPII:     cfg.SendDefaultPII,
		Tags:               cfg.Tags,
		Timeout:            cfg.Transport.Timeout,
		ConnectTimeout:     cfg.Transport.ConnectTimeout,
		InsecureSkipVerify: cfg.Transport.SSLVerify != nil && !*cfg.Transport.SSLVerify,
		Proxy:              cfg.Transport.Proxy,
		DisableCompression: cfg.Transport.Compression != nil && !*cfg.Transport.Compression,
		Retry: transport.RetryPolicy{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialBackoff:    cfg.Retry.InitialBackoff,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			MaxBackoff:        cfg.Retry.MaxBackoff,
		},
		QueueSize:       cfg.Queue.BufferSize,
		Workers:         cfg.Queue.Workers,
		EnableLogs:      cfg.Logs.Enabled,
		LogsBufferSize:  cfg.Logs.BufferSize,
		EnableMetrics:   cfg.Metrics.Enabled,
		SpansBufferSize: cfg.Spans.BufferSize,
		Logger:          log,
	}
}

func ptrTo[T any](v T) *T {
	return &v
}
