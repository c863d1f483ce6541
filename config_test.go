package sentry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

func TestConfigInitDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.InitDefaults()

	assert.Equal(t, DefaultMaxBreadcrumbs, cfg.MaxBreadcrumbs)
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Transport.ConnectTimeout)
	require.NotNil(t, cfg.Transport.Compression)
	assert.True(t, *cfg.Transport.Compression)
	require.NotNil(t, cfg.Transport.SSLVerify)
	assert.True(t, *cfg.Transport.SSLVerify)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, 2.0, cfg.Retry.BackoffMultiplier)
	assert.Equal(t, 300*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, 1000, cfg.Queue.BufferSize)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 5*time.Second, cfg.Queue.FlushInterval)
	assert.Equal(t, 10*time.Second, cfg.Queue.ShutdownTimeout)
	assert.Equal(t, 1000, cfg.Logs.BufferSize)
	assert.Equal(t, 1000, cfg.Spans.BufferSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Nil(t, cfg.SampleRate)

	require.NoError(t, cfg.Validate())
}

func TestConfigKeepsExplicitlyDisabledFlags(t *testing.T) {
	cfg := &Config{Transport: TransportConfig{Compression: ptrTo(false), SSLVerify: ptrTo(false)}}
	cfg.InitDefaults()

	opts := cfg.ClientOptions(nil)
	assert.True(t, opts.DisableCompression)
	assert.True(t, opts.InsecureSkipVerify)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"dsn":                func(c *Config) { c.DSN = "not a dsn" },
		"sample rate":        func(c *Config) { c.SampleRate = ptrTo(2.0) },
		"traces sample rate": func(c *Config) { c.TracesSampleRate = ptrTo(-1.0) },
		"breadcrumbs":        func(c *Config) { c.MaxBreadcrumbs = -5 },
		"logs buffer":        func(c *Config) { c.Logs.BufferSize = -1 },
		"flush interval":     func(c *Config) { c.Queue.FlushInterval = -time.Second },
		"logging level":      func(c *Config) { c.Logging.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{}
			cfg.InitDefaults()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), protocol.ErrInvalidConfiguration)
		})
	}
}

func TestConfigValidateClampsQueue(t *testing.T) {
	cfg := &Config{}
	cfg.InitDefaults()
	cfg.Queue.BufferSize = -1
	cfg.Queue.Workers = -1
	cfg.Retry.MaxAttempts = -1

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Queue.BufferSize)
	assert.Equal(t, 1, cfg.Queue.Workers)
	assert.Equal(t, 1, cfg.Retry.MaxAttempts)
}

func TestConfigClientOptions(t *testing.T) {
	cfg := &Config{
		DSN:              testDSN,
		Release:          "app@2.0.0",
		Environment:      "production",
		ServerName:       "web-1",
		SampleRate:       ptrTo(0.5),
		TracesSampleRate: ptrTo(0.1),
		Prefixes:         []string{"/srv/app"},
		Tags:             map[string]string{"region": "eu"},
		Logs:             LogsConfig{Enabled: true},
		Metrics:          MetricsConfig{Enabled: true},
	}
	cfg.InitDefaults()
	require.NoError(t, cfg.Validate())

	opts := cfg.ClientOptions(nil)
	assert.Equal(t, testDSN, opts.DSN)
	assert.Equal(t, "app@2.0.0", opts.Release)
	assert.Equal(t, "production", opts.Environment)
	assert.Equal(t, "web-1", opts.ServerName)
	assert.Equal(t, 0.5, *opts.SampleRate)
	assert.Equal(t, 0.1, *opts.TracesSampleRate)
	assert.Equal(t, []string{"/srv/app"}, opts.PrefixesToStrip)
	assert.Equal(t, 5, opts.ContextLines)
	assert.False(t, opts.DisableCompression)
	assert.False(t, opts.InsecureSkipVerify)
	assert.Equal(t, 3, opts.Retry.MaxAttempts)
	assert.Equal(t, 1000, opts.QueueSize)
	assert.Equal(t, 4, opts.Workers)
	assert.True(t, opts.EnableLogs)
	assert.True(t, opts.EnableMetrics)
	assert.Equal(t, map[string]string{"region": "eu"}, opts.Tags)
}
