package sentry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const PluginName = "sentry"

// rateLimitCleanupInterval is how often expired rate limits are purged.
const rateLimitCleanupInterval = 5 * time.Minute

// Plugin represents the main plugin structure
type Plugin struct {
	config *Config
	logger *zap.Logger
	client *Client

	// Lifecycle
	stopCh chan struct{}
	doneCh chan struct{}
}

// Configurer interface for config plugin
type Configurer interface {
	UnmarshalKey(name string, out any) error
	Has(name string) bool
}

// Logger interface for logger plugin
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// Hub is the capture API other plugins receive.
type Hub interface {
	CaptureEvent(event *Event) *EventID
	CaptureMessage(message string, level Level) *EventID
	CaptureError(err error) *EventID
	AddBreadcrumb(breadcrumb *Breadcrumb)
	StartTransaction(ctx TransactionContext) *Transaction
	WithTrace(ctx TransactionContext) *TraceScope
	FlushAll(timeout time.Duration) bool
}

// Init initializes the plugin
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("sentry_plugin_init")

	// Check if configuration section exists
	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	if !config.Enabled {
		return errors.E(op, errors.Disabled)
	}

	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return errors.E(op, err)
	}

	p.config = config
	p.logger = log.NamedLogger(PluginName)
	if lvl, _ := config.Logging.level(); lvl > zapcore.DebugLevel && p.logger.Core().Enabled(lvl-1) {
		p.logger = p.logger.WithOptions(zap.IncreaseLevel(lvl))
	}

	client, err := NewClient(config.ClientOptions(p.logger))
	if err != nil {
		return errors.E(op, err)
	}
	p.client = client

	p.logger.Info("sentry plugin initialized",
		zap.Bool("dsn_configured", config.DSN != ""),
		zap.String("environment", config.Environment),
		zap.String("release", config.Release),
		zap.Int("queue_buffer_size", config.Queue.BufferSize),
		zap.Int("workers", config.Queue.Workers))

	return nil
}

// Serve starts the periodic flush and rate limit cleanup.
func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)

	if p.client == nil {
		errCh <- errors.E(errors.Op("sentry_plugin_serve"), "plugin not initialized")
		return errCh
	}

	// Initialize lifecycle channels
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go func() {
		defer close(p.doneCh)

		flush := time.NewTicker(p.config.Queue.FlushInterval)
		defer flush.Stop()
		cleanup := time.NewTicker(rateLimitCleanupInterval)
		defer cleanup.Stop()

		p.logger.Debug("sentry plugin started")

		for {
			select {
			case <-p.stopCh:
				return
			case <-flush.C:
				p.client.FlushBuffers()
			case <-cleanup.C:
				p.client.RateLimiter().CleanupExpired()
			}
		}
	}()

	return errCh
}

// Stop flushes everything buffered within the shutdown timeout and closes
// the client.
func (p *Plugin) Stop(ctx context.Context) error {
	const op = errors.Op("sentry_plugin_stop")

	if p.client == nil {
		return nil
	}

	if p.stopCh != nil {
		close(p.stopCh)
		select {
		case <-p.doneCh:
		case <-ctx.Done():
			p.logger.Warn("plugin stop timed out")
			return ctx.Err()
		}
	}

	timeout := p.config.Queue.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	var err error
	if !p.client.FlushAll(timeout) {
		err = multierr.Append(err, errors.E(op, "flush timed out, queued events were dropped"))
	}
	err = multierr.Append(err, p.client.Close(ctx))

	p.logger.Info("sentry plugin stopped", zap.Any("stats", p.client.Stats()))
	return err
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface
func (p *Plugin) RPC() any {
	return NewRPC(p, p.logger)
}

// Provides returns the dependencies this plugin provides
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*Hub)(nil), p.Hub),
	}
}

// Hub returns the capture API
func (p *Plugin) Hub() Hub {
	return p.client
}

// Client returns the underlying client.
func (p *Plugin) Client() *Client {
	return p.client
}

// MetricsCollector exposes delivery metrics to the metrics plugin.
func (p *Plugin) MetricsCollector() []prometheus.Collector {
	if p.client == nil {
		return nil
	}
	return []prometheus.Collector{p.client.collector}
}
