package sentry

import (
	"math/rand"
	"time"

	"github.com/your-org/roadrunner-sentry/internal/stacktrace"
	"github.com/your-org/roadrunner-sentry/internal/transport"
	"go.uber.org/zap"
)

const (
	// DefaultMaxBreadcrumbs bounds the breadcrumb trail when unset.
	DefaultMaxBreadcrumbs = 100
	// DefaultQueueSize bounds the async send queue when unset.
	DefaultQueueSize = 1000
	// DefaultWorkers is the number of send workers when unset.
	DefaultWorkers = 4

	sdkName    = "sentry.go.roadrunner"
	sdkVersion = "1.0.0"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// DSN of the project. An empty DSN yields a client that drops everything.
	DSN         string
	Release     string
	Environment string
	ServerName  string
	Dist        string

	// SampleRate is the probability an error event is kept; nil means 1.
	SampleRate *float64
	// TracesSampleRate is used when TracesSampler is nil.
	TracesSampleRate *float64
	TracesSampler    TracesSampler

	// BeforeSend may modify or drop (return nil) error and check-in events.
	BeforeSend func(*Event) *Event
	// BeforeSendTransaction is BeforeSend for transactions.
	BeforeSendTransaction func(*Event) *Event
	// BeforeBreadcrumb may modify or drop a breadcrumb before it is recorded.
	BeforeBreadcrumb func(*Breadcrumb) *Breadcrumb

	MaxBreadcrumbs    int
	MaxValueLength    int
	MaxSerializeDepth int
	MaxSpans          int

	PrefixesToStrip []string
	InAppInclude    []string
	InAppExclude    []string
	ContextLines    int
	// StackProvider reads call stacks for CaptureError; nil uses the runtime.
	StackProvider stacktrace.Provider

	// SendDefaultPII keeps the "{{auto}}" user ip address marker.
	SendDefaultPII bool
	Tags           map[string]string

	// HTTPExecutor replaces the net/http based executor.
	HTTPExecutor       transport.HTTPExecutor
	Timeout            time.Duration
	ConnectTimeout     time.Duration
	InsecureSkipVerify bool
	Proxy              string
	DisableCompression bool
	Retry              transport.RetryPolicy

	QueueSize int
	Workers   int

	EnableLogs      bool
	LogsBufferSize  int
	EnableMetrics   bool
	SpansBufferSize int

	RandSource rand.Source
	Now        func() time.Time
	Logger     *zap.Logger
}

func (o *ClientOptions) setDefaults() {
	if o.MaxBreadcrumbs == 0 {
		o.MaxBreadcrumbs = DefaultMaxBreadcrumbs
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.StackProvider == nil {
		o.StackProvider = stacktrace.RuntimeProvider{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
