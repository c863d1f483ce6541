package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// maxResponseBody caps how much of a response body is kept.
const maxResponseBody = 1 << 20

// Response is what an HTTPExecutor returns for a completed exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPExecutor performs one HTTP exchange. An error means no response was
// received.
type HTTPExecutor interface {
	Execute(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error)
}

// ExecutorOptions configures the net/http based executor.
type ExecutorOptions struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	SSLVerify      bool
	Proxy          string
}

// HTTPClientExecutor is the default HTTPExecutor.
type HTTPClientExecutor struct {
	client *http.Client
}

// NewHTTPExecutor returns an executor sharing one connection pool across
// sends.
func NewHTTPExecutor(opts ExecutorOptions) (*HTTPClientExecutor, error) {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !opts.SSLVerify,
		},
		Proxy: http.ProxyFromEnvironment,
	}

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid proxy URL: %w", protocol.ErrInvalidConfiguration, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &HTTPClientExecutor{
		client: &http.Client{Transport: transport, Timeout: opts.Timeout},
	}, nil
}

// Execute implements HTTPExecutor.
func (e *HTTPClientExecutor) Execute(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// a truncated body still leaves a usable status and headers
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Close releases idle connections.
func (e *HTTPClientExecutor) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
