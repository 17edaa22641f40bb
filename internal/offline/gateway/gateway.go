// Package gateway performs HTTP requests against the remote review API.
//
// A request succeeds only when the transport completes and the status is
// 2xx. Every other outcome is a *GatewayError: with Status/StatusText for
// an HTTP error reply, or with Transport set when no reply arrived. The
// gateway never retries; queuing failed writes is the sync coordinator's
// job.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds every request when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 8 << 20

// Config configures a Gateway.
type Config struct {
	// BaseURL is the API origin, e.g. http://localhost:1337.
	BaseURL string

	// Timeout bounds each request, including reading the body.
	Timeout time.Duration

	// Client overrides the HTTP client. Its Timeout is left untouched.
	Client *http.Client

	// Logger for request tracing. Defaults to stderr with a [gateway] prefix.
	Logger *log.Logger
}

// Gateway issues requests to the remote API.
type Gateway struct {
	client    *http.Client
	endpoints *Endpoints
	logger    *log.Logger
}

// New creates a Gateway for cfg.
func New(cfg Config) (*Gateway, error) {
	endpoints, err := NewEndpoints(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[gateway] ", log.LstdFlags)
	}

	return &Gateway{client: client, endpoints: endpoints, logger: logger}, nil
}

// Endpoints returns the URL builder for the configured API origin.
func (g *Gateway) Endpoints() *Endpoints {
	return g.endpoints
}

// RequestOption adjusts an outgoing request.
type RequestOption func(*http.Request)

// WithIdempotencyKey sets the Idempotency-Key header so the server can
// recognize a replayed write.
func WithIdempotencyKey(key string) RequestOption {
	return func(req *http.Request) {
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header.
func WithHeader(name, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(name, value)
	}
}

// Request sends one request and returns the JSON body of a 2xx response.
// An empty 2xx body returns nil. body may be nil.
func (g *Gateway) Request(ctx context.Context, method, url string, body []byte, opts ...RequestOption) (json.RawMessage, error) {
	reply, err := g.roundTrip(ctx, method, url, body, opts)
	if err != nil {
		return nil, err
	}

	if reply.Status < 200 || reply.Status >= 300 {
		return nil, &GatewayError{
			Method:     method,
			URL:        url,
			Status:     reply.Status,
			StatusText: reply.StatusText,
		}
	}

	data := bytes.TrimSpace(reply.Body)
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %s: response is not valid JSON", method, url)
	}
	return json.RawMessage(data), nil
}

// Reply is an upstream answer as received.
type Reply struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
}

// Forward sends one request and returns the reply whatever its status,
// for relaying it unchanged. Only a missing reply is an error, a
// *GatewayError with Transport set.
func (g *Gateway) Forward(ctx context.Context, method, url string, body []byte, opts ...RequestOption) (*Reply, error) {
	return g.roundTrip(ctx, method, url, body, opts)
}

func (g *Gateway) roundTrip(ctx context.Context, method, url string, body []byte, opts []RequestOption) (*Reply, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	for _, opt := range opts {
		opt(req)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Printf("%s %s: transport failure after %v: %v", method, url, time.Since(start), err)
		return nil, &GatewayError{Method: method, URL: url, Transport: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &GatewayError{Method: method, URL: url, Transport: true, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Printf("%s %s: %s", method, url, resp.Status)
	}

	return &Reply{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Get is shorthand for a GET request.
func (g *Gateway) Get(ctx context.Context, url string) (json.RawMessage, error) {
	return g.Request(ctx, http.MethodGet, url, nil)
}

func statusText(resp *http.Response) string {
	// resp.Status is "404 Not Found"; keep only the reason phrase.
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
