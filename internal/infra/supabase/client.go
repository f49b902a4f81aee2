// Package supabase provides a client for Supabase (GoTrue auth + PostgREST).
// It backs the per-client session store and the profiles table.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/resilience"
)

var tracer = otel.Tracer("supabase")

const (
	serviceAuth = "supabase/auth"
	serviceRest = "supabase/rest"
)

// Options configures the project the client talks to.
type Options struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
	// JWTSecret enables signature checks on stored access tokens.
	JWTSecret string
}

// Client wraps HTTP calls to the Supabase Auth and PostgREST APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	jwtSecret      []byte
	cb             *gobreaker.CircuitBreaker
	bulkhead       *resilience.Bulkhead
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, opts Options, cb *gobreaker.CircuitBreaker, bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger) *Client {
	c := &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(opts.URL, "/"),
		apiKey:         opts.AnonKey,
		serviceRoleKey: opts.ServiceRoleKey,
		cb:             cb,
		bulkhead:       bulkhead,
		metrics:        metrics,
		logger:         logger,
	}
	if opts.JWTSecret != "" {
		c.jwtSecret = []byte(opts.JWTSecret)
	}
	return c
}

// Configured reports whether the project URL and public key are set.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// ProjectRef is the first label of the project host, e.g. "abcd" for
// https://abcd.supabase.co.
func (c *Client) ProjectRef() string {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Hostname() == "" {
		return "local"
	}
	return strings.Split(u.Hostname(), ".")[0]
}

// StorageKey is the key under which a client's session is persisted.
func (c *Client) StorageKey() string {
	return "sb-" + c.ProjectRef() + "-auth-token"
}

// request describes one call against the project.
type request struct {
	method  string
	path    string // relative to baseURL, including query
	bearer  string // defaults to the project key
	body    any
	headers map[string]string
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool { return r.status >= 200 && r.status < 300 }

// send executes a single HTTP round-trip. It does not interpret the status.
func (c *Client) send(ctx context.Context, req request) (*response, error) {
	var payload io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("encode request: %w", err))
		}
		payload = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, payload)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, resilience.Permanent(err)
	}

	bearer := req.bearer
	if bearer == "" {
		bearer = c.apiKey
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	if c.bulkhead != nil {
		if err := c.bulkhead.Acquire(ctx); err != nil {
			return nil, err
		}
		defer c.bulkhead.Release()
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 512)),
		)
	} else {
		c.logger.Debug("supabase: request OK",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("status", resp.StatusCode),
		)
	}

	return &response{status: resp.StatusCode, body: body}, nil
}

// execute runs req through the circuit breaker and hands the response to
// handle. handle returns resilience.Permanent errors for answers that should
// not count against the breaker (4xx).
func (c *Client) execute(ctx context.Context, service string, req request, handle func(*response) error) error {
	if !c.Configured() {
		return domain.ErrNotConfigured
	}

	_, err := c.cb.Execute(func() (any, error) {
		resp, err := c.send(ctx, req)
		if err != nil {
			return nil, err
		}
		return nil, handle(resp)
	})
	return c.classify(ctx, service, err)
}

// classify maps transport and breaker failures onto domain errors. Permanent
// errors already carry a domain error and pass through.
func (c *Client) classify(ctx context.Context, service string, err error) error {
	switch {
	case err == nil:
		return nil
	case resilience.IsPermanent(err):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.ErrCircuitOpen{Service: service}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.metrics.IncrExternalError(service)
		return &domain.ErrTimeout{Operation: service}
	case errors.Is(err, context.Canceled):
		return err
	}
	c.metrics.IncrExternalError(service)
	return &domain.ErrExternalService{Service: service, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
