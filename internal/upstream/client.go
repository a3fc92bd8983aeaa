// Package upstream is the shared HTTP client for the external services the
// portal talks to: the HS settings backend, the repair portal, Nova Poshta
// and the TurboSMS gateway. Each service gets its own client with a circuit
// breaker, retry policy, authentication and trace propagation.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/model"
)

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 10 << 20

// Recorder receives per-call metrics. *observability.Metrics satisfies it.
type Recorder interface {
	RecordBackendRequest(serviceID, operation string, status int, duration time.Duration)
	RecordBackendRetry(serviceID string)
	SetBackendCircuitBreakerState(serviceID string, state float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendRequest(string, string, int, time.Duration) {}
func (nopRecorder) RecordBackendRetry(string)                               {}
func (nopRecorder) SetBackendCircuitBreakerState(string, float64)           {}

// Request describes one upstream call. Path is joined to the service base
// URL; an empty Path targets the base URL itself.
type Request struct {
	// Operation labels metrics and spans. Defaults to Method.
	Operation string
	Method    string
	Path      string
	Query     url.Values
	// Body is JSON-encoded unless RawBody is set.
	Body        any
	RawBody     []byte
	ContentType string
	Header      http.Header
}

// Response is a successful (2xx) upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into out.
func (r *Response) DecodeJSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("upstream: decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Service    string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: unexpected status %d", e.Service, e.StatusCode)
}

// Client calls a single upstream service.
type Client struct {
	id       string
	cfg      config.ServiceConfig
	http     *http.Client
	breaker  *Breaker
	recorder Recorder
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the service identified by id.
func New(id string, cfg config.ServiceConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		id:  id,
		cfg: cfg,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker:  NewBreaker(cfg.CircuitBreaker),
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("service_id", id))
	return c
}

// ServiceID returns the configured service identifier.
func (c *Client) ServiceID() string { return c.id }

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() BreakerState { return c.breaker.State() }

// HasCredentials reports whether the configured auth strategy has a secret
// available in the environment.
func (c *Client) HasCredentials() bool {
	switch c.cfg.Auth.Strategy {
	case "basic":
		return c.cfg.Auth.Username != ""
	case "bearer":
		return config.Secret(c.cfg.Auth.TokenEnv) != ""
	default:
		return true
	}
}

// DoJSON performs req and decodes a successful body into out. A nil out
// discards the body.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.DecodeJSON(out)
}

// Do performs req with circuit breaker and retry protection. Non-2xx replies
// return *StatusError; an open breaker or unreachable host returns a
// BACKEND_UNAVAILABLE envelope and a deadline returns BACKEND_TIMEOUT.
func (c *Client) Do(ctx context.Context, req Request) (resp *Response, err error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Operation == "" {
		req.Operation = req.Method
	}

	ctx, span := observability.StartSpan(ctx, "upstream."+c.id,
		observability.AttrServiceID.String(c.id),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}
	target, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	return c.executeWithRetry(ctx, req, target, body, contentType)
}

func (c *Client) executeWithRetry(ctx context.Context, req Request, target string, body []byte, contentType string) (*Response, error) {
	retryCfg := c.cfg.Retry
	maxAttempts := retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(req.Method) || !retryCfg.IdempotentOnly

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.recorder.RecordBackendRetry(c.id)
			select {
			case <-ctx.Done():
				return nil, model.NewBackendTimeoutError()
			case <-time.After(calculateBackoff(retryCfg, attempt)):
			}
		}

		resp, err := c.executeOnce(ctx, req, target, body, contentType)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !canRetry || !isRetryable(err) {
			return nil, err
		}
		c.logger.Debug("upstream: retrying",
			zap.String("operation", req.Operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxAttempts),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

func (c *Client) executeOnce(ctx context.Context, req Request, target string, body []byte, contentType string) (*Response, error) {
	defer func() {
		c.recorder.SetBackendCircuitBreakerState(c.id, c.breaker.State().GaugeValue())
	}()

	if err := c.breaker.Allow(); err != nil {
		c.logger.Warn("upstream: circuit open, rejecting call", zap.String("operation", req.Operation))
		return nil, model.NewBackendUnavailableError().WithCause(err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: build request: %w", c.id, err)
	}
	c.applyHeaders(ctx, httpReq, req, contentType)

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		c.recorder.RecordBackendRequest(c.id, req.Operation, 0, time.Since(start))
		c.logger.Warn("upstream: request failed", zap.String("operation", req.Operation), zap.Error(err))
		return nil, classifyTransportError(ctx, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	c.recorder.RecordBackendRequest(c.id, req.Operation, httpResp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("upstream %s: read response: %w", c.id, err)
	}

	switch {
	case httpResp.StatusCode >= 500:
		c.breaker.RecordFailure()
	case httpResp.StatusCode < 400:
		c.breaker.RecordSuccess()
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{Service: c.id, StatusCode: httpResp.StatusCode, Body: respBody}
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

func (c *Client) applyHeaders(ctx context.Context, httpReq *http.Request, req Request, contentType string) {
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(sanitizeHeader(k), sanitizeHeader(v))
		}
	}

	switch c.cfg.Auth.Strategy {
	case "basic":
		httpReq.SetBasicAuth(c.cfg.Auth.Username, config.Secret(c.cfg.Auth.PasswordEnv))
	case "bearer":
		if token := config.Secret(c.cfg.Auth.TokenEnv); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+sanitizeHeader(token))
		}
	}

	observability.InjectTraceHeaders(ctx, httpReq.Header)
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	target := c.cfg.BaseURL
	if path != "" {
		target = strings.TrimRight(target, "/") + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("upstream %s: invalid url %q: %w", c.id, target, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(req Request) ([]byte, string, error) {
	contentType := req.ContentType
	switch {
	case req.RawBody != nil:
		return req.RawBody, contentType, nil
	case req.Body != nil:
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", fmt.Errorf("upstream: marshal body: %w", err)
		}
		if contentType == "" {
			contentType = "application/json"
		}
		return b, contentType, nil
	default:
		return nil, contentType, nil
	}
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return model.NewBackendTimeoutError().WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewBackendTimeoutError().WithCause(err)
	}
	if isConnectionError(err) {
		return model.NewBackendUnavailableError().WithCause(err)
	}
	return fmt.Errorf("upstream: request failed: %w", err)
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryable reports whether a failed attempt may be repeated. An open
// breaker and a cancelled context end the loop.
func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return isRetryableStatus(se.StatusCode)
	}
	if env, ok := model.AsEnvelope(err); ok {
		return env.Code == model.ErrBackendUnavailable && !errors.Is(err, ErrBreakerOpen)
	}
	return true
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}
