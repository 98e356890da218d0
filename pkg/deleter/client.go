// Package deleter issues the destructive DELETE request for a daily-work
// entry and maps the server's answer onto typed errors.
package deleter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/glass-erp/deleteflow/pkg/api"
	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// Defaults.
const (
	DefaultPathTemplate = "/daily-works/%s"
	DefaultTimeout      = 15 * time.Second
)

// FallbackMessage is shown when the server gives no usable error message.
const FallbackMessage = "An unexpected error occurred. Please try again."

// ErrCancelled is returned when the caller aborted the request.
var ErrCancelled = errors.New("deleter: request cancelled")

// RequestError is a non-2xx answer from the server.
type RequestError struct {
	StatusCode int
	Message    string
	Problem    *api.ProblemDetail
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("deleter: server returned %d: %s", e.StatusCode, e.Message)
}

// FieldErrors returns per-field messages reported by the server, if any.
func (e *RequestError) FieldErrors() map[string]string {
	if e.Problem == nil {
		return nil
	}
	return e.Problem.Errors
}

// CSRFExpired reports whether the server rejected the anti-forgery token.
func (e *RequestError) CSRFExpired() bool {
	return e.StatusCode == api.StatusPageExpired
}

// NetworkError is a transport failure before any response was read.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "deleter: network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ErrInvalidPayload wraps local payload validation failures.
var ErrInvalidPayload = errors.New("deleter: invalid payload")

// PayloadError lists the payload fields rejected before sending.
type PayloadError struct {
	Fields map[string]string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: %d field(s)", ErrInvalidPayload, len(e.Fields))
}

func (e *PayloadError) Unwrap() error { return ErrInvalidPayload }

// Response is the decoded success body.
type Response struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	ID         string `json:"id"`
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	PathTemplate string
	Timeout      time.Duration
	CSRF         CSRFSource
	HTTPClient   *http.Client
	BearerToken  string
}

// Client sends deletion requests.
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client. The transport is wrapped with otelhttp.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("deleter: base url is required")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.PathTemplate == "" {
		opts.PathTemplate = DefaultPathTemplate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *hc
	wrapped.Transport = otelhttp.NewTransport(base)
	return &Client{
		opts:   opts,
		http:   &wrapped,
		logger: slog.Default().With("component", "deleter"),
	}, nil
}

// Timeout is the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.opts.Timeout
}

// URL returns the endpoint of entityID.
func (c *Client) URL(entityID string) string {
	return c.opts.BaseURL + fmt.Sprintf(c.opts.PathTemplate, entityID)
}

// Delete sends the payload. Cancelling ctx aborts the request and returns
// ErrCancelled; hitting the client timeout returns a *NetworkError.
func (c *Client) Delete(ctx context.Context, p contracts.DeletionPayload) (*Response, error) {
	if fields := p.Validate(); fields != nil {
		return nil, &PayloadError{Fields: fields}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("deleter: encode payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodDelete, c.URL(p.EntityID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deleter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(api.IdempotencyKeyHeader, p.SessionID)
	if c.opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.BearerToken)
	}
	if c.opts.CSRF != nil {
		token, err := c.opts.CSRF.Token(reqCtx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ErrCancelled
		case err != nil:
			c.logger.Warn("csrf token unavailable", "error", err)
		case token != "":
			req.Header.Set(api.CSRFHeader, token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := c.requestError(resp)
		if rerr.CSRFExpired() {
			if inv, ok := c.opts.CSRF.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		return nil, rerr
	}

	out := &Response{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, &NetworkError{Err: err}
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			c.logger.Debug("non-json success body", "status", resp.StatusCode)
		}
	}
	return out, nil
}

func (c *Client) requestError(resp *http.Response) *RequestError {
	e := &RequestError{StatusCode: resp.StatusCode, Message: FallbackMessage}
	if p := api.ReadProblem(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body); p != nil {
		e.Problem = p
		if msg := p.Message(); msg != "" {
			e.Message = msg
		}
	}
	return e
}
