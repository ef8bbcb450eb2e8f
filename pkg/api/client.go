// Package api is the request pipeline every backend call goes through, plus
// typed wrappers for each endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
)

// Client calls the backend. It is safe for concurrent use.
type Client struct {
	base     *url.URL
	http     *http.Client
	log      *slog.Logger
	fallback bool
}

type clientOptions struct {
	transport http.RoundTripper
	jar       http.CookieJar
	timeout   time.Duration
	tokens    TokenSource
	navigator Navigator
	tracing   bool
	fallback  bool
}

type Option func(*clientOptions)

// WithTransport sets the underlying transport, http.DefaultTransport otherwise.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.transport = rt }
}

// WithCookieJar sends and stores cookies through jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(o *clientOptions) { o.jar = jar }
}

// WithTimeout bounds each request. Zero, the default, waits indefinitely;
// callers can still cancel through the context.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithTokens attaches bearer tokens from src.
func WithTokens(src TokenSource) Option {
	return func(o *clientOptions) { o.tokens = src }
}

// WithNavigator receives the sign-in redirect after an expired session.
func WithNavigator(nav Navigator) Option {
	return func(o *clientOptions) { o.navigator = nav }
}

// WithTracing wraps the transport with OpenTelemetry instrumentation.
func WithTracing() Option {
	return func(o *clientOptions) { o.tracing = true }
}

// WithoutSampleFallback makes content feeds report failures instead of
// serving the bundled samples.
func WithoutSampleFallback() Option {
	return func(o *clientOptions) { o.fallback = false }
}

// New returns a Client for the backend at baseURL.
func New(logger *slog.Logger, baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	o := clientOptions{fallback: true}
	for _, opt := range opts {
		opt(&o)
	}

	logger = logutil.OrDiscard(logger)
	return &Client{
		base: base,
		http: &http.Client{
			Transport: NewTransport(logger, o.transport, o.tokens, o.navigator, o.tracing),
			Jar:       o.jar,
			Timeout:   o.timeout,
		},
		log:      logger,
		fallback: o.fallback,
	}, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) url(path string) string {
	u := *c.base
	u.Path = c.base.Path + path
	return u.String()
}

// do sends one logical request. body and out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	defer logutil.NewTimingLogger(c.log, time.Now(), "backend request", "method", method, "path", path)()
	ctx = WithRedirectGuard(ctx)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("backend unreachable", "method", method, "path", path, "err", err)
		return networkError(method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope contract.ErrorResponse
		_ = json.Unmarshal(raw, &envelope)
		apiErr := statusError(method, path, resp.StatusCode, envelope.Text())
		c.log.Debug("backend returned error", "method", method, "path", path, "status", resp.StatusCode, "message", apiErr.Message)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{
			Status:  resp.StatusCode,
			Kind:    KindServer,
			Method:  method,
			Path:    path,
			Message: "the server sent a response that could not be read",
			err:     err,
		}
	}
	return nil
}

// decodeList accepts a bare JSON array or an object wrapping one, such as
// {"data": [...]} or {"courses": [...]}.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	var items []T
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	for _, key := range []string{"data", "items", "results"} {
		if v, ok := wrapper[key]; ok {
			return decodeList[T](v)
		}
	}
	for _, v := range wrapper {
		if t := bytes.TrimSpace(v); len(t) > 0 && t[0] == '[' {
			return decodeList[T](v)
		}
	}
	return nil, errors.New("response holds no list")
}
