// Package rest is the client for the wiki portal's REST backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/hyperjump/nestelia/internal/config"
	"github.com/hyperjump/nestelia/internal/models"
)

// RefreshPath is called once after a 401 to renew the session cookie.
const RefreshPath = "/auth/refresh"

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client sends JSON requests to the REST backend. Cookies set by the backend are kept
// in a jar and sent with every request.
type Client struct {
	client        *resty.Client
	baseURL       string
	timeout       time.Duration
	uploadTimeout time.Duration
	logger        *zap.Logger

	refreshMu sync.Mutex
}

// NewClient returns a client for the backend described by cfg.
func NewClient(cfg config.APIConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api base_url is required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	c := &Client{
		client:        resty.NewWithClient(&http.Client{Jar: jar}),
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		timeout:       cfg.Timeout,
		uploadTimeout: cfg.UploadTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.client.Close()
}

// Get sends a GET with query parameters and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, call{method: http.MethodGet, path: path, query: query, timeout: c.timeout}, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, call{method: http.MethodPost, path: path, body: body, timeout: c.timeout}, out)
}

// Put sends body as JSON and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, call{method: http.MethodPut, path: path, body: body, timeout: c.timeout}, out)
}

// Patch sends body as JSON and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, call{method: http.MethodPatch, path: path, body: body, timeout: c.timeout}, out)
}

// Delete sends a DELETE and decodes the response into out.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, call{method: http.MethodDelete, path: path, timeout: c.timeout}, out)
}

type call struct {
	method  string
	path    string
	query   url.Values
	body    any
	form    map[string]string
	files   []uploadFile
	timeout time.Duration
}

// do sends cl, refreshing the session and retrying once on 401.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	resp, err := c.send(ctx, cl, out)
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusUnauthorized && cl.path != RefreshPath {
		if err := c.refresh(ctx); err != nil {
			return err
		}
		c.logger.Debug("Session refreshed, retrying", zap.String("method", cl.method), zap.String("path", cl.path))
		if resp, err = c.send(ctx, cl, out); err != nil {
			return err
		}
	}
	return checkResponse(resp)
}

// send executes cl. resty encodes the JSON body, decodes 2xx JSON into out and 4xx/5xx
// JSON into an errorBody; the raw bytes stay readable for the envelope check.
func (c *Client) send(ctx context.Context, cl call, out any) (*resty.Response, error) {
	if cl.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cl.timeout)
		defer cancel()
	}

	r := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResponseBodyUnlimitedReads(true).
		SetError(&errorBody{})
	if out != nil {
		r.SetResult(out)
	}
	if cl.query != nil {
		r.SetQueryParamsFromValues(cl.query)
	}
	if cl.body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(cl.body)
	}
	if cl.files != nil {
		r.SetMultipartFormData(cl.form)
		for _, f := range cl.files {
			r.SetMultipartField(f.field, f.name, f.contentType, bytes.NewReader(f.data))
		}
	}

	resp, err := r.Execute(cl.method, c.baseURL+cl.path)
	if err != nil {
		if resp != nil && resp.StatusCode() != 0 && ctx.Err() == nil {
			return nil, fmt.Errorf("%s %s: failed to decode response: %w", cl.method, cl.path, err)
		}
		return nil, fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
	}
	return resp, nil
}

// refresh renews the session. Concurrent 401s share the lock so the backend sees
// refreshes one at a time.
func (c *Client) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	resp, err := c.send(ctx, call{method: http.MethodPost, path: RefreshPath, timeout: c.timeout}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if !resp.IsSuccess() {
		c.logger.Warn("Session refresh rejected", zap.Int("status", resp.StatusCode()))
		return fmt.Errorf("%w: %v", ErrSessionExpired, responseError(resp))
	}
	return nil
}

// checkResponse maps non-2xx responses and failure envelopes to APIError.
func checkResponse(resp *resty.Response) error {
	if !resp.IsSuccess() {
		return responseError(resp)
	}
	body := resp.Bytes()
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var status struct {
		IsFailure bool `json:"isFailure"`
	}
	if err := json.Unmarshal(body, &status); err == nil && status.IsFailure {
		return newAPIError(resp.StatusCode(), body)
	}
	return nil
}

// responseError builds the APIError for a non-2xx response, preferring the body resty
// decoded through SetError.
func responseError(resp *resty.Response) *APIError {
	if eb, ok := resp.Error().(*errorBody); ok && resp.IsError() && strings.Contains(resp.Header().Get("Content-Type"), "json") {
		return eb.apiError(resp.StatusCode(), "")
	}
	return newAPIError(resp.StatusCode(), resp.Bytes())
}

// GetEnvelope decodes a GET response into the backend's envelope around T.
func GetEnvelope[T any](ctx context.Context, c *Client, path string, query url.Values) (*models.Envelope[T], error) {
	var env models.Envelope[T]
	if err := c.Get(ctx, path, query, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
