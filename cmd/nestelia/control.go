package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/hyperjump/nestelia/internal/offline"
	"github.com/hyperjump/nestelia/internal/server"
)

// controlClient talks to a running proxy's /__nestelia endpoints.
type controlClient struct {
	client *resty.Client
	base   string
}

func newControlClient(base string) *controlClient {
	return &controlClient{
		client: resty.New().SetTimeout(30 * time.Second),
		base:   strings.TrimRight(base, "/"),
	}
}

// defaultServerURL is the proxy address the CLI talks to when --server is not given.
const defaultServerURL = "http://localhost:8080"

func (c *controlClient) Close() {
	_ = c.client.Close()
}

func (c *controlClient) status(ctx context.Context) (*server.StatusResponse, error) {
	var out server.StatusResponse
	if err := c.get(ctx, "/__nestelia/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *controlClient) search(ctx context.Context, q string, limit int, fuzzy bool) (*server.SearchResponse, error) {
	params := url.Values{"q": {q}, "fuzzy": {strconv.FormatBool(fuzzy)}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out server.SearchResponse
	if err := c.get(ctx, "/__nestelia/search", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *controlClient) post(ctx context.Context, msg offline.Message) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(c.base + "/__nestelia/messages")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *controlClient) get(ctx context.Context, path string, params url.Values, out any) error {
	r := c.client.R().
		SetContext(ctx).
		SetResult(out)
	if params != nil {
		r.SetQueryParamsFromValues(params)
	}
	resp, err := r.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
