package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"resty.dev/v3"

	"github.com/hyperjump/nestelia/internal/models"
)

// FetchRequest is a GET issued to the origin on behalf of a client.
type FetchRequest struct {
	URL    string
	Header http.Header
}

// Fetcher retrieves a response from the network. A non-nil error means the transport
// failed; any HTTP status, including errors, is returned as a response.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*models.CachedResponse, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req FetchRequest) (*models.CachedResponse, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) (*models.CachedResponse, error) {
	return f(ctx, req)
}

// Hop-by-hop headers apply to a single connection and are never forwarded or stored.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPFetcher fetches from the origin with resty. Bodies are read fully through resty's
// decompressing reader, so stored bodies carry no Content-Encoding.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher returns a fetcher whose requests time out after timeout (0 means none).
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: resty.NewWithClient(&http.Client{Timeout: timeout})}
}

// Fetch performs a GET of req.URL forwarding req.Header minus hop-by-hop and encoding headers.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) (*models.CachedResponse, error) {
	r := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	for name, values := range req.Header {
		for _, v := range values {
			r.Header.Add(name, v)
		}
	}
	for _, h := range hopHeaders {
		r.Header.Del(h)
	}
	// resty negotiates gzip and deflate itself and decodes them.
	r.Header.Del("Accept-Encoding")

	resp, err := r.Get(req.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL, err)
	}

	status := resp.StatusCode()
	header := resp.Header().Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Content-Length")

	return &models.CachedResponse{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     header,
		Body:       body,
		StoredAt:   time.Now(),
	}, nil
}
