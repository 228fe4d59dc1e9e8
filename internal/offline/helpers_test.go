package offline

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperjump/nestelia/internal/models"
	"github.com/hyperjump/nestelia/internal/storage"
)

const testOrigin = "https://wiki.example.org"

var errTransport = errors.New("connection refused")

// fakeOrigin answers fetches from a table keyed by absolute URL.
type fakeOrigin struct {
	mu     sync.Mutex
	pages  map[string]*models.CachedResponse
	down   bool
	broken map[string]bool
	calls  map[string]int
}

func newFakeOrigin() *fakeOrigin {
	o := &fakeOrigin{
		pages:  make(map[string]*models.CachedResponse),
		broken: make(map[string]bool),
		calls:  make(map[string]int),
	}
	for _, p := range DefaultBootstrap {
		o.set(p, http.StatusOK, "shell "+p)
	}
	return o
}

func (o *fakeOrigin) set(path string, status int, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages[testOrigin+path] = &models.CachedResponse{
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}

func (o *fakeOrigin) setDown(down bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.down = down
}

func (o *fakeOrigin) breakPath(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broken[testOrigin+path] = true
}

func (o *fakeOrigin) count(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[testOrigin+path]
}

func (o *fakeOrigin) Fetch(ctx context.Context, req FetchRequest) (*models.CachedResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[req.URL]++
	if o.down || o.broken[req.URL] {
		return nil, errTransport
	}
	if resp, ok := o.pages[req.URL]; ok {
		return resp.Clone(), nil
	}
	return &models.CachedResponse{Status: http.StatusNotFound, Body: []byte("not found")}, nil
}

func newTestManager(t *testing.T, fetcher Fetcher, opts ...ManagerOption) (*Manager, *storage.MemoryStorage) {
	t.Helper()
	origin, err := url.Parse(testOrigin)
	require.NoError(t, err)
	store := storage.NewMemoryStorage()
	m := NewManager(store, fetcher, origin, "nestelia", opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m, store
}

func registered(t *testing.T, fetcher Fetcher, opts ...ManagerOption) (*Manager, *storage.MemoryStorage) {
	t.Helper()
	m, store := newTestManager(t, fetcher, opts...)
	_, err := m.Register(context.Background(), "v1")
	require.NoError(t, err)
	require.True(t, m.Controlled())
	return m, store
}
