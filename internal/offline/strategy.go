package offline

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/cachekey"
	"github.com/hyperjump/nestelia/internal/classify"
	"github.com/hyperjump/nestelia/internal/models"
	"github.com/hyperjump/nestelia/internal/storage"
)

// Response sources, reported to clients in the X-Nestelia-Cache header.
const (
	SourceCache    = "hit"
	SourceNetwork  = "network"
	SourceFallback = "fallback"
	SourceBypass   = "bypass"
)

// Request is a classified GET the manager serves.
type Request struct {
	// URL is absolute.
	URL    string
	Header http.Header
	Route  classify.Route
}

// Handle serves req through its route's strategy against the active generation.
// It returns ErrNoActiveGeneration while uncontrolled; callers then go to the network directly.
func (m *Manager) Handle(ctx context.Context, req Request) (*models.CachedResponse, error) {
	gen, ok := m.Active()
	if !ok {
		return nil, ErrNoActiveGeneration
	}
	partition := gen.Name(req.Route.Partition)

	switch req.Route.Strategy {
	case classify.CacheFirst:
		return m.CacheFirst(ctx, partition, req)
	case classify.NetworkFirst:
		return m.NetworkFirst(ctx, partition, req)
	case classify.StaleWhileRevalidate:
		return m.StaleWhileRevalidate(ctx, partition, req)
	default:
		m.RecordBypass()
		resp, err := m.fetch(ctx, FetchRequest{URL: req.URL, Header: req.Header})
		if err != nil {
			return nil, err
		}
		resp.Source = SourceBypass
		return resp, nil
	}
}

// RecordBypass counts a request that skipped the cache.
func (m *Manager) RecordBypass() {
	m.stats.bypassed.Add(1)
}

// cacheable reports whether a response to req may be written. A shared store never
// keeps responses fetched with one client's credentials.
func (m *Manager) cacheable(req Request) bool {
	if !m.sharedStore {
		return true
	}
	if req.Header.Get("Authorization") != "" || req.Header.Get("Cookie") != "" {
		m.stats.privateResponses.Add(1)
		return false
	}
	return true
}

// match looks up key, treating store failures as misses.
func (m *Manager) match(ctx context.Context, partition, key string) *models.CachedResponse {
	resp, err := m.store.Match(ctx, partition, key)
	if err == nil {
		return resp
	}
	if !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("Cache lookup failed", zap.String("partition", partition), zap.String("key", key), zap.Error(err))
	}
	return nil
}

// CacheFirst answers from the partition when possible. On a miss the network response
// is returned, and stored when its status is 200.
func (m *Manager) CacheFirst(ctx context.Context, partition string, req Request) (*models.CachedResponse, error) {
	key := cachekey.Key(http.MethodGet, req.URL)
	if cached := m.match(ctx, partition, key); cached != nil {
		m.stats.hits.Add(1)
		m.logger.Debug("Cache hit", zap.String("partition", partition), zap.String("url", req.URL))
		cached.Source = SourceCache
		return cached, nil
	}
	m.stats.misses.Add(1)
	m.logger.Debug("Cache miss", zap.String("partition", partition), zap.String("url", req.URL))

	resp, err := m.fetch(ctx, FetchRequest{URL: req.URL, Header: req.Header})
	if err != nil {
		return nil, err
	}
	if resp.OK() && m.cacheable(req) {
		m.put(ctx, partition, key, resp)
	}
	resp.Source = SourceNetwork
	return resp, nil
}

// NetworkFirst answers from the network, storing 200 responses. When the transport
// fails the cached entry is served; without one the transport error is returned.
func (m *Manager) NetworkFirst(ctx context.Context, partition string, req Request) (*models.CachedResponse, error) {
	key := cachekey.Key(http.MethodGet, req.URL)
	resp, err := m.fetch(ctx, FetchRequest{URL: req.URL, Header: req.Header})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if cached := m.match(ctx, partition, key); cached != nil {
			m.stats.fallbacks.Add(1)
			m.logger.Debug("Network failed, serving cached response",
				zap.String("partition", partition),
				zap.String("url", req.URL),
				zap.Error(err))
			cached.Source = SourceFallback
			return cached, nil
		}
		return nil, err
	}
	if resp.OK() && m.cacheable(req) {
		m.put(ctx, partition, key, resp)
	}
	resp.Source = SourceNetwork
	return resp, nil
}

type fetchResult struct {
	resp *models.CachedResponse
	err  error
}

// StaleWhileRevalidate answers from the partition immediately when possible while a
// detached fetch refreshes the entry. Without an entry it waits for that fetch.
func (m *Manager) StaleWhileRevalidate(ctx context.Context, partition string, req Request) (*models.CachedResponse, error) {
	key := cachekey.Key(http.MethodGet, req.URL)
	cached := m.match(ctx, partition, key)

	done := make(chan fetchResult, 1)
	revalidate := func(ctx context.Context) {
		m.stats.revalidations.Add(1)
		resp, err := m.fetch(ctx, FetchRequest{URL: req.URL, Header: req.Header})
		if err != nil {
			m.stats.revalidationFailures.Add(1)
			m.logger.Debug("Revalidation failed", zap.String("url", req.URL), zap.Error(err))
		} else if resp.OK() && m.cacheable(req) {
			m.put(ctx, partition, key, resp)
		}
		done <- fetchResult{resp: resp, err: err}
	}
	if !m.detach(ctx, revalidate) {
		if cached == nil {
			revalidate(ctx)
		}
	}

	if cached != nil {
		m.stats.hits.Add(1)
		cached.Source = SourceCache
		return cached, nil
	}
	m.stats.misses.Add(1)

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		r.resp.Source = SourceNetwork
		return r.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
