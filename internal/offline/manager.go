// Package offline implements the offline cache manager: request strategies over
// versioned cache partitions, generation install and activation, precaching, and
// the message channel that drives them.
package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/cachekey"
	"github.com/hyperjump/nestelia/internal/classify"
	"github.com/hyperjump/nestelia/internal/models"
	"github.com/hyperjump/nestelia/internal/storage"
)

var (
	// ErrNoActiveGeneration is returned when no generation controls requests yet.
	ErrNoActiveGeneration = errors.New("no active cache generation")
	// ErrClosed is returned when work is submitted after Close.
	ErrClosed = errors.New("cache manager closed")
)

// DefaultBootstrap is the app-shell populated on install.
var DefaultBootstrap = []string{"/", "/index.html", "/manifest.json"}

// Hooks are lifecycle callbacks. Nil hooks are skipped.
type Hooks struct {
	OnSuccess func(Registration)
	OnUpdate  func(Registration)
	OnOnline  func()
	OnOffline func()

	// OnActivate fires whenever a generation starts governing requests, including restores.
	OnActivate func(Registration)
}

// StoreFunc observes every response written to a partition.
type StoreFunc func(ctx context.Context, partition, key string, resp *models.CachedResponse)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithHooks sets lifecycle callbacks.
func WithHooks(h Hooks) ManagerOption {
	return func(m *Manager) { m.hooks = h }
}

// WithBootstrap overrides the URLs cached on install. An empty list installs an empty app-shell.
func WithBootstrap(urls []string) ManagerOption {
	return func(m *Manager) { m.bootstrap = urls }
}

// WithSkipWaiting activates newly installed generations immediately.
func WithSkipWaiting(skip bool) ManagerOption {
	return func(m *Manager) { m.skipWaiting = skip }
}

// WithOnStore registers an observer for stored responses.
func WithOnStore(fn StoreFunc) ManagerOption {
	return func(m *Manager) { m.onStore = fn }
}

// WithSharedStore marks the store as shared between clients (e.g. redis behind several
// proxies). Responses to requests carrying Cookie or Authorization are then never stored.
func WithSharedStore(shared bool) ManagerOption {
	return func(m *Manager) { m.sharedStore = shared }
}

// Manager plays the service worker's role: it owns the cache generations and
// serves requests through the strategy chosen by classification.
type Manager struct {
	store       storage.Storage
	fetcher     Fetcher
	origin      *url.URL
	prefix      string
	bootstrap   []string
	skipWaiting bool
	sharedStore bool
	hooks       Hooks
	onStore     StoreFunc
	logger      *zap.Logger

	// lifecycle serializes Register, install and activation.
	lifecycle sync.Mutex
	// writes is held shared by put and exclusively by activate, so no put lands in a
	// partition activation has just deleted.
	writes sync.RWMutex

	mu      sync.RWMutex
	active  *Generation
	waiting *Generation
	pending string
	closed  bool
	wg      sync.WaitGroup

	online atomic.Int32
	stats  Stats
}

const (
	connUnknown int32 = iota
	connOnline
	connOffline
)

// NewManager creates a manager over store. Relative URLs resolve against origin;
// prefix names the partitions (e.g. "nestelia" gives "nestelia-wiki-v1").
func NewManager(store storage.Storage, fetcher Fetcher, origin *url.URL, prefix string, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		fetcher:   fetcher,
		origin:    origin,
		prefix:    prefix,
		bootstrap: DefaultBootstrap,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Origin returns the origin relative URLs resolve against.
func (m *Manager) Origin() *url.URL {
	return m.origin
}

// Stats returns a snapshot of the cache counters.
func (m *Manager) Stats() StatsSnapshot {
	return m.stats.Snapshot()
}

// Store returns the partition store.
func (m *Manager) Store() storage.Storage {
	return m.store
}

// Registration returns the current lifecycle snapshot.
func (m *Manager) Registration() Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registrationLocked()
}

func (m *Manager) registrationLocked() Registration {
	reg := Registration{State: StateUncontrolled}
	if m.active != nil {
		reg.Active = m.active.Version
		reg.State = StateActive
	}
	if m.waiting != nil {
		reg.Waiting = m.waiting.Version
		reg.State = StateWaiting
	}
	return reg
}

// Controlled reports whether a generation is active.
func (m *Manager) Controlled() bool {
	_, ok := m.Active()
	return ok
}

// Active returns the active generation.
func (m *Manager) Active() (Generation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return Generation{}, false
	}
	return *m.active, true
}

// Online reports the last known connectivity. Unknown counts as online.
func (m *Manager) Online() bool {
	return m.online.Load() != connOffline
}

// Register makes version the governing generation, installing it if needed.
// An already-active version is a no-op; a version whose partitions survived a restart
// is restored without refetching.
func (m *Manager) Register(ctx context.Context, version string) (Registration, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	m.pending = version
	if (m.active != nil && m.active.Version == version) || (m.waiting != nil && m.waiting.Version == version) {
		reg := m.registrationLocked()
		m.mu.Unlock()
		return reg, nil
	}
	noActive := m.active == nil
	m.mu.Unlock()

	gen := Generation{Prefix: m.prefix, Version: version}
	if noActive {
		restored, err := m.restore(ctx, gen)
		if err != nil {
			return m.Registration(), err
		}
		if restored {
			return m.Registration(), nil
		}
	}

	if err := m.install(ctx, gen); err != nil {
		return m.Registration(), err
	}
	return m.Registration(), nil
}

func (m *Manager) restore(ctx context.Context, gen Generation) (bool, error) {
	shell := gen.Name(classify.AppShell)
	ok, err := m.store.HasPartition(ctx, shell)
	if err != nil {
		return false, fmt.Errorf("check partition %s: %w", shell, err)
	}
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	m.active = &gen
	m.mu.Unlock()
	m.logger.Info("Restored cache generation", zap.String("version", gen.Version))
	m.notify(m.hooks.OnActivate, m.Registration())
	return true, nil
}

// install populates the app-shell partition all-or-nothing, then activates the
// generation or leaves it waiting.
func (m *Manager) install(ctx context.Context, gen Generation) error {
	entries := make(map[string]*models.CachedResponse, len(m.bootstrap))
	for _, ref := range m.bootstrap {
		abs, err := cachekey.Resolve(m.origin, ref)
		if err != nil {
			return fmt.Errorf("install %s: %w", gen.Version, err)
		}
		resp, err := m.fetch(ctx, FetchRequest{URL: abs})
		if err != nil {
			return fmt.Errorf("install %s: %w", gen.Version, err)
		}
		if !resp.OK() {
			return fmt.Errorf("install %s: %s returned status %d", gen.Version, abs, resp.Status)
		}
		entries[cachekey.Key(http.MethodGet, abs)] = storable(resp)
	}

	names := gen.Names()
	if err := m.store.PutAll(ctx, names[classify.AppShell], entries); err != nil {
		return fmt.Errorf("install %s: store app-shell: %w", gen.Version, err)
	}
	for _, name := range names[1:] {
		if err := m.store.OpenPartition(ctx, name); err != nil {
			return fmt.Errorf("install %s: open %s: %w", gen.Version, name, err)
		}
	}
	m.logger.Info("Installed cache generation",
		zap.String("version", gen.Version),
		zap.Int("bootstrap", len(entries)))

	m.mu.Lock()
	first := m.active == nil
	if !first && !m.skipWaiting {
		m.waiting = &gen
		reg := m.registrationLocked()
		m.mu.Unlock()
		m.logger.Info("Cache generation waiting", zap.String("version", gen.Version))
		m.notify(m.hooks.OnUpdate, reg)
		return nil
	}
	m.mu.Unlock()

	if err := m.activate(ctx, gen); err != nil {
		return err
	}
	if first {
		m.notify(m.hooks.OnSuccess, m.Registration())
	} else {
		m.notify(m.hooks.OnUpdate, m.Registration())
	}
	return nil
}

// activate deletes every partition the generation does not own, then claims all clients.
func (m *Manager) activate(ctx context.Context, gen Generation) error {
	m.writes.Lock()
	defer m.writes.Unlock()

	names, err := m.store.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("activate %s: list partitions: %w", gen.Version, err)
	}
	for _, name := range names {
		if gen.Owns(name) {
			continue
		}
		if _, err := m.store.DeletePartition(ctx, name); err != nil {
			m.logger.Warn("Failed to delete stale partition", zap.String("partition", name), zap.Error(err))
			continue
		}
		m.logger.Info("Deleted stale partition", zap.String("partition", name))
	}

	m.mu.Lock()
	m.active = &gen
	if m.waiting != nil && m.waiting.Version == gen.Version {
		m.waiting = nil
	}
	m.mu.Unlock()
	m.logger.Info("Activated cache generation", zap.String("version", gen.Version))
	m.notify(m.hooks.OnActivate, m.Registration())
	return nil
}

// SkipWaiting activates the waiting generation. It reports false when none is waiting.
func (m *Manager) SkipWaiting(ctx context.Context) (bool, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	waiting := m.waiting
	m.mu.RUnlock()
	if waiting == nil {
		return false, nil
	}
	if err := m.activate(ctx, *waiting); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) notify(hook func(Registration), reg Registration) {
	if hook != nil {
		hook(reg)
	}
}

// SetOnline records connectivity. Going offline fires OnOffline; coming back from
// offline fires OnOnline and, while uncontrolled, retries the last requested registration.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	state := connOffline
	if online {
		state = connOnline
	}
	prev := m.online.Swap(state)
	if prev == state {
		return
	}

	if !online {
		m.logger.Warn("Origin unreachable, serving from cache")
		if m.hooks.OnOffline != nil {
			m.hooks.OnOffline()
		}
		return
	}
	if prev != connOffline {
		return
	}

	m.logger.Info("Origin reachable again")
	if m.hooks.OnOnline != nil {
		m.hooks.OnOnline()
	}
	m.mu.RLock()
	retry := m.active == nil && m.pending != ""
	version := m.pending
	m.mu.RUnlock()
	if retry {
		m.detach(ctx, func(ctx context.Context) {
			if _, err := m.Register(ctx, version); err != nil {
				m.logger.Warn("Registration retry failed", zap.String("version", version), zap.Error(err))
			}
		})
	}
}

// fetch performs a network fetch and tracks connectivity from its outcome.
func (m *Manager) fetch(ctx context.Context, req FetchRequest) (*models.CachedResponse, error) {
	m.stats.networkFetches.Add(1)
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		m.stats.networkFailures.Add(1)
		if ctx.Err() == nil {
			m.SetOnline(ctx, false)
		}
		return nil, err
	}
	m.SetOnline(ctx, true)
	return resp, nil
}

// put stores resp and notifies the store observer. Failures are logged; caching is best effort.
// Writes for a partition the active generation no longer owns are dropped.
func (m *Manager) put(ctx context.Context, partition, key string, resp *models.CachedResponse) {
	stored := storable(resp)
	m.writes.RLock()
	if gen, ok := m.Active(); !ok || !gen.Owns(partition) {
		m.writes.RUnlock()
		m.stats.droppedWrites.Add(1)
		m.logger.Debug("Dropping write for retired partition", zap.String("partition", partition), zap.String("key", key))
		return
	}
	err := m.store.Put(ctx, partition, key, stored)
	m.writes.RUnlock()
	if err != nil {
		m.logger.Warn("Failed to store response",
			zap.String("partition", partition),
			zap.String("key", key),
			zap.Error(err))
		return
	}
	if m.onStore != nil {
		m.onStore(ctx, partition, key, stored)
	}
}

// storable returns the copy of resp that goes into a partition. Set-Cookie belongs to
// one client and is never replayed from the cache.
func storable(resp *models.CachedResponse) *models.CachedResponse {
	out := resp.Clone()
	out.Source = ""
	if out.Header != nil {
		out.Header.Del("Set-Cookie")
	}
	return out
}

// detach runs fn on a tracked goroutine with a context that outlives the trigger.
// It reports false when the manager is closed.
func (m *Manager) detach(ctx context.Context, fn func(ctx context.Context)) bool {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return false
	}
	m.wg.Add(1)
	m.mu.RUnlock()

	dctx := context.WithoutCancel(ctx)
	go func() {
		defer m.wg.Done()
		fn(dctx)
	}()
	return true
}

// Wait blocks until all detached work has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops accepting detached work and waits for running work.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}
