package offline

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/nestelia/internal/cachekey"
	"github.com/hyperjump/nestelia/internal/classify"
	"github.com/hyperjump/nestelia/internal/models"
)

type hookRecorder struct {
	mu        sync.Mutex
	success   []Registration
	updates   []Registration
	activated []string
	online    int
	offline   int
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnSuccess:  func(r Registration) { h.mu.Lock(); h.success = append(h.success, r); h.mu.Unlock() },
		OnUpdate:   func(r Registration) { h.mu.Lock(); h.updates = append(h.updates, r); h.mu.Unlock() },
		OnOnline:   func() { h.mu.Lock(); h.online++; h.mu.Unlock() },
		OnOffline:  func() { h.mu.Lock(); h.offline++; h.mu.Unlock() },
		OnActivate: func(r Registration) { h.mu.Lock(); h.activated = append(h.activated, r.Active); h.mu.Unlock() },
	}
}

func TestRegister_FirstInstallActivates(t *testing.T) {
	rec := &hookRecorder{}
	m, store := newTestManager(t, newFakeOrigin(), WithHooks(rec.hooks()))
	ctx := context.Background()

	reg, err := m.Register(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, Registration{Active: "v1", State: StateActive}, reg)
	require.Len(t, rec.success, 1)
	assert.Empty(t, rec.updates)
	assert.Equal(t, []string{"v1"}, rec.activated)

	keys, err := store.Keys(ctx, "nestelia-v1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		cachekey.Key("GET", testOrigin+"/"),
		cachekey.Key("GET", testOrigin+"/index.html"),
		cachekey.Key("GET", testOrigin+"/manifest.json"),
	}, keys)

	names, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"nestelia-v1", "nestelia-runtime-v1", "nestelia-wiki-v1", "nestelia-images-v1"}, names)
}

func TestRegister_SameVersionIsNoop(t *testing.T) {
	origin := newFakeOrigin()
	m, _ := registered(t, origin)

	reg, err := m.Register(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", reg.Active)
	assert.Equal(t, 1, origin.count("/index.html"))
}

func TestRegister_InstallIsAllOrNothing(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/manifest.json", http.StatusNotFound, "")
	m, store := newTestManager(t, origin)
	ctx := context.Background()

	_, err := m.Register(ctx, "v1")
	require.Error(t, err)
	assert.False(t, m.Controlled())
	assert.Equal(t, StateUncontrolled, m.Registration().State)

	names, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRegister_UpdateWaitsThenSkipWaiting(t *testing.T) {
	rec := &hookRecorder{}
	origin := newFakeOrigin()
	m, store := newTestManager(t, origin, WithHooks(rec.hooks()))
	ctx := context.Background()

	_, err := m.Register(ctx, "v1")
	require.NoError(t, err)

	reg, err := m.Register(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, Registration{Active: "v1", Waiting: "v2", State: StateWaiting}, reg)
	require.Len(t, rec.updates, 1)
	assert.Equal(t, "v2", rec.updates[0].Waiting)

	gen, _ := m.Active()
	assert.Equal(t, "v1", gen.Version)

	require.NoError(t, m.PostMessage(ctx, Message{Type: MessageSkipWaiting}))
	m.Wait()

	assert.Equal(t, Registration{Active: "v2", State: StateActive}, m.Registration())
	assert.Equal(t, []string{"v1", "v2"}, rec.activated)
	names, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"nestelia-v2", "nestelia-runtime-v2", "nestelia-wiki-v2", "nestelia-images-v2"}, names)
}

func TestRegister_SkipWaitingOption(t *testing.T) {
	rec := &hookRecorder{}
	m, _ := newTestManager(t, newFakeOrigin(), WithHooks(rec.hooks()), WithSkipWaiting(true))
	ctx := context.Background()

	_, err := m.Register(ctx, "v1")
	require.NoError(t, err)
	reg, err := m.Register(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, Registration{Active: "v2", State: StateActive}, reg)
	assert.Len(t, rec.success, 1)
	assert.Len(t, rec.updates, 1)
}

func TestSkipWaiting_NoWaitingGeneration(t *testing.T) {
	m, _ := registered(t, newFakeOrigin())
	activated, err := m.SkipWaiting(context.Background())
	require.NoError(t, err)
	assert.False(t, activated)
	assert.Equal(t, "v1", m.Registration().Active)
}

func TestActivate_DeletesExactlyNonCurrentPartitions(t *testing.T) {
	m, store := newTestManager(t, newFakeOrigin())
	ctx := context.Background()
	old := &models.CachedResponse{Status: 200, Body: []byte("old")}
	for _, name := range []string{"nestelia-v0", "nestelia-wiki-v0", "nestelia-images-v0", "unrelated-cache"} {
		require.NoError(t, store.Put(ctx, name, "GET https://x/", old))
	}
	require.NoError(t, store.Put(ctx, "nestelia-wiki-v1", "GET https://x/kept", old))

	_, err := m.Register(ctx, "v1")
	require.NoError(t, err)

	names, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"nestelia-v1", "nestelia-runtime-v1", "nestelia-wiki-v1", "nestelia-images-v1"}, names)
	_, err = store.Match(ctx, "nestelia-wiki-v1", "GET https://x/kept")
	assert.NoError(t, err)
}

func TestRegister_RestoresPersistedGeneration(t *testing.T) {
	origin := newFakeOrigin()
	m, store := registered(t, origin)
	require.NoError(t, m.Close())

	restarted := NewManager(store, origin, m.Origin(), "nestelia")
	defer restarted.Close()
	reg, err := restarted.Register(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", reg.Active)
	assert.Equal(t, 1, origin.count("/index.html"))
}

func TestPrecache_ToleratesFailingURL(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/wiki/1", http.StatusOK, "one")
	origin.set("/wiki/3", http.StatusOK, "three")
	origin.breakPath("/wiki/2")
	m, store := registered(t, origin)
	ctx := context.Background()

	require.NoError(t, m.Precache(ctx, []string{"/wiki/1", "/wiki/2", testOrigin + "/wiki/3", "/wiki/404"}))
	m.Wait()

	for path, body := range map[string]string{"/wiki/1": "one", "/wiki/3": "three"} {
		got, err := store.Match(ctx, "nestelia-wiki-v1", cachekey.Key("GET", testOrigin+path))
		require.NoError(t, err, path)
		assert.Equal(t, body, string(got.Body))
	}
	_, err := store.Match(ctx, "nestelia-wiki-v1", cachekey.Key("GET", testOrigin+"/wiki/2"))
	assert.Error(t, err)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Precached)
	assert.Equal(t, int64(2), stats.PrecacheFailures)
}

func TestPrecache_Uncontrolled(t *testing.T) {
	m, _ := newTestManager(t, newFakeOrigin())
	assert.ErrorIs(t, m.Precache(context.Background(), []string{"/wiki/1"}), ErrNoActiveGeneration)
	assert.NoError(t, m.PostMessage(context.Background(), Message{Type: MessageCacheURLs, URLs: []string{"/wiki/1"}}))
}

func TestPostMessage(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/wiki/9", http.StatusOK, "nine")
	m, store := registered(t, origin)
	ctx := context.Background()

	require.NoError(t, m.PostMessage(ctx, Message{Type: MessageCacheURLs, URLs: []string{"/wiki/9"}}))
	require.NoError(t, m.PostMessage(ctx, Message{Type: "CLAIM_EVERYTHING"}))
	m.Wait()

	_, err := store.Match(ctx, "nestelia-wiki-v1", cachekey.Key("GET", testOrigin+"/wiki/9"))
	assert.NoError(t, err)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.PostMessage(ctx, Message{Type: MessageSkipWaiting}), ErrClosed)
}

func TestDetachedWorkOutlivesRequestContext(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/wiki/5", http.StatusOK, "five")
	m, store := registered(t, origin)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Precache(ctx, []string{"/wiki/5"}))
	cancel()
	m.Wait()

	_, err := store.Match(context.Background(), "nestelia-wiki-v1", cachekey.Key("GET", testOrigin+"/wiki/5"))
	assert.NoError(t, err)
}

func TestSetOnline_HooksAndRetry(t *testing.T) {
	rec := &hookRecorder{}
	origin := newFakeOrigin()
	origin.setDown(true)
	m, _ := newTestManager(t, origin, WithHooks(rec.hooks()))
	ctx := context.Background()

	_, err := m.Register(ctx, "v1")
	require.Error(t, err)
	assert.False(t, m.Online())
	assert.Equal(t, 1, rec.offline)

	origin.setDown(false)
	m.SetOnline(ctx, true)
	m.Wait()

	assert.True(t, m.Online())
	assert.Equal(t, 1, rec.online)
	assert.True(t, m.Controlled())
	require.Len(t, rec.success, 1)

	m.SetOnline(ctx, true)
	assert.Equal(t, 1, rec.online)
}

func TestOnStoreObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	origin := newFakeOrigin()
	origin.set("/api/wiki/entries/3", http.StatusOK, `{"data":{"id":"3"}}`)
	m, _ := registered(t, origin, WithOnStore(func(_ context.Context, partition, key string, _ *models.CachedResponse) {
		mu.Lock()
		seen = append(seen, partition+" "+key)
		mu.Unlock()
	}))

	_, err := m.Handle(context.Background(), Request{
		URL:   testOrigin + "/api/wiki/entries/3",
		Route: classify.Route{Partition: classify.WikiContent, Strategy: classify.NetworkFirst},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "nestelia-wiki-v1 GET "+testOrigin+"/api/wiki/entries/3")
}
