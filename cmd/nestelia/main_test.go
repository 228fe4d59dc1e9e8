package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/config"
	"github.com/hyperjump/nestelia/internal/offline"
	"github.com/hyperjump/nestelia/internal/server"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"lava flows", "--limit", "3"},
			expected: []string{"--limit", "3", "lava flows"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"--fuzzy", "lava flows"},
			expected: []string{"--fuzzy", "lava flows"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"lava flows"},
			expected: []string{"lava flows"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"/wiki/1", "/wiki/2", "--server", ""},
			expected: []string{"--server", "", "/wiki/1", "/wiki/2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, argsReorder(tt.args))
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"volcano"}, "volcano"},
		{"multiple words", []string{"how", "do", "I", "login"}, "how do I login"},
		{"single quoted phrase", []string{"how do I login"}, "how do I login"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, joinArgs(tt.args))
		})
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "cache:\n  version: v7\n")

	cfg, resolved, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, "v7", cfg.Cache.Version)
	assert.Equal(t, "nestelia", cfg.Cache.Prefix)
}

func TestLoadConfig_ExplicitPathMissing(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_PrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "cache:\n  prefix: portal\n")
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, "portal", cfg.Cache.Prefix)
}

func TestLoadConfig_DefaultsWhenNothingExists(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config is installed")
	}
	chdir(t, t.TempDir())

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Empty(t, resolved)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestWikiPartition(t *testing.T) {
	keep := wikiPartition("nestelia")
	assert.True(t, keep("nestelia-wiki-v1"))
	assert.True(t, keep("nestelia-wiki-v2"))
	assert.False(t, keep("nestelia-runtime-v1"))
	assert.False(t, keep("other-wiki-v1"))
}

func TestOpenStorage_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = "etcd"
	_, err := openStorage(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown cache backend")
}

func TestOpenStorage_SQLiteCreatesDataDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.DatabasePath = filepath.Join(t.TempDir(), "nested", "cache.db")

	store, err := openStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.DirExists(t, filepath.Dir(cfg.Cache.DatabasePath))
}

func newTestOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><title>Portal</title></html>"))
	}))
	t.Cleanup(origin.Close)
	return origin
}

func testConfig(t *testing.T, origin string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Upstream.Origin = origin
	cfg.Cache.Backend = "memory"
	cfg.Cache.Bootstrap = []string{"/"}
	cfg.Search.IndexPath = ""
	return cfg
}

func TestInitializeComponents_InvalidOrigin(t *testing.T) {
	cfg := testConfig(t, "not a url")
	_, err := initializeComponents(context.Background(), cfg, zap.NewNop(), false, offline.Hooks{})
	assert.ErrorContains(t, err, "invalid upstream origin")
}

func TestInitializeComponents_ActivationKeepsCallerHook(t *testing.T) {
	origin := newTestOrigin(t)
	var activated []string
	hooks := offline.Hooks{OnActivate: func(reg offline.Registration) { activated = append(activated, reg.Active) }}

	c, err := initializeComponents(context.Background(), testConfig(t, origin.URL), zap.NewNop(), false, hooks)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Manager.Register(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, activated)
	assert.True(t, c.Trigger != nil && c.Manager.Controlled())
}

func TestReloadGeneration(t *testing.T) {
	origin := newTestOrigin(t)
	ctx := context.Background()
	c, err := initializeComponents(ctx, testConfig(t, origin.URL), zap.NewNop(), false, offline.Hooks{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Manager.Register(ctx, "v1")
	require.NoError(t, err)

	path := writeConfig(t, t.TempDir(), "cache:\n  version: v2\n")
	reg, err := reloadGeneration(ctx, c.Manager, path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, offline.Registration{Active: "v1", Waiting: "v2", State: offline.StateWaiting}, reg)

	// Same version again is a no-op.
	reg, err = reloadGeneration(ctx, c.Manager, path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "v2", reg.Waiting)

	require.NoError(t, os.WriteFile(path, []byte("cache: ["), 0600))
	reg, err = reloadGeneration(ctx, c.Manager, path, zap.NewNop())
	assert.Error(t, err)
	assert.Equal(t, "v1", reg.Active)
}

func TestLocalStatus(t *testing.T) {
	origin := newTestOrigin(t)
	cfg := testConfig(t, origin.URL)
	cfg.Cache.Backend = "sqlite"
	cfg.Cache.DatabasePath = filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	status, err := localStatus(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, offline.StateUncontrolled, status.Registration.State)
	assert.Empty(t, status.Partitions)

	c, err := initializeComponents(ctx, cfg, zap.NewNop(), false, offline.Hooks{})
	require.NoError(t, err)
	_, err = c.Manager.Register(ctx, cfg.Cache.Version)
	require.NoError(t, err)
	c.Close()

	status, err = localStatus(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, offline.Registration{Active: "v1", State: offline.StateActive}, status.Registration)
	assert.Equal(t, "sqlite", status.Backend)
	assert.Positive(t, status.DiskUsageBytes)

	byName := map[string]server.PartitionStatus{}
	for _, p := range status.Partitions {
		byName[p.Name] = p
	}
	require.Contains(t, byName, "nestelia-v1")
	assert.Equal(t, int64(1), byName["nestelia-v1"].Entries)
	assert.True(t, byName["nestelia-v1"].Current)
}

func TestControlClient(t *testing.T) {
	origin := newTestOrigin(t)
	ctx := context.Background()
	cfg := testConfig(t, origin.URL)
	c, err := initializeComponents(ctx, cfg, zap.NewNop(), false, offline.Hooks{})
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Manager.Register(ctx, "v1")
	require.NoError(t, err)

	srv := server.NewServer(c.Manager, c.KeywordIndex, c.Trigger, cfg, zap.NewNop())
	proxy := httptest.NewServer(srv.Handler())
	defer proxy.Close()

	ctl := newControlClient(proxy.URL + "/")
	defer ctl.Close()

	status, err := ctl.status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", status.Registration.Active)
	assert.Equal(t, "memory", status.Backend)

	require.NoError(t, ctl.post(ctx, offline.Message{Type: offline.MessageCacheURLs, URLs: []string{"/wiki/1"}}))
	assert.ErrorContains(t, ctl.post(ctx, offline.Message{}), "400")

	res, err := ctl.search(ctx, "portal", 5, false)
	require.NoError(t, err)
	assert.Equal(t, "portal", res.Query)

	_, err = ctl.search(ctx, "", 0, false)
	assert.ErrorContains(t, err, "400")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
