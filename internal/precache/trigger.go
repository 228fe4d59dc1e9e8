// Package precache turns loaded wiki entries into CACHE_URLS messages so the entries
// stay readable offline.
package precache

import (
	"context"
	"encoding/json"
	"mime"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/models"
	"github.com/hyperjump/nestelia/internal/offline"
)

// Listing endpoints whose responses enumerate entries.
var listingPaths = []string{
	"/api/wikientry/get-entries-by-category",
	"/api/wiki/entries",
}

// Controller receives precache messages.
type Controller interface {
	PostMessage(ctx context.Context, msg offline.Message) error
	Controlled() bool
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithLogger sets the trigger's logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trigger) { t.logger = l }
}

// Trigger submits precache requests for entries the client has seen. Every call is
// fire-and-forget and does nothing while no generation controls requests.
type Trigger struct {
	ctrl   Controller
	logger *zap.Logger
}

// NewTrigger returns a trigger posting to ctrl.
func NewTrigger(ctrl Controller, opts ...Option) *Trigger {
	t := &Trigger{ctrl: ctrl, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ListingURLs returns the URLs cached when a list of entries is loaded.
func ListingURLs(ids []string) []string {
	urls := make([]string, 0, len(ids)+2)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		urls = append(urls, "/wiki/"+url.PathEscape(id))
	}
	return append(urls, "/api/wiki/entries", "/api/categories")
}

// EntryURLs returns the URLs cached when a single entry is opened.
func EntryURLs(id string) []string {
	escaped := url.PathEscape(id)
	return []string{"/wiki/" + escaped, "/api/wiki/entries/" + escaped}
}

// EntriesLoaded precaches the pages of ids plus the listing endpoints. An empty list does nothing.
func (t *Trigger) EntriesLoaded(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	t.post(ctx, ListingURLs(ids))
}

// EntryOpened precaches one entry's page and API resource. An empty id does nothing.
func (t *Trigger) EntryOpened(ctx context.Context, id string) {
	if id == "" {
		return
	}
	t.post(ctx, EntryURLs(id))
}

func (t *Trigger) post(ctx context.Context, urls []string) {
	if !t.ctrl.Controlled() {
		return
	}
	if err := t.ctrl.PostMessage(ctx, offline.Message{Type: offline.MessageCacheURLs, URLs: urls}); err != nil {
		t.logger.Debug("Precache request dropped", zap.Int("urls", len(urls)), zap.Error(err))
		return
	}
	t.logger.Debug("Precache requested", zap.Int("urls", len(urls)))
}

// Observe inspects a response served to a client. Entry listings trigger EntriesLoaded
// and navigations to /wiki/{id} trigger EntryOpened.
func (t *Trigger) Observe(ctx context.Context, path string, resp *models.CachedResponse) {
	if !resp.OK() {
		return
	}
	path = strings.TrimSuffix(path, "/")

	if id, ok := wikiPageID(path); ok {
		t.EntryOpened(ctx, id)
		return
	}
	if !isListing(path) {
		return
	}
	mediaType, _, _ := mime.ParseMediaType(resp.ContentType())
	if mediaType != "application/json" {
		return
	}
	ids, ok := ListedIDs(resp.Body)
	if !ok {
		return
	}
	t.EntriesLoaded(ctx, ids)
}

// ListedIDs extracts the ids of an envelope whose data is a list of entries.
func ListedIDs(body []byte) ([]string, bool) {
	var env models.Envelope[[]struct {
		ID models.EntryID `json:"id"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}
	ids := make([]string, 0, len(env.Data))
	for _, e := range env.Data {
		if e.ID != "" {
			ids = append(ids, e.ID.String())
		}
	}
	return ids, true
}

func isListing(path string) bool {
	for _, p := range listingPaths {
		if path == p {
			return true
		}
	}
	return false
}

// wikiPageID returns id for paths of the form /wiki/{id}.
func wikiPageID(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/wiki/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	id, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return id, true
}
