package offline

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/cachekey"
	"github.com/hyperjump/nestelia/internal/classify"
)

// Message types accepted by PostMessage.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageCacheURLs   = "CACHE_URLS"
)

// Message is a command sent to the manager by a client page.
type Message struct {
	Type string   `json:"type"`
	URLs []string `json:"urls,omitempty"`
}

// PostMessage dispatches msg. Work runs detached; unknown types are logged and ignored.
// It fails only when the manager is closed.
func (m *Manager) PostMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		ok := m.detach(ctx, func(ctx context.Context) {
			activated, err := m.SkipWaiting(ctx)
			if err != nil {
				m.logger.Warn("Skip waiting failed", zap.Error(err))
				return
			}
			if !activated {
				m.logger.Debug("Skip waiting ignored, no waiting generation")
			}
		})
		if !ok {
			return ErrClosed
		}
		return nil
	case MessageCacheURLs:
		err := m.Precache(ctx, msg.URLs)
		if err == ErrNoActiveGeneration {
			m.logger.Debug("Precache ignored while uncontrolled", zap.Int("urls", len(msg.URLs)))
			return nil
		}
		return err
	default:
		m.logger.Debug("Ignoring unknown message", zap.String("type", msg.Type))
		return nil
	}
}

// Precache fetches every URL in the background and stores 200 responses in the active
// generation's wiki-content partition. Each URL succeeds or fails on its own; failures
// are logged and counted, never returned.
func (m *Manager) Precache(ctx context.Context, urls []string) error {
	if !m.Controlled() {
		return ErrNoActiveGeneration
	}
	for _, ref := range urls {
		abs, err := cachekey.Resolve(m.origin, ref)
		if err != nil {
			m.stats.precacheFailures.Add(1)
			m.logger.Warn("Skipping invalid precache url", zap.String("url", ref), zap.Error(err))
			continue
		}
		if !m.detach(ctx, func(ctx context.Context) { m.precacheOne(ctx, abs) }) {
			return ErrClosed
		}
	}
	return nil
}

func (m *Manager) precacheOne(ctx context.Context, abs string) {
	resp, err := m.fetch(ctx, FetchRequest{URL: abs})
	if err != nil {
		m.stats.precacheFailures.Add(1)
		m.logger.Warn("Precache failed", zap.String("url", abs), zap.Error(err))
		return
	}
	if !resp.OK() {
		m.stats.precacheFailures.Add(1)
		m.logger.Warn("Precache skipped non-OK response", zap.String("url", abs), zap.Int("status", resp.Status))
		return
	}
	gen, ok := m.Active()
	if !ok {
		return
	}
	m.put(ctx, gen.Name(classify.WikiContent), cachekey.Key(http.MethodGet, abs), resp)
	m.stats.precached.Add(1)
	m.logger.Debug("Precached", zap.String("url", abs))
}
