package server

import (
	"errors"
	"net/http"
	"net/http/httputil"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/classify"
	"github.com/hyperjump/nestelia/internal/models"
	"github.com/hyperjump/nestelia/internal/offline"
)

func (s *Server) newReverseProxy() *httputil.ReverseProxy {
	origin := s.manager.Origin()
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
			pr.Out.Host = origin.Host
		},
		// Flush immediately so event streams reach the client as they arrive.
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Warn("Upstream request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			s.respondError(w, http.StatusBadGateway, "upstream unavailable")
		},
	}
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	req := classify.FromHTTP(r, s.manager.Origin())
	route := classify.Classify(req)
	if route.Bypassed() || !s.manager.Controlled() {
		s.bypass(w, r)
		return
	}

	resp, err := s.manager.Handle(r.Context(), offline.Request{
		URL:    req.URL.String(),
		Header: r.Header,
		Route:  route,
	})
	if errors.Is(err, offline.ErrNoActiveGeneration) {
		s.bypass(w, r)
		return
	}
	if err != nil {
		s.logger.Warn("Request failed with no cached fallback",
			zap.String("path", r.URL.Path),
			zap.String("strategy", route.Strategy.String()),
			zap.Error(err))
		s.respondError(w, http.StatusBadGateway, "upstream unavailable and no cached response")
		return
	}

	s.writeCached(w, resp)
	if s.trigger != nil {
		s.trigger.Observe(r.Context(), r.URL.Path, resp)
	}
}

func (s *Server) bypass(w http.ResponseWriter, r *http.Request) {
	s.manager.RecordBypass()
	w.Header().Set(CacheHeader, offline.SourceBypass)
	s.proxy.ServeHTTP(w, r)
}

func (s *Server) writeCached(w http.ResponseWriter, resp *models.CachedResponse) {
	h := w.Header()
	for name, values := range resp.Header {
		h[name] = append([]string(nil), values...)
	}
	h.Del("Content-Length")
	h.Set(CacheHeader, resp.Source)
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Debug("Client went away", zap.Error(err))
	}
}
