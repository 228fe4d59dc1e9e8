// Package server provides the caching proxy and its control API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/config"
	"github.com/hyperjump/nestelia/internal/keyword"
	"github.com/hyperjump/nestelia/internal/offline"
	"github.com/hyperjump/nestelia/internal/precache"
)

// CacheHeader reports how a proxied response was produced.
const CacheHeader = "X-Nestelia-Cache"

// Server fronts the content origin. Requests are classified and answered from the
// active cache generation where their route allows it.
type Server struct {
	manager *offline.Manager
	index   keyword.Index
	trigger *precache.Trigger
	config  *config.Config
	logger  *zap.Logger
	proxy   *httputil.ReverseProxy
	router  chi.Router
	server  *http.Server
}

// NewServer creates a server with the given dependencies. index and trigger may be nil,
// which disables search and precache-on-read.
func NewServer(
	manager *offline.Manager,
	index keyword.Index,
	trigger *precache.Trigger,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		manager: manager,
		index:   index,
		trigger: trigger,
		config:  cfg,
		logger:  logger,
	}
	s.proxy = s.newReverseProxy()
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Get("/health", s.handleHealth)
		r.Get("/__nestelia/status", s.handleStatus)
		r.Post("/__nestelia/messages", s.handleMessage)
		r.Get("/__nestelia/search", s.handleSearch)
	})

	// The proxy streams, so it runs without the timeout and compression middleware.
	r.HandleFunc("/*", s.handleProxy)
	return r
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server",
		zap.String("addr", addr),
		zap.String("origin", s.manager.Origin().String()))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
