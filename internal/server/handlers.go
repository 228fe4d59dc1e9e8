package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/keyword"
	"github.com/hyperjump/nestelia/internal/offline"
	"github.com/hyperjump/nestelia/internal/storage"
)

// PartitionStatus is one partition in the status report.
type PartitionStatus struct {
	Name    string `json:"name"`
	Entries int64  `json:"entries"`
	Current bool   `json:"current"`
}

// StatusResponse is the body of GET /__nestelia/status.
type StatusResponse struct {
	Registration   offline.Registration  `json:"registration"`
	Online         bool                  `json:"online"`
	Partitions     []PartitionStatus     `json:"partitions"`
	Stats          offline.StatsSnapshot `json:"stats"`
	Backend        string                `json:"backend"`
	IndexedPages   uint64                `json:"indexed_pages,omitempty"`
	DiskUsageBytes int64                 `json:"disk_usage_bytes,omitempty"`
}

// SearchResponse is the body of GET /__nestelia/search.
type SearchResponse struct {
	Query      string            `json:"query"`
	Results    []*keyword.Result `json:"results"`
	Total      int               `json:"total"`
	Suggestion string            `json:"suggestion,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := s.manager.Store()
	names, err := store.Partitions(ctx)
	if err != nil {
		s.logger.Error("status: list partitions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	active, controlled := s.manager.Active()

	resp := StatusResponse{
		Registration: s.manager.Registration(),
		Online:       s.manager.Online(),
		Partitions:   make([]PartitionStatus, 0, len(names)),
		Stats:        s.manager.Stats(),
		Backend:      s.config.Cache.Backend,
	}
	for _, name := range names {
		n, err := store.CountEntries(ctx, name)
		if err != nil {
			s.logger.Error("status: count entries failed", zap.String("partition", name), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Partitions = append(resp.Partitions, PartitionStatus{
			Name:    name,
			Entries: n,
			Current: controlled && active.Owns(name),
		})
	}

	if s.index != nil {
		if n, err := s.index.DocCount(); err == nil {
			resp.IndexedPages = n
		}
	}
	var paths []string
	if s.config.Cache.Backend == "sqlite" {
		paths = append(paths, storage.SQLiteFiles(s.config.Cache.DatabasePath)...)
	}
	if s.config.Search.IndexPath != "" {
		paths = append(paths, s.config.Search.IndexPath)
	}
	if len(paths) > 0 {
		if n, err := storage.DiskUsageBytes(paths...); err == nil {
			resp.DiskUsageBytes = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg offline.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg.Type == "" {
		s.respondError(w, http.StatusBadRequest, "type is required")
		return
	}
	s.logger.Debug("message received", zap.String("type", msg.Type), zap.Int("urls", len(msg.URLs)))
	if err := s.manager.PostMessage(r.Context(), msg); err != nil {
		if errors.Is(err, offline.ErrClosed) {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "search not enabled")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := s.config.Search.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if s.config.Search.MaxLimit > 0 && limit > s.config.Search.MaxLimit {
		limit = s.config.Search.MaxLimit
	}
	fuzzy, _ := strconv.ParseBool(r.URL.Query().Get("fuzzy"))

	active, controlled := s.manager.Active()
	resp := SearchResponse{Query: q, Results: []*keyword.Result{}}
	if controlled {
		// Pages from retired generations may linger in the index until they are replaced.
		hits, err := s.index.Search(r.Context(), q, limit*3, &keyword.SearchOptions{TitleBoost: 2, FuzzyEnabled: fuzzy})
		if err != nil {
			s.logger.Error("search failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, h := range hits {
			if active.Owns(h.Partition) && len(resp.Results) < limit {
				resp.Results = append(resp.Results, h)
			}
		}
	}
	resp.Total = len(resp.Results)

	if resp.Total == 0 {
		if dict, ok := s.index.(keyword.TermDictionary); ok {
			if suggestion, err := keyword.NewSuggester(dict, 2, 1).Suggest(q); err == nil {
				resp.Suggestion = suggestion
			}
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
