// Package models defines core data structures shared by the cache, the proxy and the clients.
package models

import (
	"net/http"
	"time"
)

// CachedResponse is a captured HTTP response stored in a cache partition.
// Entries are immutable once written; a later write for the same key replaces it.
type CachedResponse struct {
	Status     int         `json:"status"`
	StatusText string      `json:"status_text,omitempty"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	StoredAt   time.Time   `json:"stored_at"`
	// Source records where the value came from for the current request (cache, network, fallback).
	// It is never persisted.
	Source string `json:"-"`
}

// Clone returns a deep copy so callers can hand out responses without aliasing stored bytes.
func (r *CachedResponse) Clone() *CachedResponse {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

// OK reports whether the response has status 200, the only status that is ever cached.
func (r *CachedResponse) OK() bool {
	return r != nil && r.Status == http.StatusOK
}

// ContentType returns the response's Content-Type header.
func (r *CachedResponse) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}
