package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the JSON wrapper every REST endpoint of the content backend returns.
type Envelope[T any] struct {
	IsSuccess  bool           `json:"isSuccess,omitempty"`
	IsFailure  bool           `json:"isFailure,omitempty"`
	Message    string         `json:"message,omitempty"`
	Data       T              `json:"data,omitempty"`
	Error      *EnvelopeError `json:"error,omitempty"`
	Pagination *Pagination    `json:"pagination,omitempty"`
}

// EnvelopeError carries the server-side error message.
type EnvelopeError struct {
	Message string `json:"message"`
}

// Pagination describes a paged listing.
type Pagination struct {
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
	TotalPages  int `json:"totalPages"`
	TotalCount  int `json:"totalCount"`
}

// PaginationParams are the query parameters of a paged listing.
type PaginationParams struct {
	Page       int
	PageSize   int
	CategoryID string
	Search     string
}

// WikiEntry is the subset of a wiki entry the cache tooling needs.
type WikiEntry struct {
	ID           EntryID `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Content      string  `json:"content,omitempty"`
	CategoryID   EntryID `json:"categoryId,omitempty"`
	CategoryName string  `json:"categoryName,omitempty"`
	ImageURL     string  `json:"imageUrl,omitempty"`
}

// EntryID is an entry identifier. The backend sends it as a string or a number.
type EntryID string

// UnmarshalJSON accepts JSON strings and numbers; null leaves the ID empty.
func (id *EntryID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = EntryID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("entry id must be a string or number: %w", err)
	}
	*id = EntryID(n.String())
	return nil
}

func (id EntryID) String() string {
	return string(id)
}
