// Package keyword indexes cached wiki content for offline full-text search.
package keyword

import (
	"context"
	"time"
)

// Page is a cached response reduced to searchable text.
type Page struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Partition string    `json:"partition"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	StoredAt  time.Time `json:"stored_at"`
}

// SearchOptions tune a search. Nil means defaults.
type SearchOptions struct {
	// TitleBoost multiplies title matches; values <= 1 weigh title and content equally.
	TitleBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits (default 2).
	FuzzyEnabled bool
	Fuzziness    int
}

// Result is a single search hit.
type Result struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	Partition string  `json:"partition"`
	Title     string  `json:"title,omitempty"`
	Snippet   string  `json:"snippet,omitempty"`
	Score     float64 `json:"score"`
}

// Index defines offline search operations.
type Index interface {
	Index(ctx context.Context, page *Page) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	Delete(ctx context.Context, id string) error
	// DeletePartition drops every page indexed from partition.
	DeletePartition(ctx context.Context, partition string) (int, error)
	IndexedPartitions() ([]string, error)
	DocCount() (uint64, error)
	Close() error
}

// TermDictionary exposes indexed terms for query suggestions.
type TermDictionary interface {
	Terms() (map[string]int, error)
}
