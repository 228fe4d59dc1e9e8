package rest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hyperjump/nestelia/internal/models"
)

// WikiService reads wiki entries from the REST backend.
type WikiService struct {
	client *Client
}

// NewWikiService returns a service backed by c.
func NewWikiService(c *Client) *WikiService {
	return &WikiService{client: c}
}

// ListEntries returns one page of entries, optionally filtered by category and search text.
func (s *WikiService) ListEntries(ctx context.Context, params models.PaginationParams) (*models.Envelope[[]models.WikiEntry], error) {
	q := url.Values{}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(params.PageSize))
	}
	if params.CategoryID != "" {
		q.Set("categoryId", params.CategoryID)
	}
	if params.Search != "" {
		q.Set("search", params.Search)
	}
	env, err := GetEnvelope[[]models.WikiEntry](ctx, s.client, "/wikientry/get-entries-by-category", q)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return env, nil
}

// GetEntry returns one entry by id.
func (s *WikiService) GetEntry(ctx context.Context, id string) (*models.WikiEntry, error) {
	env, err := GetEnvelope[models.WikiEntry](ctx, s.client, "/wikientry/getbyid/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return &env.Data, nil
}

// AllEntryIDs pages through the listing and returns every entry id. maxPages bounds the walk.
func (s *WikiService) AllEntryIDs(ctx context.Context, pageSize, maxPages int) ([]string, error) {
	var ids []string
	for page := 1; page <= maxPages; page++ {
		env, err := s.ListEntries(ctx, models.PaginationParams{Page: page, PageSize: pageSize})
		if err != nil {
			return ids, err
		}
		for _, e := range env.Data {
			if e.ID != "" {
				ids = append(ids, e.ID.String())
			}
		}
		if env.Pagination == nil || page >= env.Pagination.TotalPages || len(env.Data) == 0 {
			break
		}
	}
	return ids, nil
}
