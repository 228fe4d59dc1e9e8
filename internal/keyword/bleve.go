package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/nestelia/pkg/utils"
)

const snippetLength = 160

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func pageMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	doc := bleve.NewDocumentMapping()
	// Standard analyzer: lowercase and tokenize without stemming, so wiki titles in
	// any language match their exact words.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("content", text)

	kw := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("id", kw)
	doc.AddFieldMappingsAt("url", kw)
	doc.AddFieldMappingsAt("partition", kw)
	doc.AddFieldMappingsAt("stored_at", bleve.NewDateTimeFieldMapping())

	im.AddDocumentMapping("page", doc)
	im.DefaultType = "page"
	im.DefaultMapping = doc
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps the index in memory.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(pageMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, pageMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces page.
func (b *BleveIndex) Index(_ context.Context, page *Page) error {
	return b.index.Index(page.ID, page)
}

// Search matches query against titles and content and returns up to limit hits, best first.
func (b *BleveIndex) Search(_ context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	titleBoost := 1.0
	fuzzy := false
	fuzziness := 2
	if opts != nil {
		if opts.TitleBoost > 1 {
			titleBoost = opts.TitleBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	q := bleve.NewDisjunctionQuery(
		fieldQuery(query, "title", titleBoost, fuzzy, fuzziness),
		fieldQuery(query, "content", 1, fuzzy, fuzziness),
	)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"url", "partition", "title", "content"}

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, &Result{
			ID:        hit.ID,
			URL:       stringField(hit.Fields, "url"),
			Partition: stringField(hit.Fields, "partition"),
			Title:     stringField(hit.Fields, "title"),
			Snippet:   utils.Truncate(strings.Join(strings.Fields(stringField(hit.Fields, "content")), " "), snippetLength),
			Score:     hit.Score,
		})
	}
	return out, nil
}

// fieldQuery builds a match query on one field, or a disjunction of per-term fuzzy queries.
func fieldQuery(query, field string, boost float64, fuzzy bool, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(query)
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}

	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// Delete removes a page.
func (b *BleveIndex) Delete(_ context.Context, id string) error {
	return b.index.Delete(id)
}

// DeletePartition removes every page whose partition field equals partition.
func (b *BleveIndex) DeletePartition(ctx context.Context, partition string) (int, error) {
	deleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		tq := bleve.NewTermQuery(partition)
		tq.SetField("partition")
		req := bleve.NewSearchRequest(tq)
		req.Size = 500

		res, err := b.index.Search(req)
		if err != nil {
			return deleted, fmt.Errorf("Bleve partition lookup failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}

		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return deleted, fmt.Errorf("Bleve batch delete failed: %w", err)
		}
		deleted += len(res.Hits)
	}
}

// IndexedPartitions returns the partition names that pages were indexed from.
func (b *BleveIndex) IndexedPartitions() ([]string, error) {
	dict, err := b.index.FieldDict("partition")
	if err != nil {
		return nil, fmt.Errorf("failed to read partition dictionary: %w", err)
	}
	defer dict.Close()
	var out []string
	for {
		entry, err := dict.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Count > 0 {
			out = append(out, entry.Term)
		}
	}
	return out, nil
}

// DocCount returns the number of indexed pages.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Terms returns every indexed title and content term with its document frequency.
func (b *BleveIndex) Terms() (map[string]int, error) {
	terms := make(map[string]int)
	for _, field := range []string{"title", "content"} {
		dict, err := b.index.FieldDict(field)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s dictionary: %w", field, err)
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			if int(entry.Count) > terms[entry.Term] {
				terms[entry.Term] = int(entry.Count)
			}
		}
		_ = dict.Close()
	}
	return terms, nil
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
