package keyword

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestPageMapping(t *testing.T) {
	m := pageMapping()
	require.NoError(t, m.Validate())
	assert.Equal(t, "page", m.DefaultType)
	assert.Equal(t, standard.Name, m.AnalyzerNameForPath("title"))
	assert.Equal(t, standard.Name, m.AnalyzerNameForPath("content"))
	assert.Equal(t, keywordanalyzer.Name, m.AnalyzerNameForPath("partition"))
}

func TestBleveIndex_SearchFindsContentAndTitle(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, &Page{
		ID:        "entry:1",
		URL:       "https://wiki.example.org/wiki/1",
		Partition: "nestelia-wiki-v1",
		Title:     "Historia del puerto",
		Content:   "El puerto fue construido en 1890 por la compañía naviera.",
		StoredAt:  time.Now(),
	}))
	require.NoError(t, idx.Index(ctx, &Page{
		ID:        "entry:2",
		URL:       "https://wiki.example.org/wiki/2",
		Partition: "nestelia-wiki-v1",
		Title:     "Fiestas patronales",
		Content:   "Las fiestas del puerto se celebran en agosto.",
	}))

	results, err := idx.Search(ctx, "naviera", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "entry:1", results[0].ID)
	assert.Equal(t, "https://wiki.example.org/wiki/1", results[0].URL)
	assert.Equal(t, "nestelia-wiki-v1", results[0].Partition)
	assert.Equal(t, "Historia del puerto", results[0].Title)
	assert.Contains(t, results[0].Snippet, "1890")

	results, err = idx.Search(ctx, "puerto", 10, &SearchOptions{TitleBoost: 3})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "entry:1", results[0].ID, "title match should rank first")
}

func TestBleveIndex_FuzzySearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, &Page{ID: "entry:1", Partition: "p", Content: "lighthouse keeper diaries"}))

	results, err := idx.Search(ctx, "lighthuose", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "lighthuose", 10, &SearchOptions{FuzzyEnabled: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "entry:1", results[0].ID)
}

func TestBleveIndex_DeleteAndDeletePartition(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	for i, part := range []string{"nestelia-wiki-v0", "nestelia-wiki-v0", "nestelia-wiki-v1"} {
		require.NoError(t, idx.Index(ctx, &Page{ID: string(rune('a' + i)), Partition: part, Content: "tide tables"}))
	}

	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	deleted, err := idx.DeletePartition(ctx, "nestelia-wiki-v0")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	require.NoError(t, idx.Delete(ctx, "c"))
	n, err = idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestBleveIndex_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	ctx := context.Background()

	idx, err := NewBleveIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, &Page{ID: "entry:1", Partition: "p", Content: "ferry schedule"}))
	require.NoError(t, idx.Close())

	idx, err = NewBleveIndex(path)
	require.NoError(t, err)
	defer idx.Close()
	results, err := idx.Search(ctx, "ferry", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestBleveIndex_InMemory(t *testing.T) {
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Index(context.Background(), &Page{ID: "x", Partition: "p", Content: "harbour"}))
	terms, err := idx.Terms()
	require.NoError(t, err)
	assert.Equal(t, 1, terms["harbour"])
}
