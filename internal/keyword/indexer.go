package keyword

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/cachekey"
	"github.com/hyperjump/nestelia/internal/models"
)

// Indexer feeds stored cache entries into an Index.
type Indexer struct {
	index  Index
	accept func(partition string) bool
	logger *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the indexer's logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(ix *Indexer) { ix.logger = l }
}

// NewIndexer indexes entries of the partitions accept returns true for (all when nil).
func NewIndexer(index Index, accept func(partition string) bool, opts ...IndexerOption) *Indexer {
	ix := &Indexer{index: index, accept: accept, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// OnStore indexes a freshly stored response. Responses that carry no searchable text
// remove any page previously indexed under the same key.
func (ix *Indexer) OnStore(ctx context.Context, partition, key string, resp *models.CachedResponse) {
	if ix.accept != nil && !ix.accept(partition) {
		return
	}
	page, ok := PageFromResponse(partition, key, resp)
	if !ok {
		if err := ix.index.Delete(ctx, cachekey.DocID(partition, key)); err != nil {
			ix.logger.Debug("Failed to drop page", zap.String("key", key), zap.Error(err))
		}
		return
	}
	if err := ix.index.Index(ctx, page); err != nil {
		ix.logger.Warn("Failed to index page", zap.String("url", page.URL), zap.Error(err))
		return
	}
	ix.logger.Debug("Indexed page", zap.String("url", page.URL), zap.String("partition", partition))
}

// Prune drops the pages of every indexed partition keep rejects.
func (ix *Indexer) Prune(ctx context.Context, keep func(partition string) bool) (int, error) {
	partitions, err := ix.index.IndexedPartitions()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range partitions {
		if keep(p) {
			continue
		}
		n, err := ix.index.DeletePartition(ctx, p)
		total += n
		if err != nil {
			return total, err
		}
		ix.logger.Debug("Pruned partition from index", zap.String("partition", p), zap.Int("pages", n))
	}
	return total, nil
}
