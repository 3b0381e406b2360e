package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/queue"
	"github.com/example/fulfillment/pkg/search"
)

// DocumentSource builds index documents from the relational catalog.
type DocumentSource interface {
	Build(ctx context.Context, productID string) ([]search.Document, error)
	BuildMany(ctx context.Context, productIDs []string) ([]search.Document, error)
	SKUIDs(ctx context.Context, productID string) ([]string, error)
}

// Indexer applies document batches to the search backend.
type Indexer interface {
	BulkUpsert(ctx context.Context, docs []search.Document) error
	Delete(ctx context.Context, skuIDs []string) error
}

// SearchHandler keeps the product index eventually consistent. Create and
// update converge on the same upsert, so replays and reordering are harmless.
type SearchHandler struct {
	source DocumentSource
	index  Indexer
	logger *zap.Logger
}

func NewSearchHandler(source DocumentSource, index Indexer, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{source: source, index: index, logger: logger}
}

func (h *SearchHandler) HandleSync(ctx context.Context, t *asynq.Task) error {
	var p queue.SearchSyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("search sync payload: %v: %w", err, asynq.SkipRetry)
	}

	docs, err := h.source.Build(ctx, p.ProductID)
	if err != nil {
		return fmt.Errorf("build documents for product %s: %w", p.ProductID, err)
	}
	if err := h.index.BulkUpsert(ctx, docs); err != nil {
		return fmt.Errorf("index product %s: %w", p.ProductID, err)
	}

	h.logger.Info("product indexed",
		zap.String("product_id", p.ProductID),
		zap.Int("documents", len(docs)))
	return nil
}

func (h *SearchHandler) HandleBatch(ctx context.Context, t *asynq.Task) error {
	var p queue.SearchSyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("search batch payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(p.ProductIDs) == 0 {
		return nil
	}

	docs, err := h.source.BuildMany(ctx, p.ProductIDs)
	if err != nil {
		return fmt.Errorf("build documents for %d products: %w", len(p.ProductIDs), err)
	}
	if err := h.index.BulkUpsert(ctx, docs); err != nil {
		return fmt.Errorf("index %d products: %w", len(p.ProductIDs), err)
	}

	h.logger.Info("product batch indexed",
		zap.Int("products", len(p.ProductIDs)),
		zap.Int("documents", len(docs)))
	return nil
}

// HandleDelete purges every SKU document of a product, including soft-deleted
// SKUs, so a removed product disappears from search entirely.
func (h *SearchHandler) HandleDelete(ctx context.Context, t *asynq.Task) error {
	var p queue.SearchSyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("search delete payload: %v: %w", err, asynq.SkipRetry)
	}

	ids, err := h.source.SKUIDs(ctx, p.ProductID)
	if err != nil {
		return fmt.Errorf("resolve documents for product %s: %w", p.ProductID, err)
	}
	if len(ids) == 0 {
		h.logger.Info("product has no documents to purge",
			zap.String("product_id", p.ProductID))
		return nil
	}
	if err := h.index.Delete(ctx, ids); err != nil {
		return fmt.Errorf("purge product %s from index: %w", p.ProductID, err)
	}

	h.logger.Info("product purged from index",
		zap.String("product_id", p.ProductID),
		zap.Int("documents", len(ids)))
	return nil
}
