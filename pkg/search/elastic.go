package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/config"
)

// Indexer is the Elasticsearch adapter. All writes go through the bulk API;
// failures bubble up to the queue's retry mechanism, there is no compensating
// write back to the relational store.
type Indexer struct {
	es     *elasticsearch.Client
	index  string
	logger *zap.Logger
}

func NewIndexer(cfg *config.ElasticConfig, logger *zap.Logger) (*Indexer, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &Indexer{es: es, index: cfg.Index, logger: logger}, nil
}

// BulkUpsert indexes every document under its SKU id, overwriting any
// existing version.
func (i *Indexer) BulkUpsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]map[string]string{
			"index": {"_index": i.index, "_id": doc.SKUID},
		}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return fmt.Errorf("encode document %s: %w", doc.SKUID, err)
		}
	}
	return i.bulk(ctx, &buf, len(docs))
}

// Delete removes the documents for the given SKU ids. Missing documents are
// not an error; the index is eventually consistent.
func (i *Indexer) Delete(ctx context.Context, skuIDs []string) error {
	if len(skuIDs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, id := range skuIDs {
		meta := map[string]map[string]string{
			"delete": {"_index": i.index, "_id": id},
		}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
	}
	return i.bulk(ctx, &buf, len(skuIDs))
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (i *Indexer) bulk(ctx context.Context, body io.Reader, count int) error {
	res, err := i.es.Bulk(body,
		i.es.Bulk.WithContext(ctx),
		i.es.Bulk.WithIndex(i.index))
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk request failed: %s", res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if parsed.Errors {
		for _, item := range parsed.Items {
			for action, detail := range item {
				if detail.Error != nil && detail.Status != 404 {
					return fmt.Errorf("bulk %s %s: %s: %s",
						action, detail.ID, detail.Error.Type, detail.Error.Reason)
				}
			}
		}
	}

	i.logger.Debug("bulk operation applied", zap.Int("count", count))
	return nil
}
