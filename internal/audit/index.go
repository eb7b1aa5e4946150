package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/verification"
)

// DefaultIndex is the Elasticsearch index holding verification records
const DefaultIndex = "verifications"

const indexMapping = `{
  "mappings": {
    "properties": {
      "submission_id":      {"type": "keyword"},
      "kind":               {"type": "keyword"},
      "owner_id":           {"type": "keyword"},
      "status":             {"type": "keyword"},
      "category":           {"type": "keyword"},
      "severity":           {"type": "keyword"},
      "flags":              {"type": "keyword"},
      "location":           {"type": "geo_point"},
      "overall_score":      {"type": "float"},
      "overall_confidence": {"type": "float"},
      "reward_quantity":    {"type": "float"},
      "reward_points":      {"type": "integer"},
      "summary":            {"type": "text"},
      "facets":             {"type": "object", "enabled": false},
      "submitted_at":       {"type": "date"},
      "completed_at":       {"type": "date"}
    }
  }
}`

// Indexer makes terminal verifications searchable
type Indexer struct {
	es     *elasticsearch.Client
	index  string
	logger *zap.Logger
}

// NewElasticsearchClient creates a client for addresses
func NewElasticsearchClient(addresses []string, username, password string) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return es, nil
}

// NewIndexer creates an indexer writing to index
func NewIndexer(es *elasticsearch.Client, index string, logger *zap.Logger) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{es: es, index: index, logger: logger}
}

func (i *Indexer) Name() string { return "search-index" }

// EnsureIndex creates the index with its mapping when missing
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.es.Indices.Exists([]string{i.index}, i.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", i.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.es.Indices.Create(i.index,
		i.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		i.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to create index %s: %s", i.index, readError(res.Body))
	}
	return nil
}

// Finalize indexes the record of sub under its submission id
func (i *Indexer) Finalize(ctx context.Context, sub *verification.Submission, result *verification.VerificationResult) error {
	doc, err := json.Marshal(NewRecord(sub, result))
	if err != nil {
		return fmt.Errorf("failed to encode search document: %w", err)
	}

	res, err := i.es.Index(i.index, bytes.NewReader(doc),
		i.es.Index.WithDocumentID(sub.ID),
		i.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", sub.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to index %s: %s", sub.ID, readError(res.Body))
	}

	i.logger.Debug("Verification indexed",
		zap.String("submission_id", sub.ID),
		zap.String("index", i.index))
	return nil
}

func readError(body io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(body, 1024))
	return string(b)
}
