package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
)

// ElasticsearchSink indexes trace documents into a dedicated index for
// offline analysis of ranking decisions.
type ElasticsearchSink struct {
	client *es.Client
	index  string
}

// NewElasticsearchSink creates a sink writing to the given index.
func NewElasticsearchSink(client *es.Client, index string) *ElasticsearchSink {
	return &ElasticsearchSink{client: client, index: index}
}

// Write indexes one trace document, keyed by its trace id.
func (s *ElasticsearchSink) Write(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal trace document: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(payload),
		s.client.Index.WithDocumentID(doc.TraceID),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index trace document: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("index trace document: %s", res.Status())
	}
	return nil
}
