package sink

import (
	"context"
	"fmt"

	"logon-forwarder/internal/models"
)

type indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink indexes records into daily indices named
// <prefix>-YYYY.MM.DD, dated by the record timestamp in UTC.
type ElasticsearchSink struct {
	client indexer
	prefix string
}

func NewElasticsearchSink(client indexer, prefix string) *ElasticsearchSink {
	return &ElasticsearchSink{client: client, prefix: prefix}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) IndexFor(rec models.Record) string {
	return s.prefix + "-" + rec.Timestamp.UTC().Format("2006.01.02")
}

func (s *ElasticsearchSink) Emit(ctx context.Context, rec models.Record) error {
	if err := s.client.IndexDocument(ctx, s.IndexFor(rec), documentID(rec), rec); err != nil {
		return fmt.Errorf("elasticsearch sink: %w", err)
	}
	return nil
}

func (s *ElasticsearchSink) Close() error { return nil }
