package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"logon-forwarder/internal/models"
)

type eventPoster interface {
	PostEvents(ctx context.Context, clef []byte) error
}

// SeqSink ships records to Seq's raw ingestion endpoint as compact JSON,
// one event per line.
type SeqSink struct {
	client eventPoster
}

func NewSeqSink(client eventPoster) *SeqSink {
	return &SeqSink{client: client}
}

func (s *SeqSink) Name() string { return "seq" }

func (s *SeqSink) Emit(ctx context.Context, rec models.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("seq sink: encode record: %w", err)
	}
	line = append(line, '\n')

	if err := s.client.PostEvents(ctx, line); err != nil {
		return fmt.Errorf("seq sink: %w", err)
	}
	return nil
}

func (s *SeqSink) Close() error { return nil }
