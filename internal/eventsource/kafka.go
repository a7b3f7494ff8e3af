package eventsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrBusy = errors.New("eventsource: source already has an active subscription")

const fetchRetryDelay = time.Second

// kafkaReader is the subset of client.KafkaConsumer the source needs.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSource reads JSON-encoded audit records that a collector on the
// audited machine publishes to a topic. One consumer group member backs at
// most one subscription at a time.
type KafkaSource struct {
	reader kafkaReader
	logger *zap.Logger

	mu     sync.Mutex
	active *kafkaSubscription
}

type kafkaSubscription struct {
	src    *KafkaSource
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewKafkaSource(reader kafkaReader, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSource{
		reader: reader,
		logger: logger.Named("eventsource.kafka"),
	}
}

func (s *KafkaSource) Subscribe(ctx context.Context, q Query, h Handler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, ErrBusy
	}

	// ctx scopes the call; the subscription lives until Close.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &kafkaSubscription{
		src:    s,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.active = sub

	go s.consume(runCtx, q, h, sub.done)

	s.logger.Info("Subscribed to audit topic",
		zap.String("log_name", q.LogName),
		zap.Uint32("event_id", q.EventID),
		zap.String("keywords", fmt.Sprintf("%#x", q.Keywords)),
	)
	return sub, nil
}

func (s *KafkaSource) consume(ctx context.Context, q Query, h Handler, done chan struct{}) {
	defer close(done)

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			s.logger.Warn("Failed to fetch audit record", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		rec, err := DecodeRecord(msg.Value)
		switch {
		case err != nil:
			s.logger.Error("Undecodable audit record",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			h(nil)
		case q.Matches(rec):
			h(rec)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.logger.Warn("Failed to commit audit record offset",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// DecodeRecord parses one JSON record. Event data numbers are kept as
// json.Number so large ids survive.
func DecodeRecord(data []byte) (*RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec RawRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode audit record: %w", err)
	}
	return &rec, nil
}

// Close stops consumption and waits for the in-flight handler call to return.
func (s *kafkaSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done

		s.src.mu.Lock()
		if s.src.active == s {
			s.src.active = nil
		}
		s.src.mu.Unlock()

		s.src.logger.Info("Audit topic subscription closed")
	})
	return nil
}
