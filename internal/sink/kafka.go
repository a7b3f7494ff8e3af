package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"logon-forwarder/internal/models"
)

type producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes compact JSON records keyed by machine name, so one
// machine's logons stay ordered within a partition.
type KafkaSink struct {
	producer producer
	topic    string
}

func NewKafkaSink(p producer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Emit(ctx context.Context, rec models.Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	headers := map[string]string{
		"content-type": "application/vnd.serilog.clef",
		"level":        string(rec.Level),
	}
	if err := s.producer.ProduceMessage(ctx, s.topic, []byte(machineKey(rec)), value, headers); err != nil {
		return fmt.Errorf("kafka sink: %w", err)
	}
	return nil
}

// Close is a no-op; the producer belongs to the factory.
func (s *KafkaSink) Close() error { return nil }
