// Package sink delivers forwarder records to log destinations.
//
// Backends (LogSink, SeqSink, KafkaSink, ElasticsearchSink, ClickHouseSink) do the
// writing. Breaker, Async and Multi wrap them: the factory builds
// Multi(Async(Breaker(backend))...), so an Emit from the watcher never
// blocks on a slow or failing destination.
package sink

import (
	"context"
	"errors"
	"fmt"

	"logon-forwarder/internal/models"
)

var (
	ErrClosed    = errors.New("sink: closed")
	ErrQueueFull = errors.New("sink: queue full")
)

type Sink interface {
	Emit(ctx context.Context, rec models.Record) error
	Name() string
	Close() error
}

// machineKey is the partition and document key for a record.
func machineKey(rec models.Record) string {
	if v, ok := rec.Get("MachineName"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// documentID derives a stable id for logon records so a replay overwrites
// instead of duplicating. Heartbeats get an empty id.
func documentID(rec models.Record) string {
	id, ok := rec.Get("EventRecordID")
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s-%v", machineKey(rec), id)
}
