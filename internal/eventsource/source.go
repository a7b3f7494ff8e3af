// Package eventsource delivers raw audit records to the watcher.
//
// A Source owns the subscription to an audit log. Records are pushed to a
// Handler callback, possibly from several goroutines at once. A nil record
// passed to the Handler means the source hit an internal error while
// reading a record and had nothing to deliver.
package eventsource

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Audit keyword bits carried by security log records.
const (
	KeywordAuditFailure uint64 = 0x0010000000000000
	KeywordAuditSuccess uint64 = 0x0020000000000000
)

var ErrClosed = errors.New("eventsource: subscription closed")

// RawRecord is a single audit log record as the source reads it.
type RawRecord struct {
	RecordID    uint64         `json:"record_id"`
	TimeCreated time.Time      `json:"time_created"`
	EventID     uint32         `json:"event_id"`
	Keywords    uint64         `json:"keywords"`
	Provider    string         `json:"provider"`
	Channel     string         `json:"channel"`
	Computer    string         `json:"computer"`
	Category    uint16         `json:"category"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data"`
}

// Field returns a named event data value.
func (r *RawRecord) Field(name string) (any, bool) {
	if r == nil || r.Data == nil {
		return nil, false
	}
	v, ok := r.Data[name]
	return v, ok
}

// IsFailureAudit reports whether the record carries the audit-failure keyword.
func (r *RawRecord) IsFailureAudit() bool {
	return r != nil && r.Keywords&KeywordAuditFailure != 0
}

// Query restricts a subscription to one log, one event id and a keyword mask.
// Zero values leave that dimension unrestricted.
type Query struct {
	LogName  string
	EventID  uint32
	Keywords uint64
}

// Matches reports whether rec passes the query. Nil records always pass so
// the watcher sees source errors.
func (q Query) Matches(rec *RawRecord) bool {
	if rec == nil {
		return true
	}
	if q.LogName != "" && rec.Channel != "" && !strings.EqualFold(q.LogName, rec.Channel) {
		return false
	}
	if q.EventID != 0 && rec.EventID != q.EventID {
		return false
	}
	if q.Keywords != 0 && rec.Keywords&q.Keywords == 0 {
		return false
	}
	return true
}

// Handler receives records from a subscription.
type Handler func(rec *RawRecord)

// Subscription is an active feed of records. Close stops delivery and
// releases the underlying handle; it is safe to call more than once.
type Subscription interface {
	Close() error
}

// Source opens subscriptions against an audit log.
type Source interface {
	Subscribe(ctx context.Context, q Query, h Handler) (Subscription, error)
}
