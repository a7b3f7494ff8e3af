package watcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"logon-forwarder/internal/eventsource"
	"logon-forwarder/internal/logon"
	"logon-forwarder/internal/models"
)

// HandleRecord runs one record through the pipeline: staleness, dedup,
// extraction, filtering and emission. Every call ends in exactly one
// Outcome and increments its counter. Sink errors are logged and do not
// change the outcome; the record was still handled.
func (w *Watcher) HandleRecord(ctx context.Context, rec *eventsource.RawRecord) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered from panic while handling record",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			outcome = OutcomeFailed
		}
		w.counters.record(outcome)
	}()

	if rec == nil {
		w.logger.Warn("Audit source delivered an empty record")
		return OutcomeMalformed
	}

	if w.isStale(rec) {
		w.logger.Debug("Skipping stale record",
			zap.Uint64("record_id", rec.RecordID),
			zap.Time("time_created", rec.TimeCreated),
		)
		return OutcomeStale
	}

	seen, err := w.cache.Contains(ctx, rec.RecordID)
	if err != nil {
		w.logger.Error("Dedup lookup failed", zap.Uint64("record_id", rec.RecordID), zap.Error(err))
		return OutcomeFailed
	}
	if seen {
		w.logger.Debug("Skipping duplicate record", zap.Uint64("record_id", rec.RecordID))
		return OutcomeDuplicate
	}
	if err := w.cache.Insert(ctx, rec.RecordID); err != nil {
		w.logger.Error("Dedup insert failed", zap.Uint64("record_id", rec.RecordID), zap.Error(err))
		return OutcomeFailed
	}

	fields, err := logon.Extract(rec)
	if err != nil {
		var malformed *logon.MalformedError
		if errors.As(err, &malformed) {
			w.logger.Warn("Malformed logon record",
				zap.Uint64("record_id", rec.RecordID),
				zap.Strings("missing_fields", malformed.Missing),
			)
		} else {
			w.logger.Warn("Malformed logon record", zap.Uint64("record_id", rec.RecordID), zap.Error(err))
		}
		return OutcomeMalformed
	}

	if verdict := logon.Evaluate(fields); !verdict.Accepted() {
		w.logger.Debug("Logon filtered",
			zap.Uint64("record_id", rec.RecordID),
			zap.Stringer("reason", verdict),
			zap.String("logon_type", fields.String(logon.LogonType)),
		)
		return OutcomeNonInteractive
	}

	record := w.buildRecord(rec, fields)
	if err := w.sink.Emit(ctx, record); err != nil {
		w.logger.Warn("Failed to forward logon",
			zap.String("sink", w.sink.Name()),
			zap.Uint64("record_id", rec.RecordID),
			zap.Error(err),
		)
	}

	w.logger.Info("Interactive logon forwarded",
		zap.Uint64("record_id", rec.RecordID),
		zap.String("user", fmt.Sprintf(`%s\%s`, fields.String(logon.TargetDomainName), fields.String(logon.TargetUserName))),
		zap.String("logon_type", fields.String(logon.LogonType)),
	)
	return OutcomeAccepted
}

// isStale reports records created before this run started, or older than
// the retention window. Both are outside what the dedup cache can vouch for.
func (w *Watcher) isStale(rec *eventsource.RawRecord) bool {
	if rec.TimeCreated.Before(w.StartedAt()) {
		return true
	}
	return w.now().Sub(rec.TimeCreated) > w.retention
}

func (w *Watcher) buildRecord(rec *eventsource.RawRecord, fields logon.Fields) models.Record {
	event := models.LogonEvent{
		EventID:     rec.EventID,
		InstanceID:  uint64(rec.EventID),
		EventTime:   rec.TimeCreated,
		Source:      rec.Provider,
		Category:    rec.Category,
		LogName:     rec.Channel,
		RecordID:    rec.RecordID,
		Description: rec.Message,
		FailedAudit: rec.IsFailureAudit(),
		Fields:      fields,
	}

	app := w.app
	if rec.Computer != "" && app.MachineName == "" {
		app.MachineName = rec.Computer
	}
	return event.Record(app)
}
