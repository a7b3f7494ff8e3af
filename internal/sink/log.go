package sink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"logon-forwarder/internal/models"
)

// LogSink writes records as structured zap entries.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("sink.log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(_ context.Context, rec models.Record) error {
	fields := make([]zap.Field, 0, len(rec.Properties)+2)
	fields = append(fields,
		zap.Time("event_timestamp", rec.Timestamp),
		zap.String("message_template", rec.MessageTemplate),
	)
	for _, p := range rec.Properties {
		fields = append(fields, propertyField(p))
	}

	if ce := s.logger.Check(zapLevel(rec.Level), rec.Message()); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}

func zapLevel(l models.Level) zapcore.Level {
	switch l {
	case models.LevelDebug:
		return zapcore.DebugLevel
	case models.LevelWarning:
		return zapcore.WarnLevel
	case models.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func propertyField(p models.Property) zap.Field {
	switch v := p.Value.(type) {
	case time.Time:
		return zap.Time(p.Name, v)
	case fmt.Stringer:
		return zap.Stringer(p.Name, v)
	default:
		return zap.Any(p.Name, v)
	}
}
