package events

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapSink writes events to the local structured log.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink backed by logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("events")}
}

// Emit implements Sink.
func (s *ZapSink) Emit(ev Event) {
	fields := []zap.Field{
		zap.String("context", ev.Context),
		zap.Time("event_timestamp", ev.Timestamp),
	}
	if len(ev.Data) > 0 {
		fields = append(fields, zap.Any("data", ev.Data))
	}
	if ce := s.logger.Check(zapLevel(ev.Level), ev.Message); ce != nil {
		ce.Write(fields...)
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
