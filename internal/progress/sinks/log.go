package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/scrapequeue/internal/progress"
)

// LogSink writes each progress event as one structured log line. Dispatches
// log at debug, failed tasks at warn, and the remaining completions at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if ce := s.logger.Check(levelFor(evt.Stage), "progress event"); ce != nil {
			ce.Write(eventFields(evt)...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageTaskError:
		return zapcore.WarnLevel
	case progress.StageTaskDone, progress.StageRunDrained:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func eventFields(evt progress.Event) []zap.Field {
	fields := []zap.Field{
		zap.Stringer("run_id", evt.RunUUID()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Task > 0 {
		fields = append(fields, zap.Int("task", evt.Task), zap.String("url", evt.URL))
	}
	if evt.Workspace != "" {
		fields = append(fields, zap.String("workspace", evt.Workspace))
	}
	if evt.Stage == progress.StageTaskDone || evt.Stage == progress.StageTaskError {
		fields = append(fields,
			zap.Int("captured", evt.Captured),
			zap.Int("failed", evt.Failed),
			zap.Duration("dur", evt.Dur),
		)
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}
