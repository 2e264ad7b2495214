package logger

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// Frames between caller and runtime.Callers: record, level method
const callerSkip = 3

type slogLogger struct {
	logger *slog.Logger
}

// Records point to the code calling Debug/Info/Warn/Error, not to this file
func (l *slogLogger) record(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(callerSkip, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func (l *slogLogger) Debug(msg string, args ...any) { l.record(slog.LevelDebug, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.record(slog.LevelInfo, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.record(slog.LevelWarn, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.record(slog.LevelError, msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

func (l *slogLogger) WithGroup(name string) Logger {
	return &slogLogger{logger: l.logger.WithGroup(name)}
}

// Keep file name only in source attribute
func trimSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	if src, ok := a.Value.Any().(*slog.Source); ok {
		src.File = filepath.Base(src.File)
	}
	return a
}
