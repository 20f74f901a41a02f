//go:build !debugheaplog

package internal

import (
	"context"
	"log/slog"
)

// Logging levels below Debug used for per-octet and per-frame tracing.
const (
	LevelTrace = slog.LevelDebug - 2
	LevelPanic = slog.LevelError + 8
)

const HeapAllocDebugging = false

func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l != nil {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func LogEnabled(l *slog.Logger, level slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), level)
}
