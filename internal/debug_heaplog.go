//go:build debugheaplog

package internal

import (
	"context"
	"log/slog"
	"os"
	"runtime"
)

// Logging levels below Debug used for per-octet and per-frame tracing.
const (
	LevelTrace = slog.LevelDebug - 2
	LevelPanic = slog.LevelError + 8
)

const HeapAllocDebugging = true

var memstats runtime.MemStats

// LogAttrs logs and panics if the log call itself allocated, which tends to
// mean an argument escaped to the heap.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	runtime.ReadMemStats(&memstats)
	allocsBefore := memstats.Mallocs
	l.LogAttrs(context.Background(), level, msg, attrs...)
	runtime.ReadMemStats(&memstats)
	if memstats.Mallocs != allocsBefore {
		print("allocated logging: ", msg, "\n")
		os.Exit(1)
	}
}

func LogEnabled(l *slog.Logger, level slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), level)
}
