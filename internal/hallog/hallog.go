// Package hallog provides the engine's single logging entry point.
//
// The engine starts with a console sink (stderr, matching a serial console
// before any framebuffer is available) and swaps to a richer sink once one
// is published by the HAL, e.g. once the framebuffer console comes up. The
// swap is atomic so callers that already cached a *zap.SugaredLogger keep
// writing to whichever core was live at the time; new callers always see
// the latest sink.
package hallog

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	initOnce sync.Once
	core     atomic.Pointer[zap.SugaredLogger]
)

func defaultLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(cfg)

	l := zap.New(zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), zap.DebugLevel))
	return l.Sugar()
}

// Logger returns the process-wide logger, initializing the default console
// sink on first use.
func Logger() *zap.SugaredLogger {
	initOnce.Do(func() {
		core.Store(defaultLogger())
	})
	return core.Load()
}

// SetSink atomically replaces the active logging sink, e.g. once the HAL
// brings up a framebuffer console. Existing *zap.SugaredLogger references
// obtained before the swap keep logging through the old sink.
func SetSink(l *zap.SugaredLogger) {
	initOnce.Do(func() {})
	core.Store(l)
}

// NewWithWriter builds a logger writing to an arbitrary sink (used by tests
// and by the framebuffer/serial console once it becomes available).
func NewWithWriter(w zapcore.WriteSyncer, level zapcore.Level) *zap.SugaredLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(cfg)
	return zap.New(zapcore.NewCore(encoder, w, level)).Sugar()
}
