// Package logging provides the structured logger used across the data
// plane. It wraps zap so call sites can log with loosely typed key/value
// pairs (in the style of slog) without every package importing zap
// directly.
package logging

import (
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

func baseLogger() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if os.Getenv("AGENTGATEWAY_LOG_FORMAT") == "console" {
			cfg.Encoding = "console"
			cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		}
		if lvl := os.Getenv("AGENTGATEWAY_LOG_LEVEL"); lvl != "" {
			var zl zapcore.Level
			if err := zl.UnmarshalText([]byte(lvl)); err == nil {
				cfg.Level = zap.NewAtomicLevelAt(zl)
			}
		}
		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// Logger is a named, structured logger. Key/value pairs are passed the
// same way across every call site: an even number of arguments after the
// message, alternating key and value.
type Logger struct {
	name string
	z    *zap.SugaredLogger
}

// New returns a logger scoped to name, e.g. logging.New("policy/pipeline").
func New(name string) *Logger {
	return &Logger{name: name, z: baseLogger().Named(name).Sugar()}
}

func (l *Logger) Debug(msg string, kv ...any) { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)   { l.z.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)   { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any)  { l.z.Errorw(msg, kv...) }

// With returns a child logger with the given key/value pairs attached to
// every subsequent record.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{name: l.name, z: l.z.With(kv...)}
}

// AsLogr adapts the logger to logr.Logger for components that expect the
// controller-runtime style interface. No package in this module calls it;
// the CEL evaluator and the control-plane ADS client log through New.
func (l *Logger) AsLogr() logr.Logger {
	return zapr.NewLogger(l.z.Desugar())
}

// Sync flushes any buffered log entries. Call during graceful shutdown.
func Sync() {
	_ = baseLogger().Sync()
}
