package zaplogger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger backs the glog contract with zap. Key/value args are passed to the
// sugared logger as-is, so they follow zap's loosely typed pairing rules.
type Logger struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

// NewProduction builds a JSON logger at the given level ("debug", "info",
// "warn" or "error"). An unknown level falls back to info.
func NewProduction(level string) (*Logger, zap.AtomicLevel, error) {
	atomic := zap.NewAtomicLevelAt(ParseLevel(level))
	cfg := zap.NewProductionConfig()
	cfg.Level = atomic
	cfg.DisableStacktrace = true
	built, err := cfg.Build()
	if err != nil {
		return nil, atomic, fmt.Errorf("zaplogger: build logger: %w", err)
	}
	return New(built), atomic, nil
}

func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *Logger) must() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}
	return l.logger
}

func (l *Logger) sugar() *zap.SugaredLogger {
	return l.must().Sugar()
}

// Trace maps to zap debug; zap has no trace level.
func (l *Logger) Trace(msg string, args ...any) { l.sugar().Debugw(msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.sugar().Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar().Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar().Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar().Errorw(msg, args...) }

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, args ...any) { l.sugar().Fatalw(msg, args...) }

func (l *Logger) WithContext(context.Context) glog.Logger {
	return l
}

// WithFields returns a child logger carrying the fields in sorted key order.
func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	zapFields := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		zapFields = append(zapFields, zap.Any(key, fields[key]))
	}
	return &Logger{logger: l.must().With(zapFields...)}
}

func (l *Logger) Named(name string) *Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &Logger{logger: l.must().Named(name)}
}

func (l *Logger) Sync() error {
	return l.must().Sync()
}

func (l *Logger) Raw() *zap.Logger {
	return l.must()
}

// Provider hands out named children of one root zap logger.
type Provider struct {
	root *Logger
}

func NewProvider(root *Logger) *Provider {
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	if p == nil {
		return New(nil)
	}
	return p.root.Named(name)
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
