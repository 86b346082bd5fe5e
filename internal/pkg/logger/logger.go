package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	mu        sync.RWMutex
	level     zap.AtomicLevel
	sugar     *zap.SugaredLogger
	redactPII bool
}

// New builds a Logger writing JSON to stderr.
func New(level Level, redactPII bool) *Logger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	cfg := zap.NewProductionConfig()
	cfg.Level = atom
	cfg.Encoding = "json"
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{level: atom, sugar: z.Sugar(), redactPII: redactPII}
}

// NewWithCore wraps an existing zap core, used by tests to capture output.
func NewWithCore(core zapcore.Core, redactPII bool) *Logger {
	return &Logger{
		level:     zap.NewAtomicLevelAt(zapcore.DebugLevel),
		sugar:     zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(),
		redactPII: redactPII,
	}
}

var defaultLogger = New(INFO, true)

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) { defaultLogger = l }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level.SetLevel(l.zapLevel()) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() { _ = defaultLogger.sugar.Sync() }

// Package-level functions must call the sugared logger directly: the
// caller skip assumes exactly one frame between the call site and zap.

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) {
	l := defaultLogger
	l.sugar.Debugw(msg, l.kv(fields)...)
}

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) {
	l := defaultLogger
	l.sugar.Infow(msg, l.kv(fields)...)
}

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) {
	l := defaultLogger
	l.sugar.Warnw(msg, l.kv(fields)...)
}

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) {
	l := defaultLogger
	l.sugar.Errorw(msg, l.kv(fields)...)
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.sugar.Debugw(msg, l.kv(fields)...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.sugar.Infow(msg, l.kv(fields)...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.sugar.Warnw(msg, l.kv(fields)...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.sugar.Errorw(msg, l.kv(fields)...) }

// kv normalises key-value pairs, redacting PII in string values.
func (l *Logger) kv(fields []interface{}) []interface{} {
	l.mu.RLock()
	redact := l.redactPII
	l.mu.RUnlock()

	out := make([]interface{}, 0, len(fields))
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fields[i+1]
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		if s, ok := val.(string); ok && redact {
			val = redactPIIValue(key, s)
		}
		out = append(out, key, val)
	}
	return out
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	return RedactText(val)
}
