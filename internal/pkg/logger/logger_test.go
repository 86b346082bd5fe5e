package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
	assert.Equal(t, "***@***", RedactEmail("trailing@"))
}

func TestRedactText(t *testing.T) {
	got := RedactText("550 5.1.1 <bob.smith@x.com>: user unknown")
	assert.Equal(t, "550 5.1.1 <bo***@x.com>: user unknown", got)
	assert.Equal(t, "no addresses here", RedactText("no addresses here"))
}

func TestLoggerRedactsEmailFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core, true)

	l.Info("message sent", "to_email", "alice@example.com", "note", "cc bob@example.com", "count", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "al***@example.com", fields["to_email"])
	assert.Equal(t, "cc bo***@example.com", fields["note"])
	assert.EqualValues(t, 3, fields["count"])
}

func TestLoggerErrorValuesAreStrings(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core, false)

	l.Error("tick aborted", "error", errors.New("connection refused"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "connection refused", entries[0].ContextMap()["error"])
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestLoggerReportsCallSite(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core, false)

	prev := defaultLogger
	SetDefault(l)
	t.Cleanup(func() { SetDefault(prev) })

	l.Info("via method")
	Warn("via package")

	entries := logs.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.True(t, e.Caller.Defined, e.Message)
		assert.Equal(t, "logger_test.go", filepath.Base(e.Caller.File), e.Message)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel(""))
}
