package logger

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]LogLevel{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		" info ":  LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"off":     LevelNone,
	} {
		level, ok := ParseLevel(input)
		assert.True(t, ok, input)
		assert.Equal(t, want, level, input)
	}
	level, ok := ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, LevelInfo, level)
}

func TestGetLevelFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	assert.Equal(t, LevelWarn, GetLevelFromEnv())
	t.Setenv(EnvLogLevel, "")
	assert.Equal(t, LevelInfo, GetLevelFromEnv())
}

func TestTestLoggerRecords(t *testing.T) {
	logger := NewTestLogger()
	logger.Trace("trace %d", 1)
	logger.Debug("debug %d", 2)
	logger.Info("info %d", 3)
	logger.Warn("warn %d", 4)
	logger.Error("error %d", 5)

	logs := logger.Logs()
	assert.Len(t, logs, 5)
	assert.Equal(t, "TRACE", logs[0].Severity)
	assert.Equal(t, "trace 1", logs[0].String())
	assert.Equal(t, "WARNING", logs[3].Severity)
	assert.Equal(t, []interface{}{5}, logs[4].Arguments)
	assert.Equal(t, 1, logger.Count("ERROR", "error 5"))
}

func TestTestLoggerDerivedShareStore(t *testing.T) {
	logger := NewTestLogger()
	child := logger.With(map[string]interface{}{"key": "abc"}).WithPrefix("[cache]")
	child.Warn("disk unavailable")
	assert.Equal(t, 1, logger.Count("WARNING", "disk unavailable"))
}

func TestTestLoggerConcurrent(t *testing.T) {
	logger := NewTestLogger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("message %d", i)
		}()
	}
	wg.Wait()
	assert.Len(t, logger.Logs(), 50)
}

func TestConsoleLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(LevelNone)
	logger.SetSink(&buf, LevelDebug)
	logger.Trace("hidden")
	logger.WithPrefix("[cache]").With(map[string]interface{}{"key": "k1"}).Info("stored %s", "k1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO ]")
	assert.Contains(t, out, "[cache]")
	assert.Contains(t, out, "stored k1")
	assert.Contains(t, out, `{"key":"k1"}`)
}

func TestConsoleLoggerStack(t *testing.T) {
	next := NewTestLogger()
	logger := NewConsoleLogger(LevelNone).Stack(next)
	logger.Error("boom %d", 42)
	assert.Equal(t, 1, next.Count("ERROR", "boom 42"))
}

type recordingOtelLogger struct {
	embedded.Logger
	mu      sync.Mutex
	records []log.Record
}

func (r *recordingOtelLogger) Emit(_ context.Context, record log.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *recordingOtelLogger) Enabled(context.Context, log.EnabledParameters) bool {
	return true
}

func TestOtelLogger(t *testing.T) {
	rec := &recordingOtelLogger{}
	logger := NewOtelLogger(rec, LevelInfo).WithPrefix("[cache]").With(map[string]interface{}{"tier": "disk"})
	logger.Debug("dropped")
	logger.Warn("corrupt entry %s", "k1")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if assert.Len(t, rec.records, 1) {
		record := rec.records[0]
		assert.Equal(t, "[cache] corrupt entry k1", record.Body().AsString())
		assert.Equal(t, log.SeverityWarn, record.Severity())
		assert.Equal(t, 1, record.AttributesLen())
	}
}
