package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

func TestTestLoggerCapturesLevels(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", ComponentKey, "tracking")
	testLogger.Warn("warning message")
	testLogger.Error("error message", ErrAttrKey, fmt.Errorf("boom"))

	require.NotEmpty(t, buffer.String())
	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		assert.True(t, testLogger.ContainsMessage(msg), msg)
	}
	assert.True(t, testLogger.ContainsField("key1", "value1"))
	assert.True(t, testLogger.ContainsField("number", 42.0))
	assert.True(t, testLogger.ContainsField(ErrAttrKey, "boom"))
}

func TestTestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	runLogger := testLogger.With(RunIDKey, "run-1", SinkNameKey, "memory")
	runLogger.Info("records forwarded", RecordCountKey, 3, EventKindKey, EventIteration)
	testLogger.Debug("filtered out")

	entries, err := testLogger.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0][RunIDKey])
	assert.Equal(t, "memory", entries[0][SinkNameKey])
	assert.Equal(t, 3.0, entries[0][RecordCountKey])
	assert.Equal(t, EventIteration, entries[0][EventKindKey])
}

func TestTestLoggerEnabled(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelWarn)
	ctx := context.Background()

	assert.True(t, testLogger.Enabled(ctx, LevelError))
	assert.True(t, testLogger.Enabled(ctx, LevelWarn))
	assert.False(t, testLogger.Enabled(ctx, LevelInfo))
}

func TestTestLoggerProvider(t *testing.T) {
	provider, buffer := NewTestLoggerProvider(LevelDebug)

	provider.GetLogger().Info("provider message")
	provider.GetLoggerWithName("sinks/sql").Info("named message")

	out := buffer.String()
	assert.Contains(t, out, "provider message")
	assert.Contains(t, out, "sinks/sql")

	provider.SetLevel(LevelError)
	provider.GetLogger().Info("suppressed")
	assert.NotContains(t, buffer.String(), "suppressed")
}

func TestConcurrentTestLogger(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				testLogger.Info("concurrent", "goroutine", id, "message", j)
			}
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf), LevelInfo)

	logger.Debug("hidden")
	logger.With(RunIDKey, "r-9").Warn("non-finite metric",
		PathKey, "metrics/loss",
		StepKey, int64(3),
		"detail", errors.NewNonFiniteWarning("metrics/loss", 3, 1),
	)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "r-9", entry[RunIDKey])
	assert.Equal(t, "metrics/loss", entry[PathKey])
	detail, ok := entry["detail"].(map[string]interface{})
	require.True(t, ok, "typed warnings should be embedded as objects")
	assert.Equal(t, "NonFiniteWarning", detail["type"])

	assert.False(t, logger.Enabled(context.Background(), LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), LevelError))
}

func TestSlogLoggerAddsStacktrace(t *testing.T) {
	var buf bytes.Buffer
	handler := WrapByErrFmtHandler(slog.NewJSONHandler(&buf, nil))
	logger := NewSlogLogger(slog.New(handler))

	logger.Error("append failed", ErrAttrKey, errors.NewTransportError("Append", "sql", 1, errors.New("locked")))

	assert.Contains(t, buf.String(), StacktraceAttrKey)
	assert.Contains(t, buf.String(), "append failed")
}

func TestErrFmtHandlerLiftsErrorFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(WrapByErrFmtHandler(slog.NewJSONHandler(&buf, nil))))

	logger.Warn("rejected", ErrAttrKey, errors.NewSerializationError("params/eta", "unsupported type", struct{}{}))
	logger.Error("append failed", ErrAttrKey, errors.NewTransportError("Append", "mlflow", 3, errors.New("timeout")))
	logger.Info("plain", ErrAttrKey, fmt.Errorf("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var rejected, failed, plain map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rejected))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &plain))

	assert.Equal(t, "SerializationError", rejected[ErrorTypeKey])
	assert.Equal(t, "params/eta", rejected[PathKey])

	assert.Equal(t, "TransportError", failed[ErrorTypeKey])
	assert.Equal(t, "mlflow", failed[SinkNameKey])
	assert.Equal(t, 3.0, failed[RecordCountKey])

	assert.NotContains(t, plain, ErrorTypeKey)
	assert.NotContains(t, plain, StacktraceAttrKey)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{"debug": LevelDebug, "INFO": LevelInfo, "": LevelInfo, "warning": LevelWarn, "error": LevelError}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestSetupInstallsDefault(t *testing.T) {
	defer SetLogger(nil)

	var buf bytes.Buffer
	logger, err := Setup(&buf, LevelDebug, "json")
	require.NoError(t, err)
	assert.Same(t, logger, GetLogger())

	GetLogger().Info("hello", ComponentKey, "cli")
	assert.Contains(t, buf.String(), `"component":"cli"`)

	_, err = Setup(&buf, LevelDebug, "xml")
	assert.Error(t, err)
}
