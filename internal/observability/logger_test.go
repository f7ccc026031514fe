package observability

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quayside/browserpilot/internal/config"
)

// memorySink captures console output for assertions.
type memorySink struct {
	strings.Builder
}

func (m *memorySink) Sync() error { return nil }

func testLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "browserpilot-test",
	}
}

func TestGetLoggerBeforeInitializeIsNop(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
	// Logging through the nop logger must not panic.
	logger.Info("ignored")
}

func TestInitializedTracksSetup(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	assert.False(t, Initialized())
	Initialize(testLoggerConfig(), zapcore.Lock(&memorySink{}))
	assert.True(t, Initialized())
}

func TestInitializeProducesStructuredOutput(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memorySink{}
	Initialize(testLoggerConfig(), zapcore.Lock(sink))

	GetLogger().Info("Hello.", zap.String("component", "test"))

	line := strings.TrimSpace(sink.String())
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "Hello.", entry["msg"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "browserpilot-test", entry["logger"])
}

func TestInitializeRunsOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &memorySink{}
	second := &memorySink{}
	Initialize(testLoggerConfig(), zapcore.Lock(first))
	Initialize(testLoggerConfig(), zapcore.Lock(second))

	GetLogger().Info("once")
	assert.NotEmpty(t, first.String())
	assert.Empty(t, second.String())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	cfg := testLoggerConfig()
	cfg.Level = "shouting"
	sink := &memorySink{}
	Initialize(cfg, zapcore.Lock(sink))

	GetLogger().Debug("suppressed")
	GetLogger().Info("visible")

	out := sink.String()
	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "visible")
}
