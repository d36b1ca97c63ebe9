package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestKVLogger_ForwardsKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	kv := NewKVLogger(zap.New(core))

	kv.Info("Proposal approved", "proposal_id", int64(7), "transition", "approved")
	kv.Error("Send failed", "recipient", "a@example.gov")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Proposal approved", entries[0].Message)
	assert.Equal(t, int64(7), entries[0].ContextMap()["proposal_id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "a@example.gov", entries[1].ContextMap()["recipient"])
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "c2.log")
	logger, err := NewLogger(LoggerConfig{Level: "bogus", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.FileExists(t, path)
}

func TestToZapFields_DropsBadPairs(t *testing.T) {
	fields := ToZapFields("proposal_id", int64(3), 42, "skipped", "dangling")
	require.Len(t, fields, 1)
	assert.Equal(t, "proposal_id", fields[0].Key)
}
