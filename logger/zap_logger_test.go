package logger

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorWithCauseUnwrapsRootCause(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	log := NewZapWrapper(zap.New(core))

	root := errors.New("connection refused")
	wrapped := errors.Wrap(errors.Wrap(root, "dial failed"), "sweep failed")

	log.ErrorWithCause("Janitor sweep failed", wrapped, zap.String("job", "sweep"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Janitor sweep failed", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "connection refused", fields["error"])
	assert.Equal(t, "sweep", fields["job"])
}

func TestErrorWithCauseNilError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	log := NewZapWrapper(zap.New(core))

	log.ErrorWithCause("something failed", nil, zap.String("job", "sweep"))

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	_, hasError := fields["error"]
	assert.False(t, hasError)
	assert.Equal(t, "sweep", fields["job"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("unknown"))
}
