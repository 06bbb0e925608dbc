package logutil

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerTrace(t *testing.T) {
	var b bytes.Buffer
	logger := NewLogger(&b, LevelTrace)

	Trace(context.Background(), logger, "chunk", "lo", 0, "hi", 4)

	out := b.String()
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "source=logutil.go:")
	assert.Contains(t, out, "lo=0")
}

func TestNewLoggerLevel(t *testing.T) {
	var b bytes.Buffer
	logger := NewLogger(&b, slog.LevelInfo)

	logger.Debug("hidden")
	Trace(context.Background(), logger, "hidden too")
	assert.Empty(t, b.String())

	logger.Info("shown")
	assert.Contains(t, b.String(), "msg=shown")
}
