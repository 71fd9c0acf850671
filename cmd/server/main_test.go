//go:build linux || darwin || freebsd || netbsd || openbsd

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/VoolFI71/pollkv/internal/config"
)

func TestLogConfig(t *testing.T) {
	cfg := config.Default()

	core, logs := observer.New(zapcore.InfoLevel)
	logConfig(zap.New(core), &cfg)
	assert.Zero(t, logs.Len())

	core, logs = observer.New(zapcore.DebugLevel)
	logConfig(zap.New(core), &cfg)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Contains(t, fields["config"], "SERVER")
	assert.Contains(t, fields["config"], "1234")
}
