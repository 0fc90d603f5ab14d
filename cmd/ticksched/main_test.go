package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickrt/internal/config"
)

func TestConfigCommandPrintsDefaults(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--config", filepath.Join(t.TempDir(), "absent.yml")})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "ticks_per_sec: 1000")
	assert.Contains(t, out.String(), "signaler_wait: 500")
}

func TestRunDemoStopsAfterDuration(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.TraceCSV = filepath.Join(t.TempDir(), "trace.csv")
	cfg.PublishEvery = 7

	err := runDemo(context.Background(), cfg, 50*time.Millisecond, false)
	assert.NoError(t, err)
	assert.FileExists(t, cfg.TraceCSV)
}
