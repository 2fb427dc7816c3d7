package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "WARN", Out: &buf})
	require.NoError(t, err)

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Out: &buf})
	require.NoError(t, err)

	c := Component(l, "pool")
	c.Info().Msg("polled")
	assert.Contains(t, buf.String(), "component=pool")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "miner.log")
	var buf bytes.Buffer
	l, err := New(Options{Out: &buf, File: path})
	require.NoError(t, err)

	l.Info().Str("device", "cpu0").Msg("started")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"device":"cpu0"`)
	assert.Contains(t, string(data), `"message":"started"`)
}
