package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadWorker_Defaults(t *testing.T) {
	config, err := LoadWorker("")
	require.NoError(t, err)
	assert.Equal(t, DefaultWorker(), config)
	assert.NoError(t, config.Validate())
}

func TestLoadWorker_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, "poll_interval: 250ms\nconcurrency: 2\nstep_budget: 10\n")

	config, err := LoadWorker(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, config.PollInterval)
	assert.Equal(t, 2, config.Concurrency)
	assert.Equal(t, 10, config.StepBudget)
	assert.Equal(t, 100, config.BatchSize)
	assert.Equal(t, 30*time.Second, config.LeaseTTL)
}

func TestLoadWorker_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"zero concurrency", "concurrency: 0\n", "Concurrency"},
		{"lease shorter than poll", "poll_interval: 1m\nlease_ttl: 30s\n", "lease_ttl"},
		{"bad yaml", "concurrency: [\n", "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWorker(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadWorker_MissingFile(t *testing.T) {
	_, err := LoadWorker(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
