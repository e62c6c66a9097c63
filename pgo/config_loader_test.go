package pgo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
mqtt:
  broker: tcp://localhost:1883
  publishPrefix: robustpgo
diagnosticsDir: /tmp/diag
graphs:
  - id: robot-a
    topic: slam/robot-a/batch
    color: "#3366ff"
    strategy:
      name: pcm
      pcm:
        odomThreshold: 20.0
        threshold: 9.0
        minClique: 2
  - id: robot-b
    topic: slam/robot-b/batch
    strategy:
      name: gate
      policy: change
      quiet: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "/tmp/diag", cfg.DiagnosticsDir)
	require.Len(t, cfg.Graphs, 2)

	a := cfg.GetGraphByID("robot-a")
	require.NotNil(t, a)
	assert.Equal(t, StrategyPCM, a.Strategy.Name)
	assert.Equal(t, 20.0, a.Strategy.PCM.OdomThreshold)
	assert.Equal(t, 9.0, a.Strategy.PCM.Threshold)
	assert.Equal(t, 2, a.Strategy.PCM.MinClique)

	b := cfg.GetGraphByID("robot-b")
	require.NotNil(t, b)
	assert.Equal(t, PolicyChange, b.Strategy.Policy)
	assert.True(t, b.Strategy.Quiet)

	assert.Nil(t, cfg.GetGraphByID("robot-c"))
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no graphs", "graphs: []\n", "at least one graph"},
		{"missing id", "graphs:\n  - topic: a\n", "id is required"},
		{"duplicate id", "graphs:\n  - id: a\n  - id: a\n", "duplicated"},
		{"missing topic with broker", "mqtt:\n  broker: tcp://x:1883\ngraphs:\n  - id: a\n", "topic is required"},
		{"unknown strategy", "graphs:\n  - id: a\n    strategy:\n      name: magic\n", "unknown outlier strategy"},
		{"unknown policy", "graphs:\n  - id: a\n    strategy:\n      policy: sometimes\n", "unknown reoptimize policy"},
		{"invalid yaml", "graphs: [", "parsing config YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
