package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/alloy/pkg/cluster"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

const sampleTOML = `
mode = "single"
single_strategy = "round_robin"
merge = "combine"
max_nodes_to_query = 3
call_timeout = "45s"
load_aware = true
refresh_interval = "1m"

[health]
decay = 0.25
floor = 0.0
unhealthy_after = 2

[log]
level = "debug"
format = "json"

[[nodes]]
base_url = "http://gpu-a:8000"
name = "gpu-a"
weight = 3.0
tags = ["chat", "image"]

[[nodes]]
base_url = "http://gpu-b:8000"

[[nodes]]
base_url = "http://gpu-c:8000"
weight = 0.0
`

const sampleYAML = `
mode: broadcast
call_timeout: 10s
refresh_before_dispatch: true
nodes:
  - base_url: http://a:8000
    weight: 2
  - base_url: http://b:8000
    name: b
    tags: [llama3]
`

// TestLoadTOML reads every supported key from a TOML file.
func TestLoadTOML(t *testing.T) {
	cfg, err := LoadWithEnv(writeFile(t, "alloy.toml", sampleTOML), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "single", cfg.Mode)
	assert.Equal(t, "round_robin", cfg.SingleStrategy)
	assert.Equal(t, "combine", cfg.Merge)
	assert.Equal(t, 3, cfg.MaxNodesToQuery)
	assert.Equal(t, 45*time.Second, cfg.CallTimeout.Duration)
	assert.Equal(t, time.Minute, cfg.RefreshInterval.Duration)
	assert.Equal(t, HealthConfig{Decay: 0.25, Floor: 0, UnhealthyAfter: 2}, cfg.Health)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
	assert.True(t, cfg.LoadAware)
	assert.False(t, cfg.RefreshBeforeDispatch)
	assert.Equal(t, cluster.DefaultMaxParallel, cfg.MaxParallel, "unset keys keep defaults")

	nodes := cfg.ClusterNodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, cluster.NodeConfig{BaseURL: "http://gpu-a:8000", Name: "gpu-a", Weight: 3, Tags: []string{"chat", "image"}}, nodes[0])
	assert.Equal(t, 1.0, nodes[1].Weight, "omitted weight defaults to 1")
	assert.Equal(t, 0.0, nodes[2].Weight, "explicit zero weight is kept")
}

// TestLoadYAML picks the YAML decoder by extension.
func TestLoadYAML(t *testing.T) {
	cfg, err := LoadWithEnv(writeFile(t, "alloy.yaml", sampleYAML), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "broadcast", cfg.Mode)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout.Duration)
	assert.True(t, cfg.RefreshBeforeDispatch)
	nodes := cfg.ClusterNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, 2.0, nodes[0].Weight)
	assert.Equal(t, []string{"llama3"}, nodes[1].Tags)
}

// TestEnvOverrides replaces file values with ALLOY_* variables.
func TestEnvOverrides(t *testing.T) {
	env := envMap(map[string]string{
		EnvNodes:       "http://x:1, http://y:2,",
		EnvMode:        "broadcast",
		EnvMaxNodes:    "5",
		EnvCallTimeout: "2s",
		EnvLogLevel:    "warn",
	})

	cfg, err := LoadWithEnv(writeFile(t, "alloy.toml", sampleTOML), env)
	require.NoError(t, err)

	assert.Equal(t, "broadcast", cfg.Mode)
	assert.Equal(t, 5, cfg.MaxNodesToQuery)
	assert.Equal(t, 2*time.Second, cfg.CallTimeout.Duration)
	assert.Equal(t, "warn", cfg.Log.Level)
	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, "http://x:1", cfg.Nodes[0].BaseURL)
	assert.Equal(t, "http://y:2", cfg.Nodes[1].BaseURL)
}

// TestLoadWithoutFile relies on the environment alone.
func TestLoadWithoutFile(t *testing.T) {
	cfg, err := LoadWithEnv("", envMap(map[string]string{EnvNodes: "http://a"}))
	require.NoError(t, err)
	assert.Equal(t, string(cluster.ModeControlledQuerying), cfg.Mode)
	assert.Equal(t, cluster.DefaultCallTimeout, cfg.CallTimeout.Duration)

	_, err = LoadWithEnv("", noEnv)
	assert.ErrorContains(t, err, "no nodes configured")
}

// TestLoadErrors covers unreadable files, parse errors and bad values.
func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		env     map[string]string
		wantErr string
	}{
		{"bad toml", "a.toml", "mode = ", nil, "parse config"},
		{"bad yaml", "a.yaml", "nodes: [", nil, "parse config"},
		{"bad duration", "a.toml", "call_timeout = \"soon\"\n[[nodes]]\nbase_url = \"http://a\"", nil, "invalid duration"},
		{"bad mode", "a.toml", "mode = \"fastest\"\n[[nodes]]\nbase_url = \"http://a\"", nil, "unknown query mode"},
		{"bad merge", "a.toml", "merge = \"union\"\n[[nodes]]\nbase_url = \"http://a\"", nil, "unknown merge policy"},
		{"bad level", "a.toml", "[log]\nlevel = \"loud\"\n[[nodes]]\nbase_url = \"http://a\"", nil, "unknown log level"},
		{"bad format", "a.toml", "[log]\nformat = \"xml\"\n[[nodes]]\nbase_url = \"http://a\"", nil, "unknown log format"},
		{"zero max nodes", "a.toml", "max_nodes_to_query = 0\n[[nodes]]\nbase_url = \"http://a\"", nil, "max_nodes_to_query"},
		{"bad env int", "a.toml", "[[nodes]]\nbase_url = \"http://a\"", map[string]string{EnvMaxNodes: "many"}, EnvMaxNodes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithEnv(writeFile(t, tt.file, tt.content), envMap(tt.env))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.toml"), noEnv)
	assert.ErrorContains(t, err, "read config")
}

// TestNewManager builds a working manager from a loaded config.
func TestNewManager(t *testing.T) {
	cfg, err := LoadWithEnv(writeFile(t, "alloy.toml", sampleTOML), noEnv)
	require.NoError(t, err)

	m, err := cfg.NewManager(cfg.Logger(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.Equal(t, cluster.ModeSingle, m.Mode())
	assert.Len(t, m.Nodes(), 3)
	assert.Equal(t, cluster.HealthPolicy{Decay: 0.25, Floor: 0, UnhealthyAfter: 2}, m.HealthState().Policy())
}

// TestLogger honours level and format.
func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}

	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "node", "gpu-a")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"node":"gpu-a"`)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
