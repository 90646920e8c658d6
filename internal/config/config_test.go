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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.FleetSize)
	assert.Equal(t, 15*time.Second, cfg.ScanWindow())
	assert.Equal(t, 30*time.Second, cfg.ScanInterval())
	assert.Equal(t, 100.0, cfg.ExpectedHz)
	assert.Equal(t, 5*time.Second, cfg.StatsWindow())
	assert.Equal(t, 20*time.Second, cfg.PollInterval())
	assert.Equal(t, 30*24*time.Hour, cfg.Retention())
	assert.Equal(t, 185, cfg.MTU)
	assert.Equal(t, "sessions", cfg.SessionDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesKeepUnstatedDefaults(t *testing.T) {
	path := writeConfig(t, "expected_hz: 200\nsession_dir: /tmp/drills\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 200.0, cfg.ExpectedHz)
	assert.Equal(t, "/tmp/drills", cfg.SessionDir)
	assert.Equal(t, 3, cfg.FleetSize, "unstated field keeps its default")
	assert.Equal(t, 15, cfg.ScanSeconds)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero fleet", "fleet_size: 0"},
		{"negative rate", "expected_hz: -1"},
		{"interval shorter than window", "scan_seconds: 20\nscan_interval_seconds: 10"},
		{"empty session dir", `session_dir: ""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
