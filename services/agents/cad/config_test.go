package cad

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api":"https://dispatch.example.com/","agent_id":"ws-7","job_root":"/jobs"}`), 0o644))
	t.Setenv("SLS_TOKEN", "abc")
	t.Setenv("JOB_ROOT", "/srv/jobs")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://dispatch.example.com", cfg.API)
	assert.Equal(t, "ws-7", cfg.AgentID)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, "/srv/jobs", cfg.JobRoot)
	assert.Equal(t, 15, cfg.InactivityMinutes)
	assert.Equal(t, defaultInterval, cfg.Interval)
	assert.Equal(t, DefaultTargetApps, cfg.TargetApps)
}

func TestLoadConfigMissingFileUsesEnv(t *testing.T) {
	t.Setenv("SLS_BASE", "https://dispatch.example.com")
	t.Setenv("SLS_AGENT_ID", "ws-9")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "ws-9", cfg.AgentID)
}

func TestLoadConfigRequiresHTTPS(t *testing.T) {
	t.Setenv("SLS_BASE", "http://dispatch.local")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https")

	t.Setenv("SLS_ALLOW_INSECURE_HTTP", "yes")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://dispatch.local", cfg.API)
}

func TestLoadConfigRejectsMissingAPI(t *testing.T) {
	t.Setenv("SLS_BASE", "")
	_, err := LoadConfig("")
	require.Error(t, err)
}

func TestEnsureHTTPS(t *testing.T) {
	assert.NoError(t, ensureHTTPS("https://x", false))
	assert.Error(t, ensureHTTPS("dispatch.local", true))
	assert.Error(t, ensureHTTPS("ftp://x", false))
	assert.NoError(t, ensureHTTPS("ftp://x", true))
}
