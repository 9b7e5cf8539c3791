package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ATMOSCOPE_SIMULATOR", "ATMOSCOPE_DB", "ATMOSCOPE_LISTEN", "ATMOSCOPE_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "atmosim", cfg.Simulator.Binary)
	assert.Equal(t, "plasma", cfg.Defaults.Gas1)
	assert.Equal(t, "tritium", cfg.Defaults.Gas2)
	assert.Equal(t, "oxygen", cfg.Defaults.Gas3)
	assert.Equal(t, "70", cfg.Defaults.Mixt1)
	assert.Equal(t, "1000", cfg.Defaults.Mixt2)
	assert.Equal(t, "200", cfg.Defaults.Thirt1)
	assert.Equal(t, "300", cfg.Defaults.Thirt2)
	assert.False(t, cfg.Defaults.DoRetest)
	assert.Equal(t, 2*time.Minute, cfg.GetSimulatorTimeout())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "atmoscope.yaml")

	cfg := DefaultConfig()
	cfg.Simulator.Binary = "/opt/atmosim/bin/atmosim"
	cfg.Simulator.ExtraArgs = []string{"--quiet"}
	cfg.Defaults.Ticks = "120"
	cfg.Store.Record = true
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "atmoscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulator:\n  timeout: 10s\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.GetSimulatorTimeout())
	assert.Equal(t, "atmosim", cfg.Simulator.Binary)
	assert.Equal(t, "plasma", cfg.Defaults.Gas1)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atmoscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulator: [unclosed"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ATMOSCOPE_SIMULATOR", "/usr/local/bin/atmosim")
	t.Setenv("ATMOSCOPE_DB", "/tmp/runs.db")
	t.Setenv("ATMOSCOPE_LISTEN", ":9000")
	t.Setenv("ATMOSCOPE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/usr/local/bin/atmosim", cfg.Simulator.Binary)
	assert.Equal(t, "/tmp/runs.db", cfg.Store.DatabasePath)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestConfig_EnvOverridesApplyOverFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("ATMOSCOPE_SIMULATOR", "from-env")

	path := filepath.Join(t.TempDir(), "atmoscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulator:\n  binary: from-file\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Simulator.Binary)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty binary", func(c *Config) { c.Simulator.Binary = " " }, "simulator.binary"},
		{"bad timeout", func(c *Config) { c.Simulator.Timeout = "soon" }, "simulator.timeout"},
		{"negative timeout", func(c *Config) { c.Simulator.Timeout = "-1s" }, "must be positive"},
		{"negative transcript cap", func(c *Config) { c.Simulator.MaxTranscriptBytes = -1 }, "max_transcript_bytes"},
		{"no listen", func(c *Config) { c.Server.Listen = "" }, "server.listen"},
		{"negative connection cap", func(c *Config) { c.Server.MaxConnections = -1 }, "server.max_connections"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulator.Binary = ""
	cfg.Server.Listen = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulator.binary")
	assert.Contains(t, err.Error(), "server.listen")
}

func TestGetSimulatorTimeout_Fallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulator.Timeout = "garbage"
	assert.Equal(t, 2*time.Minute, cfg.GetSimulatorTimeout())
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{}
	assert.False(t, lc.IsCategoryEnabled("decode"))

	lc.DebugMode = true
	assert.True(t, lc.IsCategoryEnabled("decode"))

	lc.Categories = map[string]bool{"decode": false}
	assert.False(t, lc.IsCategoryEnabled("decode"))
	assert.True(t, lc.IsCategoryEnabled("store"))
}

func TestLoggingConfig_Options(t *testing.T) {
	lc := LoggingConfig{Level: "warn", Format: "json", File: "x.log", DebugMode: true, Categories: map[string]bool{"store": true}}
	o := lc.Options()
	assert.True(t, o.DebugMode)
	assert.Equal(t, "warn", o.Level)
	assert.Equal(t, "json", o.Format)
	assert.Equal(t, "x.log", o.File)
	assert.Equal(t, map[string]bool{"store": true}, o.Categories)
}
