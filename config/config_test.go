package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestFromEnv_Defaults(t *testing.T) {
	config, err := FromEnv(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, "sqlite://data.db", config.DatabaseURL)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "cfuzz", config.ServiceName)
	assert.Equal(t, ":8080", config.ListenAddr)
	assert.Equal(t, time.Second, config.RunnerConfig.PollInterval)
	assert.Zero(t, config.RunnerConfig.RunTimeout)
	assert.Equal(t, "git", config.RunnerConfig.GitBinary)
	assert.Equal(t, "cargo", config.RunnerConfig.CargoBinary)
	assert.False(t, config.TelemetryEnabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	config, err := FromEnv(envOf(map[string]string{
		"DATABASE_URL":                "postgres://u:p@db/cfuzz",
		"POLL_INTERVAL":               "250ms",
		"RUN_TIMEOUT":                 "3600",
		"WORK_DIR":                    "/tmp/ws",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db/cfuzz", config.DatabaseURL)
	assert.Equal(t, 250*time.Millisecond, config.RunnerConfig.PollInterval)
	assert.Equal(t, time.Hour, config.RunnerConfig.RunTimeout)
	assert.Equal(t, "/tmp/ws", config.RunnerConfig.WorkDir)
	assert.True(t, config.TelemetryEnabled())
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad poll interval":   {"POLL_INTERVAL": "soon"},
		"zero poll interval":  {"POLL_INTERVAL": "0s"},
		"negative timeout":    {"RUN_TIMEOUT": "-1s"},
		"sentinel w/o master": {"REDIS_SENTINEL_HOSTS": "a:26379"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(envOf(env))
			assert.Error(t, err)
		})
	}
}
