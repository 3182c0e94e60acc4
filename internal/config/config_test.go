package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Environ: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, 256, cfg.WebSocket.SendBufferSize)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.False(t, cfg.Relay.Strict)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
server:
  port: 9000
  path: /signal
websocket:
  idle_timeout: 2m
  allowed_origins: ["https://app.example"]
relay:
  strict: true
logging:
  level: debug
  format: json
`)

	cfg, err := Load(LoadOptions{Path: path, Environ: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/signal", cfg.Server.Path)
	assert.Equal(t, 2*time.Minute, cfg.WebSocket.IdleTimeout)
	assert.Equal(t, []string{"https://app.example"}, cfg.WebSocket.AllowedOrigins)
	assert.True(t, cfg.Relay.Strict)
	assert.Equal(t, "json", cfg.Logging.Format)
	// untouched keys keep their defaults
	assert.Equal(t, 1024, cfg.WebSocket.ReadBufferSize)
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "relay.json", `{"server": {"port": 7000}}`)

	cfg, err := Load(LoadOptions{Path: path, Environ: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "relay.yaml", "server:\n  port: 9000\n")

	cfg, err := Load(LoadOptions{
		Path: path,
		Environ: map[string]string{
			"RELAY_SERVER_PORT":               "9100",
			"RELAY_LOGGING_LEVEL":             "warn",
			"RELAY_RELAY_STRICT":              "true",
			"RELAY_WEBSOCKET_ALLOWED_ORIGINS": "a.example,b.example",
			"RELAY_METRICS_ENABLED":           "false",
			"RELAY_WEBRTC_ICE_URLS":           "stun:stun.example:3478",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Relay.Strict)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.WebSocket.AllowedOrigins)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []ICEServer{{URLs: []string{"stun:stun.example:3478"}}}, cfg.WebRTC.ICEServers)
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := writeFile(t, "test.env", "RELAY_SERVER_PORT=9300\n")
	t.Setenv("RELAY_SERVER_PORT", "")
	os.Unsetenv("RELAY_SERVER_PORT")

	cfg, err := Load(LoadOptions{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Server.Port)
}

func TestLoad_MissingExplicitEnvFile(t *testing.T) {
	_, err := Load(LoadOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.Error(t, err)
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "relay.toml", "")

	_, err := Load(LoadOptions{Path: path, Environ: map[string]string{}})
	assert.ErrorContains(t, err, "unsupported config file format")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "port", mutate: func(c *Config) { c.Server.Port = 70000 }, field: "server.port"},
		{name: "path", mutate: func(c *Config) { c.Server.Path = "ws" }, field: "server.path"},
		{name: "send buffer", mutate: func(c *Config) { c.WebSocket.SendBufferSize = 0 }, field: "websocket.send_buffer_size"},
		{name: "ping after pong", mutate: func(c *Config) { c.WebSocket.PingInterval = 2 * time.Minute }, field: "websocket.ping_interval"},
		{name: "metrics path clash", mutate: func(c *Config) { c.Metrics.Path = "/ws" }, field: "metrics.path"},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, field: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()

			var cfgErr *ConfigError
			require.True(t, stderrors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	assert.NoError(t, Default().Validate())
}
