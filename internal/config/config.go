package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/HMasataka/wsrelay/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" envPrefix:"SERVER_"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket" envPrefix:"WEBSOCKET_"`
	Relay     RelayConfig     `json:"relay" yaml:"relay" envPrefix:"RELAY_"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
	WebRTC    WebRTCConfig    `json:"webrtc" yaml:"webrtc" envPrefix:"WEBRTC_"`
	Logging   logging.Config  `json:"logging" yaml:"logging" envPrefix:"LOGGING_"`
}

// ServerConfig represents HTTP listener configuration
type ServerConfig struct {
	Host              string        `json:"host" yaml:"host" env:"HOST"`
	Port              int           `json:"port" yaml:"port" env:"PORT"`
	Path              string        `json:"path" yaml:"path" env:"PATH"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// WebSocketConfig represents per-connection configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `json:"read_buffer_size" yaml:"read_buffer_size" env:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `json:"write_buffer_size" yaml:"write_buffer_size" env:"WRITE_BUFFER_SIZE"`
	MaxMessageSize  int64         `json:"max_message_size" yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	PongTimeout     time.Duration `json:"pong_timeout" yaml:"pong_timeout" env:"PONG_TIMEOUT"`
	PingInterval    time.Duration `json:"ping_interval" yaml:"ping_interval" env:"PING_INTERVAL"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	SendBufferSize  int           `json:"send_buffer_size" yaml:"send_buffer_size" env:"SEND_BUFFER_SIZE"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// RelayConfig represents broadcast relay configuration
type RelayConfig struct {
	// Strict panics on registry integration faults
	Strict bool `json:"strict" yaml:"strict" env:"STRICT"`
}

// MetricsConfig represents Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Path    string `json:"path" yaml:"path" env:"PATH"`
}

// WebRTCConfig represents peer-side WebRTC configuration
type WebRTCConfig struct {
	ICEServers []ICEServer `json:"ice_servers" yaml:"ice_servers"`
	// ICEURLs replaces ICEServers with credential-less servers when set
	ICEURLs []string `json:"-" yaml:"-" env:"ICE_URLS"`
}

// ICEServer represents an ICE server configuration
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			Path:              "/ws",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			WriteTimeout:    10 * time.Second,
			PongTimeout:     60 * time.Second,
			PingInterval:    30 * time.Second,
			SendBufferSize:  256,
		},
		Relay: RelayConfig{},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		WebRTC: WebRTCConfig{
			ICEServers: []ICEServer{
				{
					URLs: []string{"stun:stun.l.google.com:19302"},
				},
			},
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Address returns the listen address
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if !strings.HasPrefix(c.Server.Path, "/") {
		return NewConfigError("server.path", "path must start with '/'")
	}

	if c.Server.ReadHeaderTimeout < 0 {
		return NewConfigError("server.read_header_timeout", "timeout cannot be negative")
	}

	if c.Server.ShutdownTimeout < 0 {
		return NewConfigError("server.shutdown_timeout", "timeout cannot be negative")
	}

	if c.WebSocket.ReadBufferSize < 0 || c.WebSocket.WriteBufferSize < 0 {
		return NewConfigError("websocket.buffer_size", "buffer size cannot be negative")
	}

	if c.WebSocket.MaxMessageSize < 0 {
		return NewConfigError("websocket.max_message_size", "size cannot be negative")
	}

	if c.WebSocket.SendBufferSize <= 0 {
		return NewConfigError("websocket.send_buffer_size", "must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return NewConfigError("websocket.write_timeout", "must be positive")
	}

	if c.WebSocket.PingInterval < 0 || c.WebSocket.PongTimeout < 0 || c.WebSocket.IdleTimeout < 0 {
		return NewConfigError("websocket", "keepalive durations cannot be negative")
	}

	if c.WebSocket.PingInterval > 0 && c.WebSocket.PongTimeout > 0 && c.WebSocket.PingInterval >= c.WebSocket.PongTimeout {
		return NewConfigError("websocket.ping_interval", "must be shorter than pong_timeout")
	}

	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return NewConfigError("metrics.path", "path must start with '/'")
		}
		if c.Metrics.Path == c.Server.Path {
			return NewConfigError("metrics.path", "must differ from server.path")
		}
	}

	if !logging.ValidFormat(c.Logging.Format) {
		return NewConfigError("logging.format", "must be one of text, json, pretty")
	}

	return nil
}
