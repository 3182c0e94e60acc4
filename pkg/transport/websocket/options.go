package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/HMasataka/wsrelay/internal/eventbus"
	"github.com/HMasataka/wsrelay/internal/logging"
)

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Registry        Registry
	Relay           Relayer
	Logger          *logging.Logger
	EventBus        eventbus.Bus
	Connection      ConnectionOptions
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithRegistry sets the registry connections are tracked in
func WithRegistry(registry Registry) ServerOption {
	return func(o *ServerOptions) {
		o.Registry = registry
	}
}

// WithRelay sets the relay inbound frames are handed to
func WithRelay(relay Relayer) ServerOption {
	return func(o *ServerOptions) {
		o.Relay = relay
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithEventBus sets the event bus for the server
func WithEventBus(eventBus eventbus.Bus) ServerOption {
	return func(o *ServerOptions) {
		o.EventBus = eventBus
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// WithAllowedOrigins only accepts upgrades whose Origin host is listed.
// An empty list accepts any origin.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(o *ServerOptions) {
		if len(origins) == 0 {
			return
		}
		WithCheckOrigin(allowOrigins(origins))(o)
	}
}

// WithBufferSizes sets the upgrader I/O buffer sizes
func WithBufferSizes(read, write int) ServerOption {
	return func(o *ServerOptions) {
		o.ReadBufferSize = read
		o.WriteBufferSize = write
	}
}

// WithConnectionOptions sets the options applied to each accepted connection
func WithConnectionOptions(options ConnectionOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Connection = options
	}
}

func allowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[strings.ToLower(originHost(origin))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(originHost(origin))]
		return ok
	}
}

// originHost accepts either a bare host or a full origin URL
func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}
