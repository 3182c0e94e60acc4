// Package websocket accepts relay clients over WebSocket and drives each
// connection through its CONNECTING, OPEN and CLOSED states.
package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/HMasataka/wsrelay/internal/eventbus"
	"github.com/HMasataka/wsrelay/internal/logging"
	"github.com/HMasataka/wsrelay/pkg/domain"
)

// Registry tracks open connections
type Registry interface {
	Register(conn domain.Connection)
	Unregister(conn domain.Connection)
}

// Relayer forwards a frame received from sender
type Relayer interface {
	Relay(sender domain.Connection, frame domain.Frame)
}

// Server represents a WebSocket server
type Server struct {
	upgrader websocket.Upgrader
	registry Registry
	relay    Relayer
	logger   *logging.Logger
	eventBus eventbus.Bus
	options  ServerOptions
}

// NewServer creates a new WebSocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		Connection: DefaultConnectionOptions(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = logging.Discard()
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		registry: options.Registry,
		relay:    options.Relay,
		logger:   options.Logger,
		eventBus: options.EventBus,
		options:  options,
	}
}

// ServeHTTP implements http.Handler. It returns once the connection is closed
// and unregistered.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	connID := xid.New().String()
	conn := NewConnection(connID, ws, s.logger, s.options.Connection)

	if s.relay != nil {
		conn.OnFrame(func(frame domain.Frame) {
			s.relay.Relay(conn, frame)
		})
	}

	conn.Start()
	if s.registry != nil {
		s.registry.Register(conn)
	}

	s.publish(eventbus.NewEvent(eventbus.EventConnectionOpened, "websocket-server", nil).
		WithMetadata("conn_id", connID).
		WithMetadata("remote_addr", r.RemoteAddr))

	s.logger.Info("client connected",
		"conn_id", connID,
		"remote_addr", r.RemoteAddr,
	)

	<-conn.Context().Done()

	// published before Unregister so a shutdown that drains the registry
	// also drains the event
	s.publish(eventbus.NewEvent(eventbus.EventConnectionClosed, "websocket-server", nil).
		WithMetadata("conn_id", connID))

	if s.registry != nil {
		s.registry.Unregister(conn)
	}

	conn.Wait()

	s.logger.Info("client disconnected", "conn_id", connID)
}

func (s *Server) publish(event *eventbus.Event) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.PublishAsync(event)
}
