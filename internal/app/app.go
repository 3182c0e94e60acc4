// Package app wires configuration, logging, the event bus, the registry,
// the relay and the HTTP surface into a runnable relay server.
package app

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HMasataka/wsrelay/internal/config"
	"github.com/HMasataka/wsrelay/internal/eventbus"
	"github.com/HMasataka/wsrelay/internal/logging"
	"github.com/HMasataka/wsrelay/internal/metrics"
	"github.com/HMasataka/wsrelay/pkg/errors"
	"github.com/HMasataka/wsrelay/pkg/registry"
	"github.com/HMasataka/wsrelay/pkg/relay"
	"github.com/HMasataka/wsrelay/pkg/transport/websocket"
)

const (
	eventBufferSize        = 1024
	defaultShutdownTimeout = 10 * time.Second
)

// App is a configured relay server
type App struct {
	cfg      *config.Config
	logger   *logging.Logger
	bus      *eventbus.InMemoryBus
	registry *registry.Registry
	relay    *relay.Relay
	ws       *websocket.Server
	handler  http.Handler
}

// New builds the relay server described by cfg
func New(cfg *config.Config, logger *logging.Logger) *App {
	if logger == nil {
		logger = logging.New(cfg.Logging)
	}

	bus := eventbus.NewInMemoryBus(eventBufferSize)
	if cfg.Metrics.Enabled {
		metrics.Observe(bus)
	}

	reg := registry.New(registry.Options{
		Logger: logger,
		Strict: cfg.Relay.Strict,
	})

	rl := relay.New(reg, relay.Options{
		Logger:       logger,
		ErrorHandler: errors.NewDefaultHandler(logger.Logger),
		EventBus:     bus,
	})

	connOpts := websocket.DefaultConnectionOptions()
	connOpts.WriteTimeout = cfg.WebSocket.WriteTimeout
	connOpts.PongTimeout = cfg.WebSocket.PongTimeout
	connOpts.PingInterval = cfg.WebSocket.PingInterval
	connOpts.IdleTimeout = cfg.WebSocket.IdleTimeout
	connOpts.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	connOpts.SendBufferSize = cfg.WebSocket.SendBufferSize

	ws := websocket.NewServer(
		websocket.WithRegistry(reg),
		websocket.WithRelay(rl),
		websocket.WithLogger(logger),
		websocket.WithEventBus(bus),
		websocket.WithBufferSizes(cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize),
		websocket.WithAllowedOrigins(cfg.WebSocket.AllowedOrigins),
		websocket.WithConnectionOptions(connOpts),
	)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		registry: reg,
		relay:    rl,
		ws:       ws,
	}
	a.handler = a.routes()
	return a
}

// Handler returns the HTTP handler serving every endpoint
func (a *App) Handler() http.Handler {
	return a.handler
}

// Registry returns the connection registry
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Relay returns the broadcast relay
func (a *App) Relay() *relay.Relay {
	return a.relay
}

// Run listens on the configured address and serves until ctx is done
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Address())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "LISTEN_ERROR", "failed to listen").
			WithDetails(a.cfg.Server.Address())
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	a.bus.Start(context.Background())
	defer a.bus.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("relay listening",
			"addr", ln.Addr().String(),
			"path", a.cfg.Server.Path,
		)
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, errors.ErrorTypeTransport, "SERVE_ERROR", "http server failed")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down relay")

		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		a.registry.CloseAll()
		a.waitForDrain(shutdownCtx)
		return err
	})

	return g.Wait()
}

// waitForDrain waits until every closed connection has been unregistered
func (a *App) waitForDrain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for a.registry.Len() > 0 {
		select {
		case <-ctx.Done():
			a.logger.Warn("shutdown timed out with open connections", "count", a.registry.Len())
			return
		case <-ticker.C:
		}
	}
}
