package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/HMasataka/wsrelay/internal/logging"
	"github.com/HMasataka/wsrelay/pkg/domain"
)

// ConnectionOptions represents per-connection options
type ConnectionOptions struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	IdleTimeout    time.Duration // 0 disables idle teardown
	MaxMessageSize int64         // 0 means no limit
	SendBufferSize int
	Clock          clockwork.Clock
}

// DefaultConnectionOptions returns default connection options
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		SendBufferSize: 256,
		Clock:          clockwork.NewRealClock(),
	}
}

// Connection implements domain.Connection over a gorilla websocket
type Connection struct {
	id       string
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	options  ConnectionOptions
	clock    clockwork.Clock
	state    atomic.Int32
	sendChan chan domain.Frame
	handler  domain.FrameHandler

	lastActivity atomic.Int64 // unix nanos on clock
	closeOnce    sync.Once
	abortOnce    sync.Once
	wg           sync.WaitGroup
}

// NewConnection wraps an upgraded websocket. The connection stays CONNECTING until Start.
func NewConnection(id string, conn *websocket.Conn, logger *logging.Logger, options ConnectionOptions) *Connection {
	if options.Clock == nil {
		options.Clock = clockwork.NewRealClock()
	}
	if options.SendBufferSize <= 0 {
		options.SendBufferSize = DefaultConnectionOptions().SendBufferSize
	}
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Connection{
		id:       id,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithFields(map[string]any{"conn_id": id}),
		options:  options,
		clock:    options.Clock,
		sendChan: make(chan domain.Frame, options.SendBufferSize),
	}
	c.state.Store(int32(domain.StateConnecting))
	return c
}

// ID implements domain.Connection
func (c *Connection) ID() string {
	return c.id
}

// State implements domain.Connection
func (c *Connection) State() domain.State {
	return domain.State(c.state.Load())
}

// Context implements domain.Connection
func (c *Connection) Context() context.Context {
	return c.ctx
}

// OnFrame sets the handler invoked for every inbound data frame. Call before Start.
func (c *Connection) OnFrame(handler domain.FrameHandler) {
	c.handler = handler
}

// Send implements domain.Connection. It enqueues without blocking.
func (c *Connection) Send(ctx context.Context, frame domain.Frame) error {
	if c.State() != domain.StateOpen {
		return domain.ErrConnectionClosed
	}

	select {
	case <-c.ctx.Done():
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return domain.ErrTimeout
	default:
	}

	select {
	case c.sendChan <- frame:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

// Close implements domain.Connection. It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(domain.StateClosed))
		c.cancel()
		c.logger.Debug("closing connection")
	})
	return nil
}

// Start opens the connection and starts its pumps. A connection closed
// before Start never opens; its socket is closed here instead.
func (c *Connection) Start() {
	c.touch()
	if !c.state.CompareAndSwap(int32(domain.StateConnecting), int32(domain.StateOpen)) {
		if c.State() == domain.StateClosed {
			c.closeUnstarted()
		}
		return
	}

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()

	if c.options.IdleTimeout > 0 {
		c.wg.Add(1)
		go c.idlePump()
	}
}

// Wait blocks until every pump has returned
func (c *Connection) Wait() {
	c.wg.Wait()
}

func (c *Connection) touch() {
	c.lastActivity.Store(c.clock.Now().UnixNano())
}

func (c *Connection) extendReadDeadline() {
	if c.options.PongTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.options.PongTimeout))
	}
}

// readPump pumps frames from the websocket connection
func (c *Connection) readPump() {
	defer c.wg.Done()
	defer func() {
		c.logger.Debug("read pump stopped")
		c.Close()
	}()

	if c.options.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.options.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.extendReadDeadline()
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				c.ctx.Err() == nil {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		c.touch()
		c.extendReadDeadline()

		var kind domain.FrameKind
		switch messageType {
		case websocket.TextMessage:
			kind = domain.FrameText
		case websocket.BinaryMessage:
			kind = domain.FrameBinary
		default:
			continue
		}

		if c.handler != nil {
			c.handler(domain.Frame{Kind: kind, Data: data})
		}
	}
}

// writePump drains the send queue and keeps the peer alive with pings
func (c *Connection) writePump() {
	defer c.wg.Done()
	defer func() {
		c.logger.Debug("write pump stopped")
		c.Close()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("error closing websocket connection", "error", err)
		}
	}()

	var pings <-chan time.Time
	if c.options.PingInterval > 0 {
		ticker := c.clock.NewTicker(c.options.PingInterval)
		defer ticker.Stop()
		pings = ticker.Chan()
	}

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			c.writeClose()
			return

		case frame := <-c.sendChan:
			if err := c.write(frame); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-pings:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("websocket ping error", "error", err)
				return
			}
		}
	}
}

// idlePump closes the connection after IdleTimeout without inbound traffic
func (c *Connection) idlePump() {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.options.IdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.Chan():
			last := time.Unix(0, c.lastActivity.Load())
			if now.Sub(last) >= c.options.IdleTimeout {
				c.logger.Info("closing idle connection", "idle_for", now.Sub(last).String())
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) write(frame domain.Frame) error {
	messageType := websocket.TextMessage
	if frame.Kind == domain.FrameBinary {
		messageType = websocket.BinaryMessage
	}

	c.setWriteDeadline()
	return c.conn.WriteMessage(messageType, frame.Data)
}

// flush writes frames accepted before Close
func (c *Connection) flush() {
	for {
		select {
		case frame := <-c.sendChan:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(time.Second)
	if c.options.WriteTimeout > 0 {
		deadline = time.Now().Add(c.options.WriteTimeout)
	}
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.logger.Debug("failed to write close frame", "error", err)
	}
}

func (c *Connection) closeUnstarted() {
	c.abortOnce.Do(func() {
		c.writeClose()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("error closing websocket connection", "error", err)
		}
	})
}

func (c *Connection) setWriteDeadline() {
	if c.options.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
	}
}
