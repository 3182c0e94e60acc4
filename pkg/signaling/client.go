package signaling

import (
	"context"
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/HMasataka/wsrelay/internal/logging"
	"github.com/HMasataka/wsrelay/pkg/domain"
	"github.com/HMasataka/wsrelay/pkg/errors"
	"github.com/HMasataka/wsrelay/pkg/transport/websocket"
)

// ClientOptions represents signaling client options
type ClientOptions struct {
	// PeerID identifies this peer in envelopes. Generated when empty.
	PeerID       string
	Name         string
	Logger       *logging.Logger
	ErrorHandler errors.Handler
	Header       http.Header
	Connection   websocket.ConnectionOptions
}

// DefaultClientOptions returns default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Connection: websocket.DefaultConnectionOptions(),
	}
}

// Client is a peer's signaling channel over the relay
type Client struct {
	url          string
	options      ClientOptions
	peerID       string
	logger       *logging.Logger
	errorHandler errors.Handler
	handlers     *HandlerRegistry
	conn         *websocket.Connection
}

// NewClient creates a signaling client for the relay at serverURL
func NewClient(serverURL string, options ClientOptions) *Client {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.PeerID == "" {
		options.PeerID = xid.New().String()
	}
	if options.ErrorHandler == nil {
		options.ErrorHandler = errors.NewDefaultHandler(options.Logger.Logger)
	}

	return &Client{
		url:          serverURL,
		options:      options,
		peerID:       options.PeerID,
		logger:       options.Logger.WithFields(map[string]any{"peer_id": options.PeerID}),
		errorHandler: options.ErrorHandler,
		handlers:     NewHandlerRegistry(),
	}
}

// ID returns the local peer ID
func (c *Client) ID() string {
	return c.peerID
}

// On registers the handler for messageType. Register handlers before Connect.
func (c *Client) On(messageType MessageType, handler HandlerFunc) {
	c.handlers.Register(messageType, handler)
}

// Connect dials the relay and announces the peer with a hello envelope
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to relay", "url", c.url)

	ws, _, err := gorillaws.DefaultDialer.DialContext(ctx, c.url, c.options.Header)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "DIAL_ERROR", "failed to connect to relay")
	}

	c.conn = websocket.NewConnection(c.peerID, ws, c.logger, c.options.Connection)
	c.conn.OnFrame(c.handleFrame)
	c.conn.Start()

	if err := c.Send(ctx, MessageTypeHello, "", Hello{Name: c.options.Name}); err != nil {
		c.conn.Close()
		return err
	}

	c.logger.Info("connected to relay", "url", c.url)
	return nil
}

// Send wraps payload in an envelope and sends it through the relay.
// An empty to addresses every peer.
func (c *Client) Send(ctx context.Context, messageType MessageType, to string, payload any) error {
	if c.conn == nil {
		return errors.New(errors.ErrorTypeTransport, "NOT_CONNECTED", "not connected to relay")
	}

	env, err := NewEnvelope(messageType, c.peerID, to, payload)
	if err != nil {
		return err
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	if err := c.conn.Send(ctx, domain.TextFrame(string(data))); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "SEND_ERROR", "failed to send envelope").
			WithDetails(string(messageType))
	}

	c.logger.Debug("envelope sent", "type", messageType, "to", to)
	return nil
}

// Done is closed once the relay connection is gone
func (c *Client) Done() <-chan struct{} {
	if c.conn == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.conn.Context().Done()
}

// Close says bye to the other peers and closes the relay connection
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	if c.conn.State() == domain.StateOpen {
		if err := c.Send(context.Background(), MessageTypeBye, "", nil); err != nil {
			c.logger.Debug("failed to send bye", "error", err)
		}
	}

	err := c.conn.Close()
	c.conn.Wait()
	return err
}

func (c *Client) handleFrame(frame domain.Frame) {
	env, err := Unmarshal(frame.Data)
	if err != nil {
		c.errorHandler.Handle(c.conn.Context(), err, "peer_id", c.peerID)
		return
	}

	if env.From == c.peerID || !env.AddressedTo(c.peerID) {
		return
	}

	if err := c.handlers.Handle(c.conn.Context(), env); err != nil {
		c.errorHandler.Handle(c.conn.Context(), err,
			"peer_id", c.peerID,
			"from", env.From,
			"type", string(env.Type),
		)
	}
}
