package peer

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/HMasataka/wsrelay/internal/logging"
)

// DataChannel wraps a WebRTC data channel
type DataChannel struct {
	dc     *webrtc.DataChannel
	logger *logging.Logger

	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64

	onOpen    func()
	onClose   func()
	onMessage func([]byte)

	mu sync.RWMutex
}

// DataChannelStats represents data channel counters
type DataChannelStats struct {
	Label        string `json:"label"`
	State        string `json:"state"`
	MessagesSent int64  `json:"messages_sent"`
	MessagesRecv int64  `json:"messages_recv"`
	BytesSent    int64  `json:"bytes_sent"`
	BytesRecv    int64  `json:"bytes_recv"`
}

func newDataChannel(dc *webrtc.DataChannel, logger *logging.Logger) *DataChannel {
	d := &DataChannel{
		dc:     dc,
		logger: logger.WithFields(map[string]any{"label": dc.Label()}),
	}
	d.setupEventHandlers()
	return d
}

// Label returns the data channel label
func (d *DataChannel) Label() string {
	return d.dc.Label()
}

// ReadyState returns the data channel ready state
func (d *DataChannel) ReadyState() webrtc.DataChannelState {
	return d.dc.ReadyState()
}

// Send sends data over the data channel
func (d *DataChannel) Send(data []byte) error {
	if d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrDataChannelNotOpen
	}
	if err := d.dc.Send(data); err != nil {
		return err
	}

	d.messagesSent.Add(1)
	d.bytesSent.Add(int64(len(data)))
	return nil
}

// SendText sends text over the data channel
func (d *DataChannel) SendText(text string) error {
	if d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrDataChannelNotOpen
	}
	if err := d.dc.SendText(text); err != nil {
		return err
	}

	d.messagesSent.Add(1)
	d.bytesSent.Add(int64(len(text)))
	return nil
}

// Close closes the data channel
func (d *DataChannel) Close() error {
	return d.dc.Close()
}

// OnOpen sets the open event handler
func (d *DataChannel) OnOpen(handler func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = handler
}

// OnClose sets the close event handler
func (d *DataChannel) OnClose(handler func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = handler
}

// OnMessage sets the message event handler
func (d *DataChannel) OnMessage(handler func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = handler
}

// Stats returns data channel statistics
func (d *DataChannel) Stats() DataChannelStats {
	return DataChannelStats{
		Label:        d.Label(),
		State:        d.ReadyState().String(),
		MessagesSent: d.messagesSent.Load(),
		MessagesRecv: d.messagesRecv.Load(),
		BytesSent:    d.bytesSent.Load(),
		BytesRecv:    d.bytesRecv.Load(),
	}
}

func (d *DataChannel) setupEventHandlers() {
	d.dc.OnOpen(func() {
		d.logger.Info("data channel opened")

		d.mu.RLock()
		handler := d.onOpen
		d.mu.RUnlock()

		if handler != nil {
			handler()
		}
	})

	d.dc.OnClose(func() {
		d.logger.Info("data channel closed")

		d.mu.RLock()
		handler := d.onClose
		d.mu.RUnlock()

		if handler != nil {
			handler()
		}
	})

	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.messagesRecv.Add(1)
		d.bytesRecv.Add(int64(len(msg.Data)))

		d.mu.RLock()
		handler := d.onMessage
		d.mu.RUnlock()

		if handler != nil {
			handler(msg.Data)
		}
	})

	d.dc.OnError(func(err error) {
		d.logger.Warn("data channel error", "error", err)
	})
}
