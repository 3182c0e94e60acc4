// Package domaintest provides an in-memory domain.Connection for tests.
package domaintest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/HMasataka/wsrelay/pkg/domain"
)

// Conn records every frame sent to it
type Conn struct {
	id     string
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	frames  []domain.Frame
	sendErr error
	onSend  func(context.Context, domain.Frame)
}

// NewConn returns an open connection
func NewConn(id string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{id: id, ctx: ctx, cancel: cancel}
	c.state.Store(int32(domain.StateOpen))
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() domain.State { return domain.State(c.state.Load()) }

func (c *Conn) Context() context.Context { return c.ctx }

// Send records frame, or returns the error configured with FailWith
func (c *Conn) Send(ctx context.Context, frame domain.Frame) error {
	c.mu.Lock()
	if c.State() == domain.StateClosed {
		c.mu.Unlock()
		return domain.ErrConnectionClosed
	}
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	c.frames = append(c.frames, frame)
	onSend := c.onSend
	c.mu.Unlock()

	if onSend != nil {
		onSend(ctx, frame)
	}
	return nil
}

// Close marks the connection closed. A Send that has not recorded its
// frame by then fails with ErrConnectionClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.state.Store(int32(domain.StateClosed))
	c.mu.Unlock()
	c.cancel()
	return nil
}

// FailWith makes every later Send return err
func (c *Conn) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// OnSend installs a hook run after a frame is recorded
func (c *Conn) OnSend(fn func(context.Context, domain.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = fn
}

// Frames returns a copy of the recorded frames
func (c *Conn) Frames() []domain.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Frame(nil), c.frames...)
}

// Payloads returns the recorded frame data as strings
func (c *Conn) Payloads() []string {
	frames := c.Frames()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, string(f.Data))
	}
	return out
}
