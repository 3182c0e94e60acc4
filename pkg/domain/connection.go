package domain

import (
	"context"
)

// State is the observed lifecycle state of a connection
type State int32

const (
	// StateConnecting is the state before the transport handshake completes
	StateConnecting State = iota
	// StateOpen means the connection is eligible to receive relayed frames
	StateOpen
	// StateClosed is terminal; a closed connection is never reopened
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameKind is the message type a frame was received with
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

func (k FrameKind) String() string {
	if k == FrameBinary {
		return "binary"
	}
	return "text"
}

// Frame is one opaque payload together with the kind it arrived as.
// The relay never looks inside Data.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// TextFrame builds a text frame from s
func TextFrame(s string) Frame {
	return Frame{Kind: FrameText, Data: []byte(s)}
}

// BinaryFrame builds a binary frame from b
func BinaryFrame(b []byte) Frame {
	return Frame{Kind: FrameBinary, Data: b}
}

// Connection is a client session owned by the transport layer.
// Identity is reference equality; ID exists for logs and metrics only.
type Connection interface {
	// ID returns a diagnostic identifier
	ID() string

	// State returns the current lifecycle state
	State() State

	// Send queues a frame for delivery without waiting for the write
	Send(ctx context.Context, frame Frame) error

	// Close moves the connection to StateClosed; further calls are no-ops
	Close() error

	// Context is done once the connection is closed
	Context() context.Context
}

// FrameHandler handles a frame read from a connection
type FrameHandler func(frame Frame)
