package peer

import "errors"

var (
	// ErrDataChannelNotOpen is returned when sending on a data channel that is not open
	ErrDataChannelNotOpen = errors.New("data channel is not open")

	// ErrSessionClosed is returned when operating on a closed session
	ErrSessionClosed = errors.New("session is closed")

	// ErrBusy is returned when an offer arrives from a peer other than the current target
	ErrBusy = errors.New("session already negotiating with another peer")
)
