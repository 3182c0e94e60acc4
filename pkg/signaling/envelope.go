// Package signaling carries peer-to-peer session setup messages through the
// relay. The relay treats envelopes as opaque text frames; addressing is
// resolved by each receiving peer.
package signaling

import (
	"encoding/json"
	"time"

	"github.com/rs/xid"

	"github.com/HMasataka/wsrelay/pkg/errors"
)

// MessageType identifies the kind of envelope
type MessageType string

const (
	MessageTypeHello     MessageType = "hello"
	MessageTypeOffer     MessageType = "offer"
	MessageTypeAnswer    MessageType = "answer"
	MessageTypeCandidate MessageType = "candidate"
	MessageTypeBye       MessageType = "bye"
)

// Envelope is the JSON unit exchanged between peers
type Envelope struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Hello announces a peer to everyone on the relay
type Hello struct {
	Name string `json:"name,omitempty"`
}

// SessionDescription carries an SDP offer or answer
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate carries one trickled ICE candidate
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// NewEnvelope creates an envelope. An empty to addresses every peer.
func NewEnvelope(messageType MessageType, from, to string, payload any) (*Envelope, error) {
	env := &Envelope{
		ID:        xid.New().String(),
		Type:      messageType,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal envelope payload")
		}
		env.Data = data
	}

	return env, nil
}

// AddressedTo reports whether peerID should act on the envelope
func (e *Envelope) AddressedTo(peerID string) bool {
	return e.To == "" || e.To == peerID
}

// Decode decodes the envelope payload into v
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.New(errors.ErrorTypeProtocol, "EMPTY_PAYLOAD", "envelope has no payload").
			WithDetails(string(e.Type))
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeProtocol, "INVALID_PAYLOAD", "failed to decode envelope payload").
			WithDetails(string(e.Type))
	}
	return nil
}

// Marshal marshals the envelope to bytes
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal envelope")
	}
	return data, nil
}

// Unmarshal parses an envelope received from the relay
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "INVALID_ENVELOPE", "failed to unmarshal envelope")
	}
	if env.Type == "" || env.From == "" {
		return nil, errors.New(errors.ErrorTypeProtocol, "INVALID_ENVELOPE", "envelope is missing type or sender")
	}
	return &env, nil
}
