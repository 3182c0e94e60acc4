// Package peer negotiates a WebRTC session with another peer, using the
// relay as its signaling channel.
package peer

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/HMasataka/wsrelay/internal/logging"
	"github.com/HMasataka/wsrelay/pkg/errors"
	"github.com/HMasataka/wsrelay/pkg/signaling"
)

// Signaler is the signaling channel a session negotiates over
type Signaler interface {
	ID() string
	On(messageType signaling.MessageType, handler signaling.HandlerFunc)
	Send(ctx context.Context, messageType signaling.MessageType, to string, payload any) error
}

// Options represents session options
type Options struct {
	ICEServers []webrtc.ICEServer
	Logger     *logging.Logger

	OnDataChannel     func(*DataChannel)
	OnConnectionState func(webrtc.PeerConnectionState)
	OnPeerLeft        func(peerID string)
}

// DefaultOptions returns options using a public STUN server
func DefaultOptions() Options {
	return Options{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Session is one WebRTC peer connection and the remote peer it targets
type Session struct {
	signaler Signaler
	pc       *webrtc.PeerConnection
	logger   *logging.Logger
	options  Options

	mu                sync.Mutex
	targetID          string
	pendingCandidates []webrtc.ICECandidateInit
}

// NewSession creates a peer connection and registers its signaling handlers
func NewSession(signaler Signaler, options Options) (*Session, error) {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: options.ICEServers,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWebRTC, "PEER_CONNECTION_ERROR", "failed to create peer connection")
	}

	s := &Session{
		signaler: signaler,
		pc:       pc,
		logger:   options.Logger.WithFields(map[string]any{"peer_id": signaler.ID()}),
		options:  options,
	}

	s.setupEventHandlers()

	signaler.On(signaling.MessageTypeOffer, s.handleOffer)
	signaler.On(signaling.MessageTypeAnswer, s.handleAnswer)
	signaler.On(signaling.MessageTypeCandidate, s.handleCandidate)
	signaler.On(signaling.MessageTypeBye, s.handleBye)
	signaler.On(signaling.MessageTypeHello, s.handleHello)

	return s, nil
}

// TargetID returns the remote peer ID, empty until negotiation starts
func (s *Session) TargetID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetID
}

// CreateDataChannel creates a data channel. Create channels before Offer.
func (s *Session) CreateDataChannel(label string) (*DataChannel, error) {
	dc, err := s.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWebRTC, "DATA_CHANNEL_ERROR", "failed to create data channel").
			WithDetails(label)
	}

	s.logger.Info("created data channel", "label", label)
	return newDataChannel(dc, s.logger), nil
}

// Offer starts negotiation with targetID. Candidates trickle as they are gathered.
func (s *Session) Offer(ctx context.Context, targetID string) error {
	if s.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return ErrSessionClosed
	}

	s.mu.Lock()
	s.targetID = targetID
	s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWebRTC, "CREATE_OFFER_ERROR", "failed to create offer")
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWebRTC, "LOCAL_DESCRIPTION_ERROR", "failed to set local description")
	}

	s.logger.Debug("sending offer", "to", targetID)
	return s.signaler.Send(ctx, signaling.MessageTypeOffer, targetID, signaling.SessionDescription{
		Type: offer.Type.String(),
		SDP:  offer.SDP,
	})
}

// RemoteDescription returns the remote SDP, nil until one is applied
func (s *Session) RemoteDescription() *webrtc.SessionDescription {
	return s.pc.RemoteDescription()
}

// SignalingState returns the current signaling state
func (s *Session) SignalingState() webrtc.SignalingState {
	return s.pc.SignalingState()
}

// ConnectionState returns the current connection state
func (s *Session) ConnectionState() webrtc.PeerConnectionState {
	return s.pc.ConnectionState()
}

// Close closes the peer connection
func (s *Session) Close() error {
	return s.pc.Close()
}

func (s *Session) handleHello(_ context.Context, env *signaling.Envelope) error {
	s.logger.Info("peer joined", "from", env.From)
	return nil
}

func (s *Session) handleOffer(ctx context.Context, env *signaling.Envelope) error {
	s.mu.Lock()
	if s.targetID != "" && s.targetID != env.From {
		s.mu.Unlock()
		return errors.Wrap(ErrBusy, errors.ErrorTypeWebRTC, "OFFER_REJECTED", "ignoring offer").
			WithDetails("from " + env.From)
	}
	s.targetID = env.From
	s.mu.Unlock()

	if err := s.applyRemoteDescription(env); err != nil {
		return err
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWebRTC, "CREATE_ANSWER_ERROR", "failed to create answer")
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWebRTC, "LOCAL_DESCRIPTION_ERROR", "failed to set local description")
	}

	s.logger.Debug("sending answer", "to", env.From)
	return s.signaler.Send(ctx, signaling.MessageTypeAnswer, env.From, signaling.SessionDescription{
		Type: answer.Type.String(),
		SDP:  answer.SDP,
	})
}

func (s *Session) handleAnswer(_ context.Context, env *signaling.Envelope) error {
	if target := s.TargetID(); target != env.From {
		s.logger.Warn("ignoring answer from unexpected peer", "from", env.From, "target", target)
		return nil
	}
	return s.applyRemoteDescription(env)
}

func (s *Session) applyRemoteDescription(env *signaling.Envelope) error {
	var desc signaling.SessionDescription
	if err := env.Decode(&desc); err != nil {
		return err
	}

	sdp := webrtc.SessionDescription{Type: webrtc.NewSDPType(desc.Type), SDP: desc.SDP}
	if err := s.pc.SetRemoteDescription(sdp); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWebRTC, "REMOTE_DESCRIPTION_ERROR", "failed to set remote description").
			WithDetails(desc.Type)
	}

	s.logger.Debug("set remote description", "from", env.From, "type", desc.Type)
	s.processPendingCandidates()
	return nil
}

func (s *Session) handleCandidate(_ context.Context, env *signaling.Envelope) error {
	var c signaling.Candidate
	if err := env.Decode(&c); err != nil {
		return err
	}

	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}

	s.mu.Lock()
	if s.pc.RemoteDescription() == nil {
		s.pendingCandidates = append(s.pendingCandidates, init)
		s.mu.Unlock()
		s.logger.Debug("queued ICE candidate", "from", env.From)
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(init); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWebRTC, "ADD_CANDIDATE_ERROR", "failed to add ICE candidate")
	}
	return nil
}

func (s *Session) handleBye(_ context.Context, env *signaling.Envelope) error {
	if env.From != s.TargetID() {
		return nil
	}

	s.logger.Info("remote peer left", "from", env.From)
	if s.options.OnPeerLeft != nil {
		s.options.OnPeerLeft(env.From)
	}
	return nil
}

func (s *Session) processPendingCandidates() {
	s.mu.Lock()
	candidates := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()

	for _, candidate := range candidates {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.logger.Warn("failed to add pending ICE candidate", "error", err)
		}
	}
}

func (s *Session) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingCandidates)
}

func (s *Session) setupEventHandlers() {
	s.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}

		target := s.TargetID()
		if target == "" {
			return
		}

		init := candidate.ToJSON()
		err := s.signaler.Send(context.Background(), signaling.MessageTypeCandidate, target, signaling.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
		if err != nil {
			s.logger.Warn("failed to send ICE candidate", "error", err)
		}
	})

	s.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.logger.Info("data channel received", "label", dc.Label())

		if s.options.OnDataChannel != nil {
			s.options.OnDataChannel(newDataChannel(dc, s.logger))
		}
	})

	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("connection state changed", "state", state.String())

		if s.options.OnConnectionState != nil {
			s.options.OnConnectionState(state)
		}
	})

	s.pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		s.logger.Debug("signaling state changed", "state", state.String())
	})
}
