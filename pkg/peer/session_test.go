package peer

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HMasataka/wsrelay/pkg/registry"
	"github.com/HMasataka/wsrelay/pkg/relay"
	"github.com/HMasataka/wsrelay/pkg/signaling"
	"github.com/HMasataka/wsrelay/pkg/transport/websocket"
)

type sent struct {
	messageType signaling.MessageType
	to          string
	payload     any
}

type fakeSignaler struct {
	id       string
	mu       sync.Mutex
	handlers map[signaling.MessageType]signaling.HandlerFunc
	sent     []sent
}

func newFakeSignaler(id string) *fakeSignaler {
	return &fakeSignaler{id: id, handlers: make(map[signaling.MessageType]signaling.HandlerFunc)}
}

func (f *fakeSignaler) ID() string { return f.id }

func (f *fakeSignaler) On(messageType signaling.MessageType, handler signaling.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[messageType] = handler
}

func (f *fakeSignaler) Send(_ context.Context, messageType signaling.MessageType, to string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{messageType: messageType, to: to, payload: payload})
	return nil
}

func (f *fakeSignaler) deliver(t *testing.T, messageType signaling.MessageType, from string, payload any) error {
	t.Helper()

	env, err := signaling.NewEnvelope(messageType, from, f.id, payload)
	require.NoError(t, err)

	f.mu.Lock()
	handler := f.handlers[messageType]
	f.mu.Unlock()
	require.NotNil(t, handler)
	return handler(context.Background(), env)
}

func TestSession_RegistersSignalingHandlers(t *testing.T) {
	sig := newFakeSignaler("alice")
	s, err := NewSession(sig, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, mt := range []signaling.MessageType{
		signaling.MessageTypeHello,
		signaling.MessageTypeOffer,
		signaling.MessageTypeAnswer,
		signaling.MessageTypeCandidate,
		signaling.MessageTypeBye,
	} {
		assert.Contains(t, sig.handlers, mt)
	}
}

func TestSession_QueuesCandidatesUntilRemoteDescription(t *testing.T) {
	sig := newFakeSignaler("alice")
	s, err := NewSession(sig, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	err = sig.deliver(t, signaling.MessageTypeCandidate, "bob", signaling.Candidate{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, s.pendingCount())
}

func TestSession_AnswersOffer(t *testing.T) {
	offerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { offerer.Close() })

	_, err = offerer.CreateDataChannel("chat", nil)
	require.NoError(t, err)
	offer, err := offerer.CreateOffer(nil)
	require.NoError(t, err)

	sig := newFakeSignaler("alice")
	s, err := NewSession(sig, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, sig.deliver(t, signaling.MessageTypeOffer, "bob",
		signaling.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}))

	assert.Equal(t, "bob", s.TargetID())
	require.NotNil(t, s.RemoteDescription())
	assert.Equal(t, webrtc.SDPTypeOffer, s.RemoteDescription().Type)

	sig.mu.Lock()
	defer sig.mu.Unlock()
	var answers []sent
	for _, m := range sig.sent {
		if m.messageType == signaling.MessageTypeAnswer {
			answers = append(answers, m)
		}
	}
	require.Len(t, answers, 1)
	assert.Equal(t, "bob", answers[0].to)
	assert.Equal(t, "answer", answers[0].payload.(signaling.SessionDescription).Type)
}

func TestSession_RejectsOfferFromSecondPeer(t *testing.T) {
	sig := newFakeSignaler("alice")
	s, err := NewSession(sig, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.mu.Lock()
	s.targetID = "bob"
	s.mu.Unlock()

	err = sig.deliver(t, signaling.MessageTypeOffer, "carol", signaling.SessionDescription{Type: "offer", SDP: "v=0"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, "bob", s.TargetID())
}

func TestSession_ByeFromTargetNotifies(t *testing.T) {
	left := make(chan string, 1)
	sig := newFakeSignaler("alice")
	s, err := NewSession(sig, Options{OnPeerLeft: func(id string) { left <- id }})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.mu.Lock()
	s.targetID = "bob"
	s.mu.Unlock()

	require.NoError(t, sig.deliver(t, signaling.MessageTypeBye, "carol", nil))
	require.NoError(t, sig.deliver(t, signaling.MessageTypeBye, "bob", nil))

	assert.Equal(t, "bob", <-left)
	assert.Empty(t, left)
}

func TestSession_OfferAfterClose(t *testing.T) {
	sig := newFakeSignaler("alice")
	s, err := NewSession(sig, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Offer(context.Background(), "bob"), ErrSessionClosed)
	assert.Empty(t, sig.sent)
}

func TestSession_NegotiatesThroughRelay(t *testing.T) {
	reg := registry.New(registry.Options{})
	srv := httptest.NewServer(websocket.NewServer(
		websocket.WithRegistry(reg),
		websocket.WithRelay(relay.New(reg, relay.Options{})),
	))
	t.Cleanup(func() {
		reg.CloseAll()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	newPeer := func(id string) (*signaling.Client, *Session) {
		opts := signaling.DefaultClientOptions()
		opts.PeerID = id
		client := signaling.NewClient(url, opts)

		session, err := NewSession(client, Options{})
		require.NoError(t, err)
		t.Cleanup(func() { session.Close() })

		want := reg.Len() + 1
		require.NoError(t, client.Connect(context.Background()))
		t.Cleanup(func() { client.Close() })
		require.Eventually(t, func() bool { return reg.Len() == want }, 2*time.Second, 5*time.Millisecond)
		return client, session
	}

	_, alice := newPeer("alice")
	_, bob := newPeer("bob")

	_, err := alice.CreateDataChannel("chat")
	require.NoError(t, err)
	require.NoError(t, alice.Offer(context.Background(), "bob"))

	require.Eventually(t, func() bool {
		return alice.RemoteDescription() != nil && bob.RemoteDescription() != nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, webrtc.SDPTypeOffer, bob.RemoteDescription().Type)
	assert.Equal(t, webrtc.SDPTypeAnswer, alice.RemoteDescription().Type)
	assert.Equal(t, "alice", bob.TargetID())
	assert.Equal(t, webrtc.SignalingStateStable, alice.SignalingState())
}
