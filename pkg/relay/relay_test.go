package relay

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HMasataka/wsrelay/internal/eventbus"
	"github.com/HMasataka/wsrelay/pkg/domain"
	"github.com/HMasataka/wsrelay/pkg/domain/domaintest"
	"github.com/HMasataka/wsrelay/pkg/errors"
	"github.com/HMasataka/wsrelay/pkg/registry"
)

type recordedError struct {
	err   error
	attrs []any
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []recordedError
}

func (r *errorRecorder) Handle(_ context.Context, err error, attrs ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, recordedError{err: err, attrs: attrs})
}

func (r *errorRecorder) all() []recordedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedError(nil), r.errs...)
}

func setup(t *testing.T, ids ...string) (*registry.Registry, *Relay, *errorRecorder, []*domaintest.Conn) {
	t.Helper()

	reg := registry.New(registry.Options{Strict: true})
	rec := &errorRecorder{}
	r := New(reg, Options{ErrorHandler: rec})

	conns := make([]*domaintest.Conn, 0, len(ids))
	for _, id := range ids {
		c := domaintest.NewConn(id)
		reg.Register(c)
		conns = append(conns, c)
	}
	return reg, r, rec, conns
}

func TestRelay_FansOutToEveryoneButSender(t *testing.T) {
	_, r, rec, conns := setup(t, "A", "B", "C")
	a, b, c := conns[0], conns[1], conns[2]

	r.Relay(a, domain.TextFrame("hello"))

	assert.Equal(t, []string{"hello"}, b.Payloads())
	assert.Equal(t, []string{"hello"}, c.Payloads())
	assert.Empty(t, a.Payloads())
	assert.Empty(t, rec.all())
}

func TestRelay_DepartedConnectionIsExcluded(t *testing.T) {
	reg, r, _, conns := setup(t, "A", "B", "C")
	a, b, c := conns[0], conns[1], conns[2]

	require.NoError(t, b.Close())
	reg.Unregister(b)
	r.Relay(a, domain.TextFrame("ping"))

	assert.Empty(t, b.Payloads())
	assert.Equal(t, []string{"ping"}, c.Payloads())
	assert.Empty(t, a.Payloads())
}

func TestRelay_PreservesSenderOrder(t *testing.T) {
	_, r, _, conns := setup(t, "A", "B", "C")
	a, c := conns[0], conns[2]

	r.Relay(a, domain.TextFrame("m1"))
	r.Relay(a, domain.TextFrame("m2"))

	assert.Equal(t, []string{"m1", "m2"}, c.Payloads())
}

func TestRelay_EmptyRegistryIsNoop(t *testing.T) {
	_, r, rec, _ := setup(t)
	a := domaintest.NewConn("A")

	assert.NotPanics(t, func() { r.Relay(a, domain.TextFrame("alone")) })
	assert.Empty(t, a.Payloads())
	assert.Empty(t, rec.all())
	assert.Zero(t, r.Stats().Deliveries)
}

func TestRelay_SoleConnectionReceivesNothing(t *testing.T) {
	_, r, _, conns := setup(t, "A")

	r.Relay(conns[0], domain.TextFrame("echo?"))

	assert.Empty(t, conns[0].Payloads())
}

func TestRelay_FailureIsIsolatedPerRecipient(t *testing.T) {
	_, r, rec, conns := setup(t, "A", "B", "C", "D")
	a, b, c, d := conns[0], conns[1], conns[2], conns[3]
	c.FailWith(domain.ErrSendBufferFull)

	r.Relay(a, domain.TextFrame("x"))

	assert.Equal(t, []string{"x"}, b.Payloads())
	assert.Equal(t, []string{"x"}, d.Payloads())
	assert.Empty(t, c.Payloads())

	errs := rec.all()
	require.Len(t, errs, 1)

	var typed *errors.Error
	require.True(t, stderrors.As(errs[0].err, &typed))
	assert.Equal(t, errors.ErrorTypeDelivery, typed.Type)
	assert.Equal(t, "DELIVERY_FAILED", typed.Code)
	assert.ErrorIs(t, errs[0].err, domain.ErrSendBufferFull)
	assert.Contains(t, errs[0].attrs, "C")
}

func TestRelay_SkipsStaleClosedEntries(t *testing.T) {
	_, r, rec, conns := setup(t, "A", "B", "C")
	a, b, c := conns[0], conns[1], conns[2]

	// closed but not yet unregistered
	require.NoError(t, b.Close())
	r.Relay(a, domain.BinaryFrame([]byte{0x01, 0x02}))

	assert.Empty(t, b.Frames())
	require.Len(t, c.Frames(), 1)
	assert.Equal(t, domain.FrameBinary, c.Frames()[0].Kind)
	assert.Empty(t, rec.all())
	assert.Equal(t, int64(1), r.Stats().Skipped)
}

func TestRelay_ClosedSenderIsIgnored(t *testing.T) {
	_, r, _, conns := setup(t, "A", "B")
	a, b := conns[0], conns[1]

	require.NoError(t, a.Close())
	r.Relay(a, domain.TextFrame("late"))

	assert.Empty(t, b.Payloads())
	assert.Zero(t, r.Stats().FramesReceived)
}

func TestRelay_DoesNotMutateRegistry(t *testing.T) {
	reg, r, _, conns := setup(t, "A", "B")
	conns[1].FailWith(domain.ErrConnectionClosed)

	before := reg.Snapshot()
	r.Relay(conns[0], domain.TextFrame("x"))

	assert.Equal(t, before, reg.Snapshot())
}

func TestRelay_Stats(t *testing.T) {
	_, r, _, conns := setup(t, "A", "B", "C")
	conns[2].FailWith(domain.ErrTimeout)

	r.Relay(conns[0], domain.TextFrame("one"))
	r.Relay(conns[1], domain.TextFrame("two"))

	stats := r.Stats()
	assert.Equal(t, 3, stats.ConnectedClients)
	assert.Equal(t, int64(2), stats.FramesReceived)
	assert.Equal(t, int64(2), stats.Deliveries)
	assert.Equal(t, int64(2), stats.Failures)
}

func TestRelay_PublishesEvents(t *testing.T) {
	bus := eventbus.NewInMemoryBus(16)
	reg := registry.New(registry.Options{})
	r := New(reg, Options{EventBus: bus, ErrorHandler: &errorRecorder{}})

	a, b, c := domaintest.NewConn("A"), domaintest.NewConn("B"), domaintest.NewConn("C")
	reg.Register(a)
	reg.Register(b)
	reg.Register(c)
	c.FailWith(domain.ErrSendBufferFull)

	var mu sync.Mutex
	var got []*eventbus.Event
	bus.SubscribeAll(func(e *eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	r.Relay(a, domain.TextFrame("hi"))

	bus.Start(context.Background())
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, eventbus.EventMessageReceived, got[0].Type)
	assert.Equal(t, eventbus.EventDeliveryFailed, got[1].Type)
	assert.Equal(t, "C", got[1].Metadata["recipient_id"])
	assert.Equal(t, eventbus.EventFrameRelayed, got[2].Type)
	assert.Equal(t, eventbus.RelayResult{Delivered: 1, Failed: 1, Bytes: 2}, got[2].Data)
}

func TestRelay_ConcurrentSendersWithChurn(t *testing.T) {
	reg := registry.New(registry.Options{})
	r := New(reg, Options{ErrorHandler: &errorRecorder{}})

	stable := domaintest.NewConn("observer")
	reg.Register(stable)

	var wg sync.WaitGroup
	type departed struct {
		conn   *domaintest.Conn
		frames int
	}
	var mu sync.Mutex
	var gone []departed

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c := domaintest.NewConn("churn")
				reg.Register(c)
				r.Relay(c, domain.TextFrame("x"))
				_ = c.Close()
				reg.Unregister(c)

				mu.Lock()
				gone = append(gone, departed{conn: c, frames: len(c.Frames())})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, stable.Frames(), 800)
	assert.Equal(t, 1, reg.Len())

	require.Len(t, gone, 800)
	for _, d := range gone {
		assert.Len(t, d.conn.Frames(), d.frames, "frame delivered after unregister")
	}
}

func TestRelay_SendIsNotTimeBounded(t *testing.T) {
	_, r, _, conns := setup(t, "A", "B")
	a, b := conns[0], conns[1]

	deadlines := make(chan bool, 1)
	b.OnSend(func(ctx context.Context, _ domain.Frame) {
		_, ok := ctx.Deadline()
		deadlines <- ok
	})

	r.Relay(a, domain.TextFrame("hi"))

	assert.False(t, <-deadlines)
	assert.Equal(t, int64(1), r.Stats().Deliveries)
}
