// Package relay fans inbound frames out to every other registered connection.
package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/HMasataka/wsrelay/internal/eventbus"
	"github.com/HMasataka/wsrelay/internal/logging"
	"github.com/HMasataka/wsrelay/pkg/domain"
	"github.com/HMasataka/wsrelay/pkg/errors"
)

// Snapshotter is the registry view the relay reads from
type Snapshotter interface {
	Snapshot() []domain.Connection
}

// Options represents relay configuration options
type Options struct {
	Logger       *logging.Logger
	ErrorHandler errors.Handler
	EventBus     eventbus.Bus
}

// Relay delivers each frame to all open connections except its sender
type Relay struct {
	registry     Snapshotter
	logger       *logging.Logger
	errorHandler errors.Handler
	eventBus     eventbus.Bus
	startTime    time.Time

	framesReceived atomic.Int64
	deliveries     atomic.Int64
	failures       atomic.Int64
	skipped        atomic.Int64
}

// New creates a relay reading recipients from registry
func New(registry Snapshotter, options Options) *Relay {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.ErrorHandler == nil {
		options.ErrorHandler = errors.NewDefaultHandler(options.Logger.Logger)
	}

	return &Relay{
		registry:     registry,
		logger:       options.Logger,
		errorHandler: options.ErrorHandler,
		eventBus:     options.EventBus,
		startTime:    time.Now(),
	}
}

// Relay forwards frame to every open connection other than sender.
// Failures are reported per recipient and never returned to the sender.
func (r *Relay) Relay(sender domain.Connection, frame domain.Frame) {
	if sender.State() != domain.StateOpen {
		r.logger.Debug("sender not open, frame discarded",
			"conn_id", sender.ID(),
			"state", sender.State().String(),
		)
		return
	}

	r.framesReceived.Add(1)
	r.publish(eventbus.NewEvent(eventbus.EventMessageReceived, sender.ID(), len(frame.Data)).
		WithMetadata("kind", frame.Kind.String()))

	var result eventbus.RelayResult
	for _, conn := range r.registry.Snapshot() {
		if conn == sender {
			continue
		}
		if conn.State() != domain.StateOpen {
			result.Skipped++
			continue
		}

		if err := r.send(conn, frame); err != nil {
			result.Failed++
			r.reportFailure(sender, conn, err)
			continue
		}
		result.Delivered++
		result.Bytes += len(frame.Data)
	}

	r.deliveries.Add(int64(result.Delivered))
	r.failures.Add(int64(result.Failed))
	r.skipped.Add(int64(result.Skipped))

	r.publish(eventbus.NewEvent(eventbus.EventFrameRelayed, sender.ID(), result))

	r.logger.Debug("relay complete",
		"sender_id", sender.ID(),
		"delivered", result.Delivered,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
}

// send hands frame to one recipient. Send only enqueues, so a slow
// recipient fails fast with a full buffer instead of holding up the fan-out.
func (r *Relay) send(conn domain.Connection, frame domain.Frame) error {
	return conn.Send(context.Background(), frame)
}

func (r *Relay) reportFailure(sender, recipient domain.Connection, err error) {
	wrapped := errors.Wrap(err, errors.ErrorTypeDelivery, "DELIVERY_FAILED", "failed to deliver frame").
		WithDetails("recipient " + recipient.ID())

	r.errorHandler.Handle(context.Background(), wrapped,
		"sender_id", sender.ID(),
		"recipient_id", recipient.ID(),
	)

	r.publish(eventbus.NewEvent(eventbus.EventDeliveryFailed, sender.ID(), wrapped).
		WithMetadata("recipient_id", recipient.ID()))
}

func (r *Relay) publish(event *eventbus.Event) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.PublishAsync(event)
}

// Stats returns relay statistics
func (r *Relay) Stats() domain.RelayStats {
	return domain.RelayStats{
		ConnectedClients: len(r.registry.Snapshot()),
		FramesReceived:   r.framesReceived.Load(),
		Deliveries:       r.deliveries.Load(),
		Failures:         r.failures.Load(),
		Skipped:          r.skipped.Load(),
		Uptime:           time.Since(r.startTime).Seconds(),
	}
}
