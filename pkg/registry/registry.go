// Package registry tracks which connections are currently eligible to
// receive relayed frames.
//
// The registry holds references only. Connections are created, closed and
// owned by the transport layer, which must call Register once after the
// handshake and Unregister once after the connection closes.
package registry

import (
	"cmp"
	"slices"
	"sync"

	"github.com/HMasataka/wsrelay/internal/logging"
	"github.com/HMasataka/wsrelay/pkg/domain"
)

// Options represents registry configuration options
type Options struct {
	Logger *logging.Logger

	// Strict panics on integration faults such as a duplicate registration.
	// Leave it off in production, where the fault is logged and tolerated.
	Strict bool
}

// Registry is the set of connections eligible for broadcast delivery.
// A single mutex serializes Register, Unregister and Snapshot.
type Registry struct {
	mu     sync.Mutex
	conns  map[domain.Connection]uint64 // connection -> registration sequence
	seq    uint64
	logger *logging.Logger
	strict bool
}

// New creates an empty registry
func New(options Options) *Registry {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}

	return &Registry{
		conns:  make(map[domain.Connection]uint64),
		logger: options.Logger,
		strict: options.Strict,
	}
}

// Register adds conn to the set.
func (r *Registry) Register(conn domain.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn]; exists {
		if r.strict {
			panic(domain.NewDomainError(domain.ErrCodeAlreadyExists, "register "+conn.ID(), domain.ErrAlreadyRegistered))
		}
		r.logger.Warn("connection already registered", "conn_id", conn.ID())
		return
	}

	r.seq++
	r.conns[conn] = r.seq

	r.logger.Debug("connection registered",
		"conn_id", conn.ID(),
		"total_connections", len(r.conns),
	)
}

// Unregister removes conn if present. Unknown connections are ignored.
func (r *Registry) Unregister(conn domain.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn]; !exists {
		return
	}
	delete(r.conns, conn)

	r.logger.Debug("connection unregistered",
		"conn_id", conn.ID(),
		"total_connections", len(r.conns),
	)
}

// Snapshot returns a point-in-time copy of the registered connections in
// registration order. Later mutations do not affect the returned slice.
func (r *Registry) Snapshot() []domain.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []domain.Connection {
	conns := make([]domain.Connection, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	slices.SortFunc(conns, func(a, b domain.Connection) int {
		return cmp.Compare(r.conns[a], r.conns[b])
	})
	return conns
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Contains reports whether conn is registered
func (r *Registry) Contains(conn domain.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[conn]
	return ok
}

// CloseAll closes every registered connection. Membership is left to the
// transport, which unregisters each connection as its close is processed.
func (r *Registry) CloseAll() {
	conns := r.Snapshot()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.logger.Warn("failed to close connection", "conn_id", conn.ID(), "error", err)
		}
	}

	r.logger.Info("closed all connections", "count", len(conns))
}
