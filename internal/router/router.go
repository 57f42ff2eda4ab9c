// Package router delivers validated envelopes. It resolves destinations,
// appends every routed envelope to the history log, dispatches through the
// connection registry, and owns replay on reconnect.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"orchestra/internal/destination"
	"orchestra/internal/logging"
	"orchestra/internal/message"
	"orchestra/internal/metrics"
	"orchestra/internal/persistence"
)

var (
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrDestinationOffline means the envelope was valid and logged but no
	// live connection holds the destination. Replay delivers it later.
	ErrDestinationOffline = errors.New("destination offline")
)

// Registry is the slice of the connection registry the router dispatches
// through.
type Registry interface {
	SendTo(clientID string, data []byte) bool
	Broadcast(data []byte, exclude ...string) int
	ResolveLogical(logicalID string) (string, bool)
}

// DashboardCallback receives a copy of every routed envelope.
type DashboardCallback func(message.Envelope)

type Options struct {
	Registry Registry
	// Store may be nil, in which case nothing is logged and replay is a
	// no-op.
	Store   persistence.Store
	Metrics metrics.Collector
	Logger  *logging.Logger
	Now     func() time.Time
	// MaxPendingAcks bounds ack bookkeeping; the oldest entry is dropped
	// when full.
	MaxPendingAcks int
	// DefaultReplayLimit applies when a replay request sets no limit.
	DefaultReplayLimit int
}

const (
	DefaultMaxPendingAcks = 10000
	DefaultReplayLimit    = 100
)

type Router struct {
	registry    Registry
	store       persistence.Store
	metrics     metrics.Collector
	logger      *logging.Logger
	now         func() time.Time
	replayLimit int

	mu         sync.Mutex
	dashboard  DashboardCallback
	pending    map[string]PendingAck
	maxPending int
}

// Result describes one routing decision.
type Result struct {
	Kind destination.Kind
	// Delivered is the number of connections the envelope was dispatched to.
	Delivered int
	// ClientID is the physical recipient of a direct delivery.
	ClientID string
	// Sequence is the history position, zero when the store was skipped or
	// failed.
	Sequence int64
}

func New(opts Options) *Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPendingAcks <= 0 {
		opts.MaxPendingAcks = DefaultMaxPendingAcks
	}
	if opts.DefaultReplayLimit <= 0 {
		opts.DefaultReplayLimit = DefaultReplayLimit
	}
	return &Router{
		registry:    opts.Registry,
		store:       opts.Store,
		metrics:     metrics.OrNop(opts.Metrics),
		logger:      opts.Logger,
		now:         opts.Now,
		replayLimit: opts.DefaultReplayLimit,
		pending:     make(map[string]PendingAck),
		maxPending:  opts.MaxPendingAcks,
	}
}

// ValidateDestination reports whether to can be routed.
func (r *Router) ValidateDestination(to string) error {
	if !destination.IsValid(to) {
		return fmt.Errorf("%w: %q", ErrInvalidDestination, to)
	}
	return nil
}

// Route dispatches envelope to its destination. Broadcast destinations fan
// out to every connection not named in exclude; every other destination is
// resolved through the logical id map to a single connection.
func (r *Router) Route(ctx context.Context, envelope message.Envelope, exclude ...string) (Result, error) {
	result := Result{Kind: destination.Classify(envelope.To)}
	labels := map[string]string{
		"type":        string(envelope.Type),
		"destination": result.Kind.String(),
	}
	if result.Kind == destination.KindInvalid {
		r.metrics.IncrementCounter(metrics.RoutingErrors, 1, labels)
		r.logger.Warn("routing failed", map[string]string{
			"message_id": envelope.ID,
			"to":         envelope.To,
			"error":      ErrInvalidDestination.Error(),
		})
		return result, fmt.Errorf("%w: %q", ErrInvalidDestination, envelope.To)
	}

	data, err := envelope.Encode()
	if err != nil {
		r.metrics.IncrementCounter(metrics.RoutingErrors, 1, labels)
		return result, fmt.Errorf("encode envelope %s: %w", envelope.ID, err)
	}

	result.Sequence = r.persist(ctx, envelope)
	if envelope.RequiresAck {
		r.trackAck(envelope)
	}

	var routeErr error
	if result.Kind == destination.KindBroadcast {
		result.Delivered = r.registry.Broadcast(data, exclude...)
	} else if clientID, ok := r.registry.ResolveLogical(envelope.To); ok && r.registry.SendTo(clientID, data) {
		result.ClientID = clientID
		result.Delivered = 1
	} else {
		routeErr = fmt.Errorf("%w: %s", ErrDestinationOffline, envelope.To)
	}

	r.metrics.IncrementCounter(metrics.MessagesRouted, 1, labels)
	if result.Delivered > 0 {
		r.metrics.IncrementCounter(metrics.BytesOut, float64(len(data)*result.Delivered), nil)
	}
	r.logger.Debug("message routed", map[string]string{
		"message_id":  envelope.ID,
		"type":        string(envelope.Type),
		"to":          envelope.To,
		"delivered":   strconv.Itoa(result.Delivered),
		"destination": result.Kind.String(),
	})

	if callback := r.dashboardCallback(); callback != nil {
		callback(envelope)
	}
	return result, routeErr
}

func (r *Router) persist(ctx context.Context, envelope message.Envelope) int64 {
	if r.store == nil {
		return 0
	}
	entry, err := r.store.Save(ctx, envelope)
	if err != nil {
		r.logger.Error("persist message failed", map[string]string{
			"message_id": envelope.ID,
			"error":      err.Error(),
		})
		return 0
	}
	return entry.Sequence
}

// SetDashboardCallback installs fn as the observer of routed envelopes. A
// nil fn clears it.
func (r *Router) SetDashboardCallback(fn DashboardCallback) {
	r.mu.Lock()
	r.dashboard = fn
	r.mu.Unlock()
}

func (r *Router) dashboardCallback() DashboardCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dashboard
}
