package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"orchestra/internal/destination"
	"orchestra/internal/event"
	"orchestra/internal/message"
	"orchestra/internal/metrics"
	"orchestra/internal/router"
	"orchestra/internal/validator"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const internalErrorReason = "Internal server error"

// HandleMessage runs one inbound frame from clientID through validation,
// identity binding, and routing. Failures are answered with a SYSTEM_ERROR
// envelope to the sender; nothing here takes the connection down.
func (s *Server) HandleMessage(ctx context.Context, clientID string, raw []byte) {
	started := s.now()
	ctx, span := startFrameSpan(ctx, clientID, len(raw))
	defer span.End()

	s.errorHandler(ctx, clientID, func() error {
		kind, err := s.handleFrame(ctx, clientID, raw)
		if kind != "" {
			span.SetAttributes(attribute.String("message.type", string(kind)))
			s.metrics.RecordDuration(metrics.MessageProcessingDuration, s.now().Sub(started),
				map[string]string{"type": string(kind)})
		}
		return err
	}, func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	})
}

// handleFrame returns the envelope type once the frame has validated.
func (s *Server) handleFrame(ctx context.Context, clientID string, raw []byte) (message.Type, error) {
	s.registry.Touch(clientID)
	s.metrics.IncrementCounter(metrics.BytesIn, float64(len(raw)), nil)
	s.inbound.record(s.now(), len(raw))
	s.metrics.RecordGauge(metrics.MessagesPerSecond, s.inbound.rate(s.now()), nil)

	result := s.validator.Validate(raw)
	if !result.IsValid {
		s.metrics.IncrementCounter(metrics.ValidationFailures, 1, nil)
		reason := result.Reason()
		s.logger.Warn("rejected invalid message", map[string]string{
			"client_id": clientID,
			"reason":    reason,
		})
		s.sendError(clientID, reason, "")
		return "", nil
	}
	envelope := *result.Envelope
	if len(result.Warnings) > 0 {
		s.logger.Debug("message accepted with warnings", map[string]string{
			"client_id":  clientID,
			"message_id": envelope.ID,
			"warnings":   fmt.Sprint(result.Warnings),
		})
	}
	s.metrics.IncrementCounter(metrics.MessagesReceived, 1, map[string]string{"type": string(envelope.Type)})

	s.bindIdentity(ctx, clientID, envelope.From)
	s.publish(event.NewMessageEvent(clientID, envelope))

	if envelope.Type == message.TypeAck {
		s.router.HandleAcknowledgment(envelope)
	}

	var exclude []string
	if destination.IsBroadcast(envelope.To) {
		exclude = append(exclude, clientID)
	}
	_, err := s.router.Route(ctx, envelope, exclude...)
	switch {
	case err == nil:
	case errors.Is(err, router.ErrDestinationOffline):
		s.logger.Debug("destination offline, kept for replay", map[string]string{
			"message_id": envelope.ID,
			"to":         envelope.To,
		})
	case errors.Is(err, router.ErrInvalidDestination):
		s.sendError(clientID, err.Error(), envelope.ID)
	default:
		return envelope.Type, fmt.Errorf("route %s: %w", envelope.ID, err)
	}
	return envelope.Type, nil
}

// bindIdentity maps a sender's logical identity to clientID when it is not
// already, then replays what the identity missed. Only addressable names
// (conductor, dashboard, agent-*) are bound.
func (s *Server) bindIdentity(ctx context.Context, clientID, logicalID string) {
	if !bindable(logicalID) {
		return
	}
	if current, ok := s.registry.ResolveLogical(logicalID); ok && current == clientID {
		return
	}

	since, known := s.registry.LastDisconnect(logicalID)
	if !known {
		since = s.now().Add(-s.opts.ReplayWindow)
	}
	s.registry.RegisterLogical(logicalID, clientID)

	if _, err := s.router.ReplayToClient(ctx, logicalID, router.ReplayOptions{Since: since}); err != nil {
		s.logger.Warn("replay failed", map[string]string{
			"logical_id": logicalID,
			"client_id":  clientID,
			"error":      err.Error(),
		})
	}
}

func bindable(logicalID string) bool {
	switch destination.Classify(logicalID) {
	case destination.KindConductor, destination.KindDashboard, destination.KindAgent:
		return true
	default:
		return false
	}
}

// errorHandler runs fn and converts a returned error or a panic into a
// generic error response. Detail only reaches the log.
func (s *Server) errorHandler(ctx context.Context, clientID string, fn func() error, onError func(error)) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("panic: %v", recovered)
			s.logger.Error("message handler panicked", map[string]string{
				"client_id": clientID,
				"error":     err.Error(),
				"stack":     string(debug.Stack()),
			})
			if onError != nil {
				onError(err)
			}
			s.sendError(clientID, internalErrorReason, "")
		}
	}()
	if err := fn(); err != nil {
		s.logger.Error("message handling failed", map[string]string{
			"client_id": clientID,
			"error":     err.Error(),
		})
		if onError != nil {
			onError(err)
		}
		s.sendError(clientID, internalErrorReason, "")
	}
}

func (s *Server) sendError(clientID, reason, correlationID string) {
	response := validator.CreateErrorReply(reason, clientID, correlationID)
	data, err := response.Encode()
	if err != nil {
		s.logger.Error("encode error response failed", map[string]string{"error": err.Error()})
		return
	}
	if s.registry.SendTo(clientID, data) {
		s.metrics.IncrementCounter(metrics.BytesOut, float64(len(data)), nil)
	}
}

// mirrorToDashboard forwards routed envelopes to the dashboard unless the
// route already reached it or the dashboard sent them.
func (s *Server) mirrorToDashboard(envelope message.Envelope) {
	if destination.IsDashboard(envelope.To) || destination.IsBroadcast(envelope.To) || destination.IsDashboard(envelope.From) {
		return
	}
	clientID, ok := s.registry.ResolveLogical(destination.Dashboard)
	if !ok {
		return
	}
	data, err := envelope.Encode()
	if err != nil {
		return
	}
	if s.registry.SendTo(clientID, data) {
		s.metrics.IncrementCounter(metrics.DashboardMirrorBytes, float64(len(data)), nil)
	}
}

// throughput keeps a rolling window of event times and sizes.
type throughput struct {
	window time.Duration
	mu     sync.Mutex
	times  []time.Time
	sizes  []int
}

func newThroughput(window time.Duration) *throughput {
	return &throughput{window: window}
}

func (t *throughput) record(now time.Time, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = append(t.times, now)
	t.sizes = append(t.sizes, size)
	t.pruneLocked(now)
}

// rate returns events per second over the window.
func (t *throughput) rate(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)
	return float64(len(t.times)) / t.window.Seconds()
}

// byteRate returns bytes per second over the window.
func (t *throughput) byteRate(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)
	total := 0
	for _, size := range t.sizes {
		total += size
	}
	return float64(total) / t.window.Seconds()
}

func (t *throughput) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.window)
	drop := 0
	for drop < len(t.times) && !t.times[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		t.times = append(t.times[:0], t.times[drop:]...)
		t.sizes = append(t.sizes[:0], t.sizes[drop:]...)
	}
}
