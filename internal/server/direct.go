package server

import (
	"context"
	"fmt"
	"time"

	"orchestra/internal/message"
	"orchestra/internal/metrics"
	"orchestra/internal/persistence"
	"orchestra/internal/registry"
	"orchestra/internal/router"
)

// Status is the snapshot returned to collaborators and /api/status.
type Status struct {
	IsRunning       bool               `json:"isRunning"`
	State           string             `json:"state"`
	Port            int                `json:"port"`
	ConnectionCount int                `json:"connectionCount"`
	PeakConnections int64              `json:"peakConnections"`
	PendingAcks     int                `json:"pendingAcks"`
	Uptime          string             `json:"uptime,omitempty"`
	Store           *persistence.Stats `json:"store,omitempty"`
}

func (s *Server) Status(ctx context.Context) Status {
	s.mu.Lock()
	status := Status{
		IsRunning: s.state == StateRunning,
		State:     s.state.String(),
		Port:      s.port,
	}
	if status.IsRunning {
		status.Uptime = s.now().Sub(s.startedAt).Truncate(time.Second).String()
	}
	s.mu.Unlock()

	status.ConnectionCount = s.registry.Count()
	status.PeakConnections = s.peak.Load()
	status.PendingAcks = len(s.router.PendingAcks())
	if s.opts.Store != nil {
		if stats, err := s.opts.Store.Stats(ctx); err == nil {
			status.Store = &stats
		}
	}
	return status
}

// Connections returns summaries of every live connection.
func (s *Server) Connections() []registry.Summary {
	return s.registry.Summaries()
}

// SendToClient writes envelope to one physical connection without routing
// or logging it.
func (s *Server) SendToClient(clientID string, envelope message.Envelope) error {
	data, err := envelope.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", envelope.ID, err)
	}
	if !s.registry.SendTo(clientID, data) {
		return fmt.Errorf("%w: unknown client %s", router.ErrDestinationOffline, clientID)
	}
	s.metrics.IncrementCounter(metrics.BytesOut, float64(len(data)), nil)
	return nil
}

// Broadcast writes envelope to every connection not named in exclude and
// returns how many were reached. It bypasses the history log.
func (s *Server) Broadcast(envelope message.Envelope, exclude ...string) (int, error) {
	data, err := envelope.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode envelope %s: %w", envelope.ID, err)
	}
	sent := s.registry.Broadcast(data, exclude...)
	s.metrics.IncrementCounter(metrics.BytesOut, float64(len(data)*sent), nil)
	return sent, nil
}

// Send routes envelope as if a client had sent it: it is logged, tracked for
// acks, and mirrored to the dashboard.
func (s *Server) Send(ctx context.Context, envelope message.Envelope) (router.Result, error) {
	return s.router.Route(ctx, envelope)
}

// History returns up to limit of the most recent logged envelopes.
func (s *Server) History(ctx context.Context, limit int) ([]persistence.Entry, error) {
	if s.opts.Store == nil {
		return []persistence.Entry{}, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.opts.Store.History(ctx, persistence.Filter{Limit: limit, Latest: true})
}
