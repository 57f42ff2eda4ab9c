package router

import (
	"sort"
	"time"

	"orchestra/internal/message"
	"orchestra/internal/metrics"
)

// PendingAck is an ack-requiring envelope that has not been acknowledged.
type PendingAck struct {
	MessageID string       `json:"messageId"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Type      message.Type `json:"type"`
	SentAt    time.Time    `json:"sentAt"`
}

func (r *Router) trackAck(envelope message.Envelope) {
	r.mu.Lock()
	if len(r.pending) >= r.maxPending {
		r.dropOldestPendingLocked()
	}
	r.pending[envelope.ID] = PendingAck{
		MessageID: envelope.ID,
		From:      envelope.From,
		To:        envelope.To,
		Type:      envelope.Type,
		SentAt:    r.now().UTC(),
	}
	count := len(r.pending)
	r.mu.Unlock()
	r.metrics.RecordGauge(metrics.PendingAcks, float64(count), nil)
}

func (r *Router) dropOldestPendingLocked() {
	var oldestID string
	var oldest time.Time
	for id, ack := range r.pending {
		if oldestID == "" || ack.SentAt.Before(oldest) {
			oldestID, oldest = id, ack.SentAt
		}
	}
	delete(r.pending, oldestID)
}

// HandleAcknowledgment records ack. The acknowledged envelope is named by the
// ack's correlation id, or by a messageId field in its payload. It reports
// whether a pending envelope was cleared; acks never block or retry.
func (r *Router) HandleAcknowledgment(ack message.Envelope) bool {
	r.metrics.IncrementCounter(metrics.AcksReceived, 1, nil)

	candidates := []string{ack.CorrelationID}
	var payload struct {
		MessageID string `json:"messageId"`
	}
	if err := ack.DecodePayload(&payload); err == nil && payload.MessageID != "" {
		candidates = append(candidates, payload.MessageID)
	}

	r.mu.Lock()
	cleared := ""
	for _, id := range candidates {
		if _, ok := r.pending[id]; ok && id != "" {
			delete(r.pending, id)
			cleared = id
			break
		}
	}
	count := len(r.pending)
	r.mu.Unlock()

	if cleared == "" {
		r.logger.Debug("ack for unknown message", map[string]string{
			"ack_id":         ack.ID,
			"correlation_id": ack.CorrelationID,
		})
		return false
	}
	r.metrics.RecordGauge(metrics.PendingAcks, float64(count), nil)
	r.logger.Debug("message acknowledged", map[string]string{
		"message_id": cleared,
		"from":       ack.From,
	})
	return true
}

// PendingAcks lists unacknowledged envelopes, oldest first.
func (r *Router) PendingAcks() []PendingAck {
	r.mu.Lock()
	acks := make([]PendingAck, 0, len(r.pending))
	for _, ack := range r.pending {
		acks = append(acks, ack)
	}
	r.mu.Unlock()
	sort.Slice(acks, func(i, j int) bool {
		if acks[i].SentAt.Equal(acks[j].SentAt) {
			return acks[i].MessageID < acks[j].MessageID
		}
		return acks[i].SentAt.Before(acks[j].SentAt)
	})
	return acks
}
