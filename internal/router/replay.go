package router

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"orchestra/internal/metrics"
	"orchestra/internal/persistence"
)

// ReplayOptions bounds a replay. Since is exclusive, Until inclusive; zero
// values leave that side open. Limit falls back to the router default.
type ReplayOptions struct {
	Since time.Time
	Until time.Time
	Limit int
}

// ReplayToClient re-sends logged envelopes addressed to logicalID, or to a
// broadcast destination, to the connection currently holding logicalID.
// Envelopes the identity sent itself are skipped. When more than the limit
// qualify, the newest are sent, oldest first. Replayed envelopes are not
// logged again. It returns the number of envelopes sent.
func (r *Router) ReplayToClient(ctx context.Context, logicalID string, opts ReplayOptions) (int, error) {
	clientID, ok := r.registry.ResolveLogical(logicalID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrDestinationOffline, logicalID)
	}
	if r.store == nil {
		return 0, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = r.replayLimit
	}

	entries, err := r.store.History(ctx, persistence.Filter{
		Since:             opts.Since,
		Until:             opts.Until,
		Destinations:      []string{logicalID},
		IncludeBroadcasts: true,
	})
	if err != nil {
		return 0, fmt.Errorf("load replay for %s: %w", logicalID, err)
	}

	missed := make([]persistence.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Envelope.From != logicalID {
			missed = append(missed, entry)
		}
	}
	if dropped := len(missed) - limit; dropped > 0 {
		r.logger.Warn("replay truncated to newest messages", map[string]string{
			"logical_id": logicalID,
			"dropped":    strconv.Itoa(dropped),
			"limit":      strconv.Itoa(limit),
		})
		missed = missed[dropped:]
	}

	sent := 0
	bytesOut := 0
	for _, entry := range missed {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		data, err := entry.Envelope.Encode()
		if err != nil {
			r.logger.Warn("skip unreadable replay entry", map[string]string{
				"sequence": strconv.FormatInt(entry.Sequence, 10),
				"error":    err.Error(),
			})
			continue
		}
		if !r.registry.SendTo(clientID, data) {
			return sent, fmt.Errorf("%w: %s", ErrDestinationOffline, logicalID)
		}
		sent++
		bytesOut += len(data)
	}

	if sent > 0 {
		r.metrics.IncrementCounter(metrics.ReplayedMessages, float64(sent), nil)
		r.metrics.IncrementCounter(metrics.BytesOut, float64(bytesOut), nil)
	}
	r.logger.Info("replayed missed messages", map[string]string{
		"logical_id": logicalID,
		"client_id":  clientID,
		"count":      strconv.Itoa(sent),
	})
	return sent, nil
}
