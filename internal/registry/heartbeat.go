package registry

import (
	"strconv"
	"time"
)

// StartHeartbeat begins the periodic sweep. Calling it while a sweep is
// running is a no-op.
func (r *Registry) StartHeartbeat() {
	r.heartbeatMu.Lock()
	defer r.heartbeatMu.Unlock()
	if r.heartbeatStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	r.heartbeatStop = stop
	r.heartbeatDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.SweepStale()
			}
		}
	}()
}

// StopHeartbeat halts the sweep and waits for it to exit.
func (r *Registry) StopHeartbeat() {
	r.heartbeatMu.Lock()
	stop := r.heartbeatStop
	done := r.heartbeatDone
	r.heartbeatStop = nil
	r.heartbeatDone = nil
	r.heartbeatMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// SweepStale evicts connections whose last heartbeat is older than the
// timeout and returns their client ids.
func (r *Registry) SweepStale() []string {
	cutoff := r.now().Add(-r.heartbeatTimeout)

	var stale []*Connection
	for _, conn := range r.Connections() {
		if conn.LastHeartbeat().Before(cutoff) {
			stale = append(stale, conn)
		}
	}

	evicted := make([]string, 0, len(stale))
	for _, conn := range stale {
		if !r.Remove(conn.ClientID) {
			continue
		}
		evicted = append(evicted, conn.ClientID)
		r.logger.Warn("connection evicted after missed heartbeats", map[string]string{
			"client_id":      conn.ClientID,
			"last_heartbeat": conn.LastHeartbeat().UTC().Format(time.RFC3339),
			"timeout_ms":     strconv.FormatInt(r.heartbeatTimeout.Milliseconds(), 10),
		})
		if r.onEvict != nil {
			r.onEvict(conn)
		}
	}
	return evicted
}
