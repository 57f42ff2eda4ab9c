// Package registry owns live connection state: the physical connection table,
// the logical id map that survives reconnects, and the heartbeat sweep.
//
// All mutation is serialized by a single mutex. Sends happen outside the lock
// so a slow transport never stalls registry operations.
package registry

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"orchestra/internal/logging"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 90 * time.Second
)

type Options struct {
	Logger            *logging.Logger
	Now               func() time.Time
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	// OnReassign runs after a logical id is displaced onto a new connection.
	OnReassign func(Reassignment)
	// OnEvict runs after the heartbeat sweep drops a silent connection.
	OnEvict func(*Connection)
}

type Registry struct {
	mu             sync.RWMutex
	connections    map[string]*Connection
	logical        map[string]string
	disconnectedAt map[string]time.Time

	logger            *logging.Logger
	now               func() time.Time
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	onReassign        func(Reassignment)
	onEvict           func(*Connection)

	heartbeatMu   sync.Mutex
	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

func New(opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Registry{
		connections:       make(map[string]*Connection),
		logical:           make(map[string]string),
		disconnectedAt:    make(map[string]time.Time),
		logger:            opts.Logger,
		now:               opts.Now,
		heartbeatInterval: opts.HeartbeatInterval,
		heartbeatTimeout:  opts.HeartbeatTimeout,
		onReassign:        opts.OnReassign,
		onEvict:           opts.OnEvict,
	}
}

// Add registers a connection. An existing connection with the same client id
// is closed and replaced.
func (r *Registry) Add(clientID string, sender Sender, identity string, isAgent bool) *Connection {
	conn := newConnection(clientID, identity, isAgent, sender, r.now())

	r.mu.Lock()
	previous := r.connections[clientID]
	r.connections[clientID] = conn
	r.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	r.logger.Debug("connection added", map[string]string{
		"client_id": clientID,
		"identity":  identity,
		"is_agent":  strconv.FormatBool(isAgent),
	})
	return conn
}

// Remove drops and closes a connection. Logical ids mapped to it stay in
// place until a reconnect re-registers them; their disconnect time is kept
// to bound replay.
func (r *Registry) Remove(clientID string) bool {
	now := r.now()
	r.mu.Lock()
	conn, ok := r.connections[clientID]
	if ok {
		delete(r.connections, clientID)
		for logicalID, mapped := range r.logical {
			if mapped == clientID {
				r.disconnectedAt[logicalID] = now
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	conn.close()
	r.logger.Debug("connection removed", map[string]string{"client_id": clientID})
	return true
}

func (r *Registry) Get(clientID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[clientID]
	return conn, ok
}

// Connections returns every live connection ordered by connect time.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		if conns[i].ConnectedAt.Equal(conns[j].ConnectedAt) {
			return conns[i].ClientID < conns[j].ClientID
		}
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})
	return conns
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// SendTo dispatches data to one connection. It reports whether delivery was
// attempted, which is false only for unknown client ids.
func (r *Registry) SendTo(clientID string, data []byte) bool {
	conn, ok := r.Get(clientID)
	if !ok {
		return false
	}
	if err := conn.send(data); err != nil {
		r.logger.Warn("send to client failed", map[string]string{
			"client_id": clientID,
			"error":     err.Error(),
		})
	}
	return true
}

// Broadcast dispatches data to every connection not named in exclude and
// returns the number of dispatches attempted.
func (r *Registry) Broadcast(data []byte, exclude ...string) int {
	skip := make(map[string]struct{}, len(exclude))
	for _, clientID := range exclude {
		skip[clientID] = struct{}{}
	}

	sent := 0
	for _, conn := range r.Connections() {
		if _, excluded := skip[conn.ClientID]; excluded {
			continue
		}
		if err := conn.send(data); err != nil {
			r.logger.Warn("broadcast to client failed", map[string]string{
				"client_id": conn.ClientID,
				"error":     err.Error(),
			})
		}
		sent++
	}
	return sent
}

// RegisterLogical maps logicalID to clientID. When logicalID was mapped to a
// different client the old mapping is displaced and the returned record
// describes the move. A recorded disconnect time is cleared, since the
// identity is connected again.
func (r *Registry) RegisterLogical(logicalID, clientID string) (Reassignment, bool) {
	r.mu.Lock()
	previous, existed := r.logical[logicalID]
	r.logical[logicalID] = clientID
	delete(r.disconnectedAt, logicalID)
	r.mu.Unlock()

	if !existed || previous == clientID {
		r.logger.Debug("logical id registered", map[string]string{
			"logical_id": logicalID,
			"client_id":  clientID,
		})
		return Reassignment{}, false
	}

	record := Reassignment{
		LogicalID:        logicalID,
		PreviousClientID: previous,
		NewClientID:      clientID,
		Timestamp:        r.now().UTC(),
	}
	r.logger.Info("logical id reassigned", map[string]string{
		"logical_id":         logicalID,
		"previous_client_id": previous,
		"new_client_id":      clientID,
	})
	if r.onReassign != nil {
		r.onReassign(record)
	}
	return record, true
}

func (r *Registry) ResolveLogical(logicalID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clientID, ok := r.logical[logicalID]
	return clientID, ok
}

func (r *Registry) UnregisterLogical(logicalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.logical[logicalID]; !ok {
		return false
	}
	delete(r.logical, logicalID)
	delete(r.disconnectedAt, logicalID)
	return true
}

// LogicalIDs returns the logical ids currently mapped to clientID.
func (r *Registry) LogicalIDs(clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logicalIDsLocked(clientID)
}

func (r *Registry) logicalIDsLocked(clientID string) []string {
	var ids []string
	for logicalID, mapped := range r.logical {
		if mapped == clientID {
			ids = append(ids, logicalID)
		}
	}
	sort.Strings(ids)
	return ids
}

// LastDisconnect returns when the connection last holding logicalID went away.
func (r *Registry) LastDisconnect(logicalID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.disconnectedAt[logicalID]
	return at, ok
}

// Touch refreshes the heartbeat of a connection.
func (r *Registry) Touch(clientID string) bool {
	conn, ok := r.Get(clientID)
	if !ok {
		return false
	}
	conn.touch(r.now())
	return true
}

func (r *Registry) Summaries() []Summary {
	conns := r.Connections()
	summaries := make([]Summary, 0, len(conns))
	r.mu.RLock()
	for _, conn := range conns {
		summaries = append(summaries, Summary{
			ClientID:      conn.ClientID,
			Identity:      conn.Identity,
			IsAgent:       conn.IsAgent,
			LogicalIDs:    r.logicalIDsLocked(conn.ClientID),
			ConnectedAt:   conn.ConnectedAt,
			LastHeartbeat: conn.LastHeartbeat(),
			MessageCount:  conn.MessageCount(),
		})
	}
	r.mu.RUnlock()
	return summaries
}

// Dispose stops the heartbeat sweep, closes every connection, and clears all
// state.
func (r *Registry) Dispose() {
	r.StopHeartbeat()

	r.mu.Lock()
	conns := r.connections
	r.connections = make(map[string]*Connection)
	r.logical = make(map[string]string)
	r.disconnectedAt = make(map[string]time.Time)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
	if len(conns) > 0 {
		r.logger.Info("connection registry disposed", map[string]string{
			"closed": strconv.Itoa(len(conns)),
		})
	}
}
