package registry

import (
	"strings"
	"sync/atomic"
	"time"

	"orchestra/internal/destination"
)

// Sender is the transport side of a connection. Send must be safe to call
// from multiple goroutines.
type Sender interface {
	Send(data []byte) error
	Close() error
}

// Connection is a live client owned by the registry.
type Connection struct {
	ClientID    string
	Identity    string
	IsAgent     bool
	ConnectedAt time.Time

	sender        Sender
	lastHeartbeat atomic.Int64
	messageCount  atomic.Int64
}

func newConnection(clientID, identity string, isAgent bool, sender Sender, now time.Time) *Connection {
	conn := &Connection{
		ClientID:    clientID,
		Identity:    identity,
		IsAgent:     isAgent,
		ConnectedAt: now,
		sender:      sender,
	}
	conn.lastHeartbeat.Store(now.UnixNano())
	return conn
}

func (c *Connection) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// MessageCount is the number of frames dispatched to this connection.
func (c *Connection) MessageCount() int64 {
	return c.messageCount.Load()
}

func (c *Connection) touch(now time.Time) {
	c.lastHeartbeat.Store(now.UnixNano())
}

func (c *Connection) send(data []byte) error {
	c.messageCount.Add(1)
	if c.sender == nil {
		return nil
	}
	return c.sender.Send(data)
}

func (c *Connection) close() {
	if c.sender != nil {
		_ = c.sender.Close()
	}
}

// InferAgent reports whether a declared client identity looks like an agent,
// i.e. follows the agent-<id> naming used for agent destinations.
func InferAgent(identity string) bool {
	return destination.IsAgent(strings.ToLower(strings.TrimSpace(identity)))
}

// Summary is a read-only view of a connection for observability.
type Summary struct {
	ClientID      string    `json:"clientId"`
	Identity      string    `json:"identity,omitempty"`
	IsAgent       bool      `json:"isAgent"`
	LogicalIDs    []string  `json:"logicalIds,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	MessageCount  int64     `json:"messageCount"`
}

// Reassignment records a logical id moving between physical connections.
type Reassignment struct {
	LogicalID        string    `json:"logicalId"`
	PreviousClientID string    `json:"previousClientId"`
	NewClientID      string    `json:"newClientId"`
	Timestamp        time.Time `json:"timestamp"`
}
