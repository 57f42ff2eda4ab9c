package event

import (
	"time"

	"orchestra/internal/message"
)

const (
	TypeServerStarted       = "server_started"
	TypeServerStopped       = "server_stopped"
	TypeMessageReceived     = "message_received"
	TypeLogicalIDReassigned = "logical_id_reassigned"
	TypeClientConnected     = "client_connected"
	TypeClientDisconnected  = "client_disconnected"
	TypeClientEvicted       = "client_evicted"
)

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

// ServerEvent reports a lifecycle transition of the bus server.
type ServerEvent struct {
	EventType  string
	Port       int
	OccurredAt time.Time
}

func NewServerEvent(eventType string, port int) ServerEvent {
	return ServerEvent{
		EventType:  eventType,
		Port:       port,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ServerEvent) Type() string {
	return e.EventType
}

func (e ServerEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// MessageEvent carries an envelope accepted from a connection.
type MessageEvent struct {
	ClientID   string
	Envelope   message.Envelope
	OccurredAt time.Time
}

func NewMessageEvent(clientID string, envelope message.Envelope) MessageEvent {
	return MessageEvent{
		ClientID:   clientID,
		Envelope:   envelope,
		OccurredAt: time.Now().UTC(),
	}
}

func (e MessageEvent) Type() string {
	return TypeMessageReceived
}

func (e MessageEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// ReassignmentEvent records a logical id moving to a new physical connection.
type ReassignmentEvent struct {
	LogicalID        string
	PreviousClientID string
	NewClientID      string
	OccurredAt       time.Time
}

func (e ReassignmentEvent) Type() string {
	return TypeLogicalIDReassigned
}

func (e ReassignmentEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// ConnectionEvent captures a connection joining or leaving the registry.
type ConnectionEvent struct {
	EventType  string
	ClientID   string
	Identity   string
	IsAgent    bool
	OccurredAt time.Time
}

func NewConnectionEvent(eventType, clientID, identity string, isAgent bool) ConnectionEvent {
	return ConnectionEvent{
		EventType:  eventType,
		ClientID:   clientID,
		Identity:   identity,
		IsAgent:    isAgent,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ConnectionEvent) Type() string {
	return e.EventType
}

func (e ConnectionEvent) Timestamp() time.Time {
	return e.OccurredAt
}
