// Package destination classifies the "to" field of an envelope.
//
// The set of named destinations is closed. Any other valid destination must
// follow the per-agent pattern agent-<id> with a non-empty id.
package destination

import "strings"

const (
	Conductor = "conductor"
	Broadcast = "broadcast"
	Dashboard = "dashboard"
	AllAgents = "all-agents"

	AgentPrefix = "agent-"
)

// Kind is the routing class of a destination.
type Kind int

const (
	KindInvalid Kind = iota
	KindBroadcast
	KindConductor
	KindDashboard
	KindAgent
)

func (k Kind) String() string {
	switch k {
	case KindBroadcast:
		return "broadcast"
	case KindConductor:
		return "conductor"
	case KindDashboard:
		return "dashboard"
	case KindAgent:
		return "agent"
	default:
		return "invalid"
	}
}

// Classify returns the routing kind of to.
func Classify(to string) Kind {
	switch {
	case IsBroadcast(to):
		return KindBroadcast
	case IsConductor(to):
		return KindConductor
	case IsDashboard(to):
		return KindDashboard
	case IsAgent(to):
		return KindAgent
	default:
		return KindInvalid
	}
}

func IsValid(to string) bool {
	return Classify(to) != KindInvalid
}

// IsBroadcast reports whether to fans out to every connection.
func IsBroadcast(to string) bool {
	return to == Broadcast || to == AllAgents
}

func IsConductor(to string) bool {
	return to == Conductor
}

func IsDashboard(to string) bool {
	return to == Dashboard
}

// IsAgent reports whether to names a single agent. The suffix after the
// prefix must be non-empty.
func IsAgent(to string) bool {
	return len(to) > len(AgentPrefix) && strings.HasPrefix(to, AgentPrefix)
}

// ExtractAgentID returns the id portion of an agent destination.
func ExtractAgentID(to string) (string, bool) {
	if !IsAgent(to) {
		return "", false
	}
	return to[len(AgentPrefix):], true
}

// AgentDestination is the inverse of ExtractAgentID.
func AgentDestination(agentID string) string {
	return AgentPrefix + agentID
}
