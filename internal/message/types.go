package message

// Type is the closed set of envelope kinds understood by the bus.
type Type string

const (
	TypeTaskAssign        Type = "TASK_ASSIGN"
	TypeTaskAccepted      Type = "TASK_ACCEPTED"
	TypeTaskProgress      Type = "TASK_PROGRESS"
	TypeTaskComplete      Type = "TASK_COMPLETE"
	TypeTaskFailed        Type = "TASK_FAILED"
	TypeTaskCancel        Type = "TASK_CANCEL"
	TypeAgentReady        Type = "AGENT_READY"
	TypeAgentStatus       Type = "AGENT_STATUS"
	TypeAgentHeartbeat    Type = "AGENT_HEARTBEAT"
	TypeAgentError        Type = "AGENT_ERROR"
	TypeAgentTerminate    Type = "AGENT_TERMINATE"
	TypeSpawnAgent        Type = "SPAWN_AGENT"
	TypeSubagentSpawn     Type = "SUBAGENT_SPAWN"
	TypeSubagentResult    Type = "SUBAGENT_RESULT"
	TypeConductorQuery    Type = "CONDUCTOR_QUERY"
	TypeConductorResponse Type = "CONDUCTOR_RESPONSE"
	TypeBroadcast         Type = "BROADCAST"
	TypeAck               Type = "ACK"
	TypeSystemError       Type = "SYSTEM_ERROR"
)

var knownTypes = map[Type]struct{}{
	TypeTaskAssign:        {},
	TypeTaskAccepted:      {},
	TypeTaskProgress:      {},
	TypeTaskComplete:      {},
	TypeTaskFailed:        {},
	TypeTaskCancel:        {},
	TypeAgentReady:        {},
	TypeAgentStatus:       {},
	TypeAgentHeartbeat:    {},
	TypeAgentError:        {},
	TypeAgentTerminate:    {},
	TypeSpawnAgent:        {},
	TypeSubagentSpawn:     {},
	TypeSubagentResult:    {},
	TypeConductorQuery:    {},
	TypeConductorResponse: {},
	TypeBroadcast:         {},
	TypeAck:               {},
	TypeSystemError:       {},
}

// Kinds that mutate agent or task state and therefore expect an ACK.
var ackRequired = map[Type]struct{}{
	TypeTaskAssign:     {},
	TypeTaskCancel:     {},
	TypeTaskComplete:   {},
	TypeTaskFailed:     {},
	TypeAgentTerminate: {},
	TypeSpawnAgent:     {},
	TypeSubagentSpawn:  {},
	TypeSubagentResult: {},
}

// IsKnownType reports whether value names one of the recognized kinds.
func IsKnownType(value string) bool {
	_, ok := knownTypes[Type(value)]
	return ok
}

// ShouldRequireAck is a pure function of the kind.
func ShouldRequireAck(kind Type) bool {
	_, ok := ackRequired[kind]
	return ok
}

// KnownTypes returns every recognized kind in declaration order.
func KnownTypes() []Type {
	return []Type{
		TypeTaskAssign, TypeTaskAccepted, TypeTaskProgress, TypeTaskComplete, TypeTaskFailed, TypeTaskCancel,
		TypeAgentReady, TypeAgentStatus, TypeAgentHeartbeat, TypeAgentError, TypeAgentTerminate,
		TypeSpawnAgent, TypeSubagentSpawn, TypeSubagentResult,
		TypeConductorQuery, TypeConductorResponse,
		TypeBroadcast, TypeAck, TypeSystemError,
	}
}
