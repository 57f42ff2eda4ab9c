package message

import (
	"bytes"
	"strings"
)

// IsValidMessage performs the structural envelope check. It accepts an
// Envelope, a pointer to one, or a decoded JSON object; any other input,
// including nil, slices, and scalars, is rejected.
func IsValidMessage(value any) bool {
	switch typed := value.(type) {
	case Envelope:
		return validEnvelope(typed)
	case *Envelope:
		if typed == nil {
			return false
		}
		return validEnvelope(*typed)
	case map[string]any:
		return validObject(typed)
	default:
		return false
	}
}

func validEnvelope(envelope Envelope) bool {
	if envelope.ID == "" || envelope.From == "" || envelope.To == "" || envelope.Type == "" {
		return false
	}
	if !IsKnownType(string(envelope.Type)) {
		return false
	}
	payload := bytes.TrimSpace(envelope.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return false
	}
	return strings.TrimSpace(envelope.Timestamp) != ""
}

func validObject(object map[string]any) bool {
	if object == nil {
		return false
	}
	for _, key := range []string{"id", "from", "to", "type"} {
		value, ok := object[key].(string)
		if !ok || value == "" {
			return false
		}
	}
	if !IsKnownType(object["type"].(string)) {
		return false
	}
	if payload, ok := object["payload"]; !ok || payload == nil {
		return false
	}
	if timestamp, ok := object["timestamp"]; !ok || timestamp == nil {
		return false
	}
	return true
}
