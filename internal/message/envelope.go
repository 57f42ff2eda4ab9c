// Package message defines the wire envelope exchanged over the bus and the
// pure helpers that build, check, and transcode it.
package message

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"orchestra/internal/jsoncodec"

	"github.com/google/uuid"
)

const (
	// TimestampLayout matches the millisecond ISO-8601 form used on the wire.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

	messageIDPrefix = "msg-"
)

// Envelope is the addressed, typed unit of communication. Payload is kept as
// raw JSON so routing never has to understand it.
type Envelope struct {
	ID            string          `json:"id"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     string          `json:"timestamp"`
	RequiresAck   bool            `json:"requiresAck"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

var messageCounter atomic.Uint32

func init() {
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err == nil {
		messageCounter.Store(binary.BigEndian.Uint32(seed[:]))
	}
}

// GenerateMessageID returns msg- followed by eight lowercase hex digits. The
// suffix comes from a randomly seeded counter, so ids never repeat within a
// process until the counter wraps.
func GenerateMessageID() string {
	return fmt.Sprintf("%s%08x", messageIDPrefix, messageCounter.Add(1))
}

// FormatTimestamp renders t in the wire layout, always in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the wire layout and plain RFC 3339.
func ParseTimestamp(value string) (time.Time, error) {
	if parsed, err := time.Parse(TimestampLayout, value); err == nil {
		return parsed, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

// CreateMessage builds an envelope with a fresh id. When correlationID is
// empty a new one is generated so every envelope can be traced.
func CreateMessage(from, to string, kind Type, payload any, correlationID string) (Envelope, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		ID:            GenerateMessageID(),
		From:          from,
		To:            to,
		Type:          kind,
		Payload:       raw,
		Timestamp:     FormatTimestamp(time.Now()),
		RequiresAck:   ShouldRequireAck(kind),
		CorrelationID: correlationID,
	}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch typed := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(typed) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !jsoncodec.Valid(typed) {
			return nil, fmt.Errorf("payload is not valid json")
		}
		return typed, nil
	default:
		data, err := jsoncodec.Marshal(typed)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}
}

// Time returns the parsed envelope timestamp.
func (e Envelope) Time() (time.Time, error) {
	return ParseTimestamp(e.Timestamp)
}

// DecodePayload unmarshals the payload into v. Consumers that understand a
// particular kind use it at their own boundary.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope %s has no payload", e.ID)
	}
	return jsoncodec.Unmarshal(e.Payload, v)
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// Decode parses a wire envelope without validating it.
func Decode(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := jsoncodec.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}
