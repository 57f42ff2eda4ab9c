// Package validator turns raw inbound frames into envelopes. It is pure: it
// never touches connection state or the history log.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"orchestra/internal/destination"
	"orchestra/internal/jsoncodec"
	"orchestra/internal/message"
	"orchestra/internal/schema"
)

// ServerIdentity is the sender of envelopes the bus produces itself.
const ServerIdentity = "server"

// Issue is a single validation failure tied to an envelope field. Field is
// empty for frame-level problems such as malformed JSON.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// Result is the outcome of validating one frame. Envelope is set only when
// IsValid is true.
type Result struct {
	IsValid  bool              `json:"isValid"`
	Errors   []Issue           `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Envelope *message.Envelope `json:"result,omitempty"`
}

// Reason joins the errors into a single line suitable for an error response.
func (r Result) Reason() string {
	parts := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		parts = append(parts, issue.String())
	}
	return strings.Join(parts, "; ")
}

// Validator checks frames against the envelope schema and addressing rules.
// The zero value accepts frames of any size.
type Validator struct {
	// MaxBytes bounds the raw frame size when positive.
	MaxBytes int
}

func New(maxBytes int) *Validator {
	return &Validator{MaxBytes: maxBytes}
}

// Validate checks a frame with no size limit.
func Validate(raw []byte) Result {
	return (&Validator{}).Validate(raw)
}

func (v *Validator) Validate(raw []byte) Result {
	if v != nil && v.MaxBytes > 0 && len(raw) > v.MaxBytes {
		return invalid(Issue{Message: fmt.Sprintf("message exceeds %d bytes", v.MaxBytes)})
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return invalid(Issue{Message: "empty message"})
	}

	var decoded any
	if err := jsoncodec.Unmarshal(raw, &decoded); err != nil {
		return invalid(Issue{Message: "invalid JSON"})
	}
	object, ok := decoded.(map[string]any)
	if !ok {
		return invalid(Issue{Message: fmt.Sprintf("message must be a JSON object, got %s", schema.ActualType(decoded))})
	}

	if err := schema.ValidateObject(message.EnvelopeSchema(), object); err != nil {
		return invalid(issueFromSchema(err))
	}

	envelope, err := message.Decode(raw)
	if err != nil {
		return invalid(Issue{Message: "invalid JSON"})
	}
	if !destination.IsValid(envelope.To) {
		return invalid(Issue{Field: "to", Message: fmt.Sprintf("invalid destination %q", envelope.To)})
	}

	result := Result{IsValid: true}
	if expected := message.ShouldRequireAck(envelope.Type); envelope.RequiresAck != expected {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("requiresAck for %s must be %t; corrected", envelope.Type, expected))
		envelope.RequiresAck = expected
	}
	if _, err := envelope.Time(); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("timestamp %q is not ISO-8601", envelope.Timestamp))
	}
	if _, isObject := object["payload"].(map[string]any); !isObject {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("payload is %s, expected object", schema.ActualType(object["payload"])))
	}
	result.Envelope = &envelope
	return result
}

func invalid(issue Issue) Result {
	return Result{Errors: []Issue{issue}}
}

func issueFromSchema(err error) Issue {
	var validationErr *schema.ValidationError
	if !errors.As(err, &validationErr) {
		return Issue{Message: err.Error()}
	}
	if validationErr.Path == "type" && validationErr.Expected == "enum" {
		return Issue{Field: "type", Message: fmt.Sprintf("unknown message type %v", schemaValue(validationErr.ActualValue))}
	}
	field := validationErr.Path
	copied := *validationErr
	copied.Path = ""
	return Issue{Field: field, Message: copied.Error()}
}

func schemaValue(value any) string {
	if text, ok := value.(string); ok {
		return fmt.Sprintf("%q", text)
	}
	return fmt.Sprint(value)
}

// CreateErrorResponse builds a SYSTEM_ERROR envelope from the server to
// clientID carrying reason.
func CreateErrorResponse(reason, clientID string) message.Envelope {
	return CreateErrorReply(reason, clientID, "")
}

// CreateErrorReply is CreateErrorResponse correlated to the envelope that
// caused the failure.
func CreateErrorReply(reason, clientID, correlationID string) message.Envelope {
	envelope, _ := message.CreateMessage(ServerIdentity, clientID, message.TypeSystemError,
		map[string]string{"error": reason}, correlationID)
	return envelope
}
