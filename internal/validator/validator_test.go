package validator

import (
	"strings"
	"testing"

	"orchestra/internal/message"
)

func validFrame(t *testing.T, to string, kind message.Type) []byte {
	t.Helper()
	envelope, err := message.CreateMessage("agent-1", to, kind, map[string]any{"taskId": "t-1"}, "")
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	data, err := envelope.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestValidateAcceptsCreatedMessages(t *testing.T) {
	for _, to := range []string{"conductor", "broadcast", "dashboard", "all-agents", "agent-7"} {
		result := Validate(validFrame(t, to, message.TypeTaskAssign))
		if !result.IsValid {
			t.Fatalf("expected %s envelope to be valid, got %+v", to, result.Errors)
		}
		if result.Envelope == nil || result.Envelope.To != to {
			t.Fatalf("expected decoded envelope for %s", to)
		}
		if len(result.Warnings) != 0 {
			t.Fatalf("expected no warnings, got %v", result.Warnings)
		}
		if !message.IsValidMessage(result.Envelope) {
			t.Fatalf("expected decoded envelope to pass structural check")
		}
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		field string
		text  string
	}{
		{name: "not json", raw: "hello there", text: "invalid JSON"},
		{name: "empty", raw: "   ", text: "empty message"},
		{name: "array", raw: `[1,2]`, text: "got array"},
		{name: "null", raw: `null`, text: "got null"},
		{name: "string", raw: `"text"`, text: "got string"},
		{
			name:  "missing id",
			raw:   `{"from":"a","to":"conductor","type":"ACK","payload":{},"timestamp":"2024-01-01T00:00:00.000Z"}`,
			field: "id",
			text:  "missing required field",
		},
		{
			name:  "id not a string",
			raw:   `{"id":5,"from":"a","to":"conductor","type":"ACK","payload":{},"timestamp":"2024-01-01T00:00:00.000Z"}`,
			field: "id",
			text:  "expected string",
		},
		{
			name:  "empty from",
			raw:   `{"id":"m","from":"","to":"conductor","type":"ACK","payload":{},"timestamp":"2024-01-01T00:00:00.000Z"}`,
			field: "from",
			text:  "must not be empty",
		},
		{
			name:  "unknown type",
			raw:   `{"id":"m","from":"a","to":"conductor","type":"NOPE","payload":{},"timestamp":"2024-01-01T00:00:00.000Z"}`,
			field: "type",
			text:  `unknown message type "NOPE"`,
		},
		{
			name:  "null payload",
			raw:   `{"id":"m","from":"a","to":"conductor","type":"ACK","payload":null,"timestamp":"2024-01-01T00:00:00.000Z"}`,
			field: "payload",
			text:  "must not be null",
		},
		{
			name:  "missing timestamp",
			raw:   `{"id":"m","from":"a","to":"conductor","type":"ACK","payload":{}}`,
			field: "timestamp",
			text:  "missing required field",
		},
		{
			name:  "bad destination",
			raw:   `{"id":"m","from":"a","to":"agent-","type":"ACK","payload":{},"timestamp":"2024-01-01T00:00:00.000Z"}`,
			field: "to",
			text:  "invalid destination",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Validate([]byte(tc.raw))
			if result.IsValid || result.Envelope != nil {
				t.Fatalf("expected invalid result, got %+v", result)
			}
			if len(result.Errors) == 0 {
				t.Fatal("expected at least one error")
			}
			issue := result.Errors[0]
			if issue.Field != tc.field {
				t.Fatalf("expected field %q, got %q (%s)", tc.field, issue.Field, issue.Message)
			}
			if !strings.Contains(issue.Message, tc.text) {
				t.Fatalf("expected message containing %q, got %q", tc.text, issue.Message)
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	raw := `{"id":"m","from":"a","to":"conductor","type":"TASK_ASSIGN","payload":"text","timestamp":"yesterday","requiresAck":false}`
	result := Validate([]byte(raw))
	if !result.IsValid {
		t.Fatalf("expected warnings only, got errors %+v", result.Errors)
	}
	if len(result.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", result.Warnings)
	}
	if !result.Envelope.RequiresAck {
		t.Fatal("expected requiresAck to be corrected from the type")
	}
}

func TestValidateIgnoresUnknownFields(t *testing.T) {
	raw := `{"id":"m","from":"a","to":"dashboard","type":"AGENT_STATUS","payload":{},"timestamp":"2024-01-01T00:00:00.000Z","extra":1}`
	if result := Validate([]byte(raw)); !result.IsValid {
		t.Fatalf("expected unknown fields to be tolerated, got %+v", result.Errors)
	}
}

func TestValidatorMaxBytes(t *testing.T) {
	frame := validFrame(t, "conductor", message.TypeAgentStatus)
	result := New(len(frame) - 1).Validate(frame)
	if result.IsValid {
		t.Fatal("expected oversized frame to be rejected")
	}
	if !strings.Contains(result.Reason(), "exceeds") {
		t.Fatalf("unexpected reason %q", result.Reason())
	}
	if !New(len(frame)).Validate(frame).IsValid {
		t.Fatal("expected frame at the limit to pass")
	}
}

func TestCreateErrorResponse(t *testing.T) {
	envelope := CreateErrorResponse("invalid JSON", "client-1")
	if envelope.Type != message.TypeSystemError || envelope.From != ServerIdentity || envelope.To != "client-1" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if envelope.RequiresAck {
		t.Fatal("system errors do not require ack")
	}
	var payload map[string]string
	if err := envelope.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["error"] != "invalid JSON" {
		t.Fatalf("unexpected payload %v", payload)
	}

	reply := CreateErrorReply("boom", "client-1", "msg-00000001")
	if reply.CorrelationID != "msg-00000001" {
		t.Fatalf("expected correlation id to be kept, got %q", reply.CorrelationID)
	}
}

func TestResultReason(t *testing.T) {
	result := Result{Errors: []Issue{{Field: "to", Message: "bad"}, {Message: "worse"}}}
	if got := result.Reason(); got != "to: bad; worse" {
		t.Fatalf("unexpected reason %q", got)
	}
}
