package message

import (
	"github.com/invopop/jsonschema"

	"orchestra/internal/schema"
)

// SchemaEnvelope is the registry name of the wire envelope schema.
const SchemaEnvelope = "envelope"

func init() {
	_ = schema.Register(SchemaEnvelope, envelopeSchema)
}

// EnvelopeSchema returns the wire envelope schema.
func EnvelopeSchema() *jsonschema.Schema {
	if s, err := schema.Resolve(SchemaEnvelope); err == nil {
		return s
	}
	return envelopeSchema()
}

func envelopeSchema() *jsonschema.Schema {
	s := schema.Reflect(Envelope{})
	s.Title = "Envelope"
	s.Description = "Addressed, typed unit of communication exchanged over the bus."
	s.Required = []string{"id", "from", "to", "type", "payload", "timestamp"}

	nonEmpty := uint64(1)
	for _, key := range []string{"id", "from", "to", "type"} {
		if property, ok := s.Properties.Get(key); ok && property != nil {
			property.MinLength = &nonEmpty
		}
	}
	if property, ok := s.Properties.Get("type"); ok && property != nil {
		kinds := KnownTypes()
		property.Enum = make([]any, 0, len(kinds))
		for _, kind := range kinds {
			property.Enum = append(property.Enum, string(kind))
		}
	}
	s.Properties.Set("payload", &jsonschema.Schema{
		Description: "Kind-specific value; never inspected by routing.",
	})
	if property, ok := s.Properties.Get("timestamp"); ok && property != nil {
		property.Format = "date-time"
	}
	return s
}
