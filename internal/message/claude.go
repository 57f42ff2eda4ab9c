package message

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"orchestra/internal/jsoncodec"
)

var fencedBlockPattern = regexp.MustCompile("(?s)```[A-Za-z]*[ \\t]*\\n?(.*?)```")

// FormatMessageForClaude renders an envelope as a text block for an AI
// process prompt.
func FormatMessageForClaude(envelope Envelope) string {
	builder := strings.Builder{}
	builder.WriteString("[MESSAGE: ")
	builder.WriteString(string(envelope.Type))
	builder.WriteString("]\n")
	builder.WriteString("From: ")
	builder.WriteString(envelope.From)
	builder.WriteString("\nTo: ")
	builder.WriteString(envelope.To)
	builder.WriteString("\n")
	if envelope.CorrelationID != "" {
		builder.WriteString("Correlation: ")
		builder.WriteString(envelope.CorrelationID)
		builder.WriteString("\n")
	}
	builder.WriteString("Payload:\n")
	builder.WriteString(prettyPayload(envelope.Payload))
	builder.WriteString("\n")
	return builder.String()
}

func prettyPayload(payload json.RawMessage) string {
	if len(bytes.TrimSpace(payload)) == 0 {
		return "{}"
	}
	var out bytes.Buffer
	if err := json.Indent(&out, payload, "", "  "); err != nil {
		return string(payload)
	}
	return out.String()
}

// ExtractJSONFromClaudeOutput returns the first JSON object found in text,
// or nil. Fenced code blocks win over bare brace spans.
func ExtractJSONFromClaudeOutput(text string) map[string]any {
	for _, match := range fencedBlockPattern.FindAllStringSubmatch(text, -1) {
		if parsed := firstObject(match[1]); parsed != nil {
			return parsed
		}
	}
	return firstObject(text)
}

func firstObject(text string) map[string]any {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchingBrace(text, start); end > start {
			var parsed map[string]any
			if err := jsoncodec.Unmarshal([]byte(text[start:end+1]), &parsed); err == nil && parsed != nil {
				return parsed
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil
}

// matchingBrace returns the index of the brace closing the one at start,
// skipping braces inside string literals, or -1.
func matchingBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
