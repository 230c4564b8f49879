package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"chatline/internal/domain"
)

// maxDecodeAttempts bounds how many JSON layers are peeled off a payload.
// Some servers double-encode frames as a JSON string holding JSON; the bound
// is fixed at two.
const maxDecodeAttempts = 2

const defaultStreamError = "Stream error"

// Classify turns the trimmed text after "data:" into an event. ok is false
// for payloads that carry nothing (empty, the [DONE] sentinel, or text that
// is empty after decoding). Classify never fails: text that is not JSON is a
// plain-text delta and unknown objects are Ignored.
func Classify(payload string) (ev domain.ChatEvent, ok bool) {
	text, obj, ok := peel(payload)
	if !ok {
		return nil, false
	}
	if obj == nil {
		if text == "" {
			return nil, false
		}
		return domain.TextDelta{Delta: text}, true
	}
	return classifyObject(obj), true
}

// peel decodes up to maxDecodeAttempts JSON string layers. It returns either
// the final text or the raw bytes of the first non-string JSON value.
func peel(payload string) (text string, obj json.RawMessage, ok bool) {
	current := payload
	for i := 0; i < maxDecodeAttempts; i++ {
		raw := strings.TrimSpace(current)
		if raw == "" || raw == doneSentinel {
			return "", nil, false
		}
		if !json.Valid([]byte(raw)) {
			return raw, nil, true
		}
		if raw[0] != '"' {
			return "", json.RawMessage(raw), true
		}
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return raw, nil, true
		}
		current = s
	}
	return strings.TrimSpace(current), nil, true
}

func classifyObject(raw json.RawMessage) domain.ChatEvent {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return domain.Ignored{}
	}

	if msg, ok := stringOf(fields["error"]); ok && strings.TrimSpace(msg) != "" {
		return domain.StreamError{Message: msg}
	}

	typ, _ := stringOf(fields["type"])
	switch strings.ToLower(typ) {
	case "error":
		return domain.StreamError{Message: firstNonEmpty(fields["message"], fields["error"])}
	case "text_delta":
		if delta, ok := stringOf(fields["delta"]); ok {
			return domain.TextDelta{Delta: delta}
		}
	case "agent_end":
		if items, ok := arrayOf(fields["messages"]); ok {
			return agentEnd(items, fields)
		}
	}
	return domain.Ignored{Type: typ}
}

func agentEnd(items []json.RawMessage, fields map[string]json.RawMessage) domain.AgentEnd {
	end := domain.AgentEnd{Messages: make([]domain.ModelMessage, 0, len(items))}
	for _, item := range items {
		var m domain.ModelMessage
		if err := json.Unmarshal(item, &m); err != nil {
			continue
		}
		end.Messages = append(end.Messages, m)
	}
	if skills, ok := arrayOf(fields["skills"]); ok {
		end.Skills = make([]string, 0, len(skills))
		for _, s := range skills {
			if v, ok := stringOf(s); ok {
				end.Skills = append(end.Skills, v)
			}
		}
	}
	end.Model, _ = stringOf(fields["model"])
	end.Provider, _ = stringOf(fields["provider"])
	return end
}

func firstNonEmpty(candidates ...json.RawMessage) string {
	for _, c := range candidates {
		if s, ok := stringOf(c); ok && s != "" {
			return s
		}
	}
	return defaultStreamError
}

func stringOf(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func arrayOf(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}
