package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ContentKind tags the shape a message content value arrived in.
type ContentKind int

const (
	ContentEmpty  ContentKind = iota // null, missing, or an unrecognized shape
	ContentString                    // a plain string
	ContentParts                     // an ordered list of typed parts
	ContentObject                    // an object carrying a "text" field
)

// ContentPart is one typed element of a multi-part content value.
// Nil fields were absent or not string-typed.
type ContentPart struct {
	Type  string  `json:"type,omitempty"`
	Text  *string `json:"text,omitempty"`
	URL   *string `json:"url,omitempty"`
	Emoji *string `json:"emoji,omitempty"`
}

// Content is the polymorphic content of a ModelMessage.
type Content struct {
	Kind  ContentKind
	Value string        // ContentString and ContentObject
	Parts []ContentPart // ContentParts
}

// ParseContent classifies a raw JSON content value. It never fails: shapes it
// does not recognize come back as ContentEmpty.
func ParseContent(raw json.RawMessage) Content {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Content{}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return Content{Kind: ContentString, Value: s}
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Content{}
		}
		parts := make([]ContentPart, 0, len(items))
		for _, item := range items {
			fields := objectFields(item)
			if fields == nil {
				continue
			}
			var part ContentPart
			part.Type, _ = stringField(fields["type"])
			part.Text = optionalString(fields["text"])
			part.URL = optionalString(fields["url"])
			part.Emoji = optionalString(fields["emoji"])
			parts = append(parts, part)
		}
		return Content{Kind: ContentParts, Parts: parts}
	case '{':
		fields := objectFields(raw)
		if text, ok := stringField(fields["text"]); ok {
			return Content{Kind: ContentObject, Value: text}
		}
	}
	return Content{}
}

// UnmarshalJSON implements json.Unmarshaler and never returns an error.
func (c *Content) UnmarshalJSON(data []byte) error {
	*c = ParseContent(data)
	return nil
}

// MarshalJSON writes the content back in the shape it was parsed from.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentString:
		return json.Marshal(c.Value)
	case ContentParts:
		return json.Marshal(c.Parts)
	case ContentObject:
		return json.Marshal(map[string]string{"text": c.Value})
	default:
		return []byte("null"), nil
	}
}

// Text extracts the displayable text of the content, trimmed. Parts are
// joined with newlines; empty parts are dropped.
func (c Content) Text() string {
	switch c.Kind {
	case ContentString, ContentObject:
		return strings.TrimSpace(c.Value)
	case ContentParts:
		lines := make([]string, 0, len(c.Parts))
		for _, p := range c.Parts {
			if s := p.text(); s != "" {
				lines = append(lines, s)
			}
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	default:
		return ""
	}
}

func (p ContentPart) text() string {
	var v *string
	switch strings.ToLower(p.Type) {
	case "text":
		v = p.Text
	case "link":
		v = p.URL
	case "emoji":
		v = p.Emoji
	}
	if v == nil {
		v = p.Text
	}
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// ExtractText is ParseContent(raw).Text().
func ExtractText(raw json.RawMessage) string {
	return ParseContent(raw).Text()
}

// AssistantTexts returns the non-empty texts of assistant-authored messages,
// in order.
func AssistantTexts(messages []ModelMessage) []string {
	var out []string
	for _, m := range messages {
		if m.Role != RoleAssistant {
			continue
		}
		if text := m.Content.Text(); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// PersistedText extracts the text of a stored message's content column.
// The column may hold a JSON string that itself encodes a model message or a
// content value, an object wrapping a "content" field, or content directly.
func PersistedText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return ""
		}
		inner := bytes.TrimSpace([]byte(s))
		if !json.Valid(inner) || !isStructured(inner) {
			return strings.TrimSpace(s)
		}
		return unwrapContent(inner)
	case '{':
		return unwrapContent(raw)
	default:
		return ExtractText(raw)
	}
}

// unwrapContent extracts raw.content when raw is an object carrying a
// non-null content field, and raw itself otherwise.
func unwrapContent(raw json.RawMessage) string {
	if fields := objectFields(raw); fields != nil {
		if inner, ok := fields["content"]; ok && !isNull(inner) {
			return ExtractText(inner)
		}
	}
	return ExtractText(raw)
}

func isStructured(raw []byte) bool {
	switch raw[0] {
	case '{', '[', '"':
		return true
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func objectFields(raw json.RawMessage) map[string]json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

// stringField decodes raw when it is a JSON string.
func stringField(raw json.RawMessage) (string, bool) {
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

func optionalString(raw json.RawMessage) *string {
	s, ok := stringField(raw)
	if !ok {
		return nil
	}
	return &s
}
