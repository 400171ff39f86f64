package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// QuestionContent is the question payload as stored by the test definition.
// It is decoded once when unmarshalled: the raw form may be a JSON string
// (which may itself hold JSON) or a JSON object with question/text fields.
type QuestionContent struct {
	raw        json.RawMessage
	serialized string
	prompt     string
}

// NewTextContent builds content from a plain string.
func NewTextContent(s string) QuestionContent {
	raw, _ := json.Marshal(s)
	return NewContent(raw)
}

// NewContent builds content from raw JSON.
func NewContent(raw json.RawMessage) QuestionContent {
	var c QuestionContent
	c.decode(raw)
	return c
}

// Serialized returns the content as one string: the string itself for
// string content, compact JSON otherwise.
func (c QuestionContent) Serialized() string { return c.serialized }

// Text returns the human-readable question prompt.
func (c QuestionContent) Text() string { return c.prompt }

// IsEmpty reports whether the question carries no content.
func (c QuestionContent) IsEmpty() bool { return c.serialized == "" }

// UnmarshalJSON implements json.Unmarshaler.
func (c *QuestionContent) UnmarshalJSON(data []byte) error {
	c.decode(data)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c QuestionContent) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte("null"), nil
	}
	return c.raw, nil
}

func (c *QuestionContent) decode(data []byte) {
	data = bytes.TrimSpace(data)
	*c = QuestionContent{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return
	}
	c.raw = append(json.RawMessage(nil), data...)

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.serialized = s
		c.prompt = promptFromString(s)
		return
	}

	c.serialized = compactJSON(data)
	c.prompt = promptFromJSON(data)
}

// promptFromString treats s as JSON if it parses, otherwise as the prompt itself.
func promptFromString(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return s
	}
	return promptFromJSON([]byte(trimmed))
}

func promptFromJSON(data []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		if v, ok := obj["question"].(string); ok && v != "" {
			return v
		}
		if v, ok := obj["text"].(string); ok && v != "" {
			return v
		}
		return compactJSON(data)
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	if bytes.Equal(data, []byte("null")) {
		return ""
	}
	return compactJSON(data)
}

func compactJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return string(data)
	}
	return buf.String()
}
