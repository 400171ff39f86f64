package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// AnswerValue is a learner answer: either a single string or an ordered
// list of strings (multi-select, multi-gap questions).
type AnswerValue struct {
	values []string
	list   bool
}

// SingleAnswer wraps a single string answer.
func SingleAnswer(s string) AnswerValue {
	return AnswerValue{values: []string{s}}
}

// ListAnswer wraps an ordered list answer.
func ListAnswer(values ...string) AnswerValue {
	return AnswerValue{values: append([]string(nil), values...), list: true}
}

// IsList reports whether the answer was given as a list.
func (a AnswerValue) IsList() bool { return a.list }

// Values returns a copy of the answer parts.
func (a AnswerValue) Values() []string { return append([]string(nil), a.values...) }

// Flatten joins list answers with a comma and returns single answers as is.
func (a AnswerValue) Flatten() string {
	if a.list {
		return strings.Join(a.values, ",")
	}
	if len(a.values) == 0 {
		return ""
	}
	return a.values[0]
}

func (a AnswerValue) String() string { return a.Flatten() }

// UnmarshalJSON accepts a JSON string, an array of strings, or null.
func (a *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = AnswerValue{}
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var vs []string
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("decode answer list: %w", err)
		}
		*a = ListAnswer(vs...)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	*a = SingleAnswer(s)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a AnswerValue) MarshalJSON() ([]byte, error) {
	if a.list {
		if a.values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.values)
	}
	return json.Marshal(a.Flatten())
}
