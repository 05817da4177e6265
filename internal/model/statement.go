package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Statement is a subject-predicate-object knowledge unit extracted from a transcript
type Statement struct {
	ID         string            `json:"id"`               // Extractor-assigned identifier
	UUID       string            `json:"uuid,omitempty"`   // Graph identifier, set on persistence
	Subject    string            `json:"subject"`          // Who or what
	Predicate  string            `json:"predicate"`        // Action or relation
	Object     string            `json:"object"`           // Target of the action
	Context    string            `json:"context"`          // Qualifying information
	Confidence float64           `json:"confidence"`       // Expected 0.7-1.0, not enforced
	Source     string            `json:"source,omitempty"` // Original text snippet
	Topics     []TopicAssignment `json:"topics,omitempty"` // LLM-assigned topics (max 2, prompt-enforced)
	Embedding  []float32         `json:"-"`                // Optional vector of Object
}

// Label returns the display string of the statement.
// It is always derived from the current field values and never read from input.
func (s Statement) Label() string {
	return s.Subject + " " + s.Predicate + " " + s.Object + " " + s.Context
}

// HasNamedTopics reports whether at least one assignment resolves to a topic
func (s Statement) HasNamedTopics() bool {
	for _, t := range s.Topics {
		if t.Kind != AssignmentAbsent {
			return true
		}
	}
	return false
}

// SubjectFallback returns the default topic assignment derived from the subject.
// ok is false when the subject is blank.
func (s Statement) SubjectFallback() (TopicAssignment, bool) {
	subject := strings.TrimSpace(s.Subject)
	if subject == "" {
		return TopicAssignment{}, false
	}
	return NamedTopic(subject, []string{subject}), true
}

// UnmarshalJSON decodes a statement leniently: ids may be numbers and
// confidence may be a numeric string. Any incoming label is ignored.
func (s *Statement) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         json.RawMessage `json:"id"`
		UUID       string          `json:"uuid"`
		Subject    json.RawMessage `json:"subject"`
		Predicate  json.RawMessage `json:"predicate"`
		Object     json.RawMessage `json:"object"`
		Context    json.RawMessage `json:"context"`
		Confidence json.RawMessage `json:"confidence"`
		Source     json.RawMessage `json:"source"`
		Topics     json.RawMessage `json:"topics"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	conf, err := lenientFloat(raw.Confidence)
	if err != nil {
		return fmt.Errorf("confidence: %w", err)
	}

	*s = Statement{
		ID:         lenientString(raw.ID),
		UUID:       raw.UUID,
		Subject:    lenientString(raw.Subject),
		Predicate:  lenientString(raw.Predicate),
		Object:     lenientString(raw.Object),
		Context:    lenientString(raw.Context),
		Confidence: conf,
		Source:     lenientString(raw.Source),
		Topics:     decodeTopics(raw.Topics),
	}
	return nil
}

// decodeTopics accepts a list of assignments or a single string or object.
// Elements of any other shape become Absent; a scalar or malformed value
// yields no topics. The statement itself is never rejected over its topics.
func decodeTopics(raw json.RawMessage) []TopicAssignment {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		out := make([]TopicAssignment, 0, len(items))
		for _, item := range items {
			out = append(out, decodeAssignment(item))
		}
		return out
	case '"', '{':
		return []TopicAssignment{decodeAssignment(raw)}
	}
	return nil
}

func decodeAssignment(raw json.RawMessage) TopicAssignment {
	var a TopicAssignment
	if err := json.Unmarshal(raw, &a); err != nil {
		return TopicAssignment{Kind: AssignmentAbsent}
	}
	return a
}

// lenientString renders strings, numbers and booleans as text; anything else is empty
func lenientString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func lenientFloat(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, err
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, nil
	}
	return strconv.ParseFloat(str, 64)
}
