package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// HierarchySeparator splits a hierarchical topic label into path segments
const HierarchySeparator = "/"

// Topic is a persisted taxonomy node
type Topic struct {
	UUID        string    `json:"uuid"`
	Label       string    `json:"label"` // Unique natural key
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// CatalogEntry returns the prompt-facing view of the topic
func (t Topic) CatalogEntry() CatalogEntry {
	return CatalogEntry{ID: t.UUID, Label: t.Label}
}

// CatalogEntry is a topic as presented to the matcher prompt
type CatalogEntry struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// IsHierarchical reports whether the label describes a path of topics
func IsHierarchical(label string) bool {
	return strings.Contains(label, HierarchySeparator)
}

// SplitHierarchy splits a label into its segments. Empty segments are kept
// as literal empty labels.
func SplitHierarchy(label string) []string {
	return strings.Split(label, HierarchySeparator)
}

// AssignmentKind discriminates the shapes a topic assignment arrives in
type AssignmentKind int

const (
	AssignmentAbsent    AssignmentKind = iota // null or unrecognised payload
	AssignmentNamed                           // {"name": ..., "tags": [...]}
	AssignmentLegacyRef                       // bare string, a topic uuid in older payloads
)

// String returns the kind name
func (k AssignmentKind) String() string {
	switch k {
	case AssignmentNamed:
		return "named"
	case AssignmentLegacyRef:
		return "legacy_ref"
	default:
		return "absent"
	}
}

// TopicAssignment is an LLM-produced association between a statement and a topic.
// It only lives on in-flight statements and becomes graph edges on persistence.
type TopicAssignment struct {
	Kind AssignmentKind
	Name string   // Named: topic label, possibly hierarchical
	Tags []string // Named: up to 4 tags (prompt-enforced)
	Ref  string   // LegacyRef: referenced topic uuid
}

// NamedTopic builds a named assignment
func NamedTopic(name string, tags []string) TopicAssignment {
	return TopicAssignment{Kind: AssignmentNamed, Name: name, Tags: tags}
}

// LegacyTopicRef builds a legacy string reference
func LegacyTopicRef(ref string) TopicAssignment {
	return TopicAssignment{Kind: AssignmentLegacyRef, Ref: ref}
}

// UnmarshalJSON resolves the assignment shape once at the decoding boundary
func (a *TopicAssignment) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*a = TopicAssignment{Kind: AssignmentAbsent}

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var ref string
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		if strings.TrimSpace(ref) != "" {
			*a = LegacyTopicRef(ref)
		}
	case '{':
		var named struct {
			Name *string         `json:"name"`
			Tags json.RawMessage `json:"tags"`
		}
		if err := json.Unmarshal(data, &named); err != nil {
			return err
		}
		if named.Name != nil {
			*a = NamedTopic(*named.Name, decodeTags(named.Tags))
		}
	}
	return nil
}

// MarshalJSON writes named assignments as objects and legacy refs as strings
func (a TopicAssignment) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AssignmentNamed:
		tags := a.Tags
		if tags == nil {
			tags = []string{}
		}
		return json.Marshal(struct {
			Name string   `json:"name"`
			Tags []string `json:"tags"`
		}{a.Name, tags})
	case AssignmentLegacyRef:
		return json.Marshal(a.Ref)
	default:
		return []byte("null"), nil
	}
}

// decodeTags accepts a list of strings; anything else yields no tags
func decodeTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	tags := make([]string, 0, len(items))
	for _, item := range items {
		if s := lenientString(item); s != "" {
			tags = append(tags, s)
		}
	}
	return tags
}
