package match

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/stmtgraph/internal/model"
)

// OpenEndedCatalog replaces the topic catalog when no topics exist yet
const OpenEndedCatalog = "No pre-defined topics available. Please create appropriate topics based on the statement content."

// MatchUserMessage is the fixed instruction sent with every matching batch
const MatchUserMessage = "Please analyze these statements and match them with topics."

const matchRules = `You are an expert in semantic analysis. Match each statement below with its most relevant topics and tags.

Rules:
1. Assign at most 2 topics to each statement.
2. Assign at most 4 tags to each topic.
3. Judge relevance by semantic similarity.
4. Take context and subject matter into account.
5. Prefer direct, meaningful connections between statements and topics.
`

const matchFormat = `
Return the statements with their matched topics as JSON in exactly this shape:
{
  "statements": [
    {
      "id": "original id",
      "subject": "original subject",
      "predicate": "original predicate",
      "object": "original object",
      "context": "original context",
      "confidence": 0.9,
      "source": "original source",
      "topics": [
        {"name": "topic label", "tags": ["at most 4 tags"]}
      ]
    }
  ]
}
Keep every original statement field unchanged and add only "topics" (at most 2 per statement).
`

// FormatCatalog renders the catalog one topic per line, or the open-ended
// instruction when it is empty.
func FormatCatalog(topics []model.CatalogEntry) string {
	if len(topics) == 0 {
		return OpenEndedCatalog
	}
	lines := make([]string, 0, len(topics))
	for _, t := range topics {
		label := t.Label
		if label == "" {
			label = "Unnamed"
		}
		id := t.ID
		if id == "" {
			id = "none"
		}
		lines = append(lines, fmt.Sprintf("Topic: %s (ID: %s)", label, id))
	}
	return strings.Join(lines, "\n")
}

// BuildMatchPrompt renders the system prompt of one matching batch
func BuildMatchPrompt(batch []model.Statement, catalog, intent string) (string, error) {
	payload, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}

	var b strings.Builder
	b.WriteString(matchRules)
	b.WriteString("\nStatements:\n")
	b.Write(payload)
	b.WriteString("\n\nAvailable Topics and Tags:\n")
	b.WriteString(catalog)
	b.WriteString("\n")
	b.WriteString(matchFormat)
	if intent = strings.TrimSpace(intent); intent != "" {
		b.WriteString("\nIMPORTANT INTENT GUIDANCE: ")
		b.WriteString(intent)
		b.WriteString("\n\nPrioritize this intent when matching. The matched topics should directly serve it.\n")
	}
	return b.String(), nil
}
