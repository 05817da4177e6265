package match

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/ppiankov/stmtgraph/internal/extract"
	"github.com/ppiankov/stmtgraph/internal/llm"
	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
)

// DefaultGenerateMaxTokens is the token budget of topic generation
const DefaultGenerateMaxTokens = 4000

const generateUserPrefix = "Generate topics for these statements:\n\n"

const generateSystemPrompt = `You design taxonomies. Read the statements and propose a small, coherent set of distinctive topics that categorize them.
`

const generateInstructions = `
How to build the topics:

1. Look for terms that recur inside clusters of related statements but rarely
   across all of them. Named entities matter most.
2. Organize topics into broad categories and more specific subcategories, each
   with clear boundaries.
3. Avoid catch-all labels such as "General Information" or "Miscellaneous".
   Phrase labels the way a user would search for them.
4. For every topic, be able to say what separates it from the others. Refine or
   drop topics you cannot separate.

Respond with JSON only, in exactly this shape:
{
  "topics": [
    {
      "id": "topic_1",
      "label": "Specific Topic Name",
      "distinctive_terms": ["term1", "term2"],
      "description": "One or two sentences on what distinguishes this topic"
    }
  ]
}
Labels are 1 to 3 words.
`

// GeneratedTopic is a topic proposed by the model for an empty catalog
type GeneratedTopic struct {
	ID          string
	Label       string
	Description string
	Tags        []string
}

type rawGeneratedTopic struct {
	ID               json.RawMessage `json:"id"`
	Label            string          `json:"label"`
	DistinctiveTerms []string        `json:"distinctive_terms"`
	Description      string          `json:"description"`
}

// Generator proposes topics from statements when no topic exists yet
type Generator struct {
	llm       llm.Completer
	parser    *extract.ResponseExtractor
	log       *logger.Logger
	maxTokens int
}

// NewGenerator creates a topic generator. maxTokens <= 0 uses DefaultGenerateMaxTokens.
func NewGenerator(completer llm.Completer, log *logger.Logger, maxTokens int) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	if maxTokens <= 0 {
		maxTokens = DefaultGenerateMaxTokens
	}
	return &Generator{
		llm:       completer,
		parser:    extract.NewResponseExtractor(log),
		log:       log,
		maxTokens: maxTokens,
	}
}

// Generate returns the proposed topics. Any failure yields an empty list.
func (g *Generator) Generate(ctx context.Context, statements []model.Statement, intent string) []GeneratedTopic {
	if len(statements) == 0 {
		g.log.Warn("no statements provided for topic generation")
		return []GeneratedTopic{}
	}
	g.log.Info("generating topics from statements", "statements", len(statements))

	payload, err := json.MarshalIndent(statements, "", "  ")
	if err != nil {
		g.log.Error("failed to serialize statements for topic generation", "stage", "generate", "error", err)
		return []GeneratedTopic{}
	}

	text, err := g.llm.Complete(ctx, llm.Request{
		System:    BuildGeneratePrompt(intent),
		User:      generateUserPrefix + string(payload),
		MaxTokens: g.maxTokens,
		Operation: "generate",
	})
	if err != nil {
		g.log.Error("topic generation failed", "stage", "generate", "error", err)
		return []GeneratedTopic{}
	}

	env := g.parser.Extract(text)
	var raw []rawGeneratedTopic
	if err := env.DecodeField("topics", &raw); err != nil {
		g.log.Warn("no topics in generation response", "stage", "generate", "error", err)
		return []GeneratedTopic{}
	}

	topics := make([]GeneratedTopic, 0, len(raw))
	for _, r := range raw {
		label := strings.TrimSpace(r.Label)
		if label == "" {
			continue
		}
		tags := make([]string, 0, len(r.DistinctiveTerms)+1)
		tags = append(tags, r.DistinctiveTerms...)
		if r.Description != "" && !slices.Contains(tags, r.Description) {
			tags = append(tags, r.Description)
		}
		topics = append(topics, GeneratedTopic{
			ID:          rawID(r.ID),
			Label:       label,
			Description: r.Description,
			Tags:        tags,
		})
	}

	if len(topics) == 0 {
		g.log.Warn("no topics were generated")
	} else {
		g.log.Info("generated topics", "count", len(topics))
	}
	return topics
}

// BuildGeneratePrompt renders the generation system prompt
func BuildGeneratePrompt(intent string) string {
	var b strings.Builder
	b.WriteString(generateSystemPrompt)
	if intent = strings.TrimSpace(intent); intent != "" {
		b.WriteString("\nIMPORTANT INTENT GUIDANCE: ")
		b.WriteString(intent)
		b.WriteString("\n\nPrioritize this intent when creating topics. The topics should directly serve it.\n")
	}
	b.WriteString(generateInstructions)
	return b.String()
}

func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
