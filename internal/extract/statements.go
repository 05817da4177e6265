package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/stmtgraph/internal/llm"
	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
)

// DefaultExtractMaxTokens is the token budget of the extraction call
const DefaultExtractMaxTokens = 16000

const extractUserPrefix = "Extract statements from this transcript:\n\n"

const extractSystemPrompt = `You organize knowledge from conversations into precise, searchable statements.

Read the transcript and extract structured subject-predicate-object statements.
`

const extractInstructions = `
How to extract:

1. Find the key entities (people, organizations, products, technologies, methods)
   and the actions that connect them, together with the situation they occur in.
2. Write each finding as a triple: subject, predicate (a verb phrase), object,
   plus optional context that qualifies it.
3. Keep statements specific. Drop anything so generic that nobody searching
   for it would find it useful. Word statements the way a user would search.
4. Each statement must say something the others do not. Merge or discard
   statements you cannot tell apart.

Respond with JSON only, in exactly this shape:
{
  "statements": [
    {
      "subject": "entity performing the action",
      "predicate": "action verb",
      "object": "information or concept",
      "context": "optional qualifying information",
      "confidence": 0.7 to 1.0,
      "source": "original text snippet",
      "id": "unique identifier"
    }
  ]
}
`

// StatementExtractor turns transcript text into candidate statements with a
// single LLM call.
type StatementExtractor struct {
	llm       llm.Completer
	parser    *ResponseExtractor
	log       *logger.Logger
	maxTokens int
}

// NewStatementExtractor creates a statement extractor. maxTokens <= 0 uses DefaultExtractMaxTokens.
func NewStatementExtractor(completer llm.Completer, log *logger.Logger, maxTokens int) *StatementExtractor {
	if log == nil {
		log = logger.Nop()
	}
	if maxTokens <= 0 {
		maxTokens = DefaultExtractMaxTokens
	}
	return &StatementExtractor{
		llm:       completer,
		parser:    NewResponseExtractor(log),
		log:       log,
		maxTokens: maxTokens,
	}
}

// Extract returns the statements found in transcript, in model order, with no
// topics. Gateway failures are returned to the caller.
func (e *StatementExtractor) Extract(ctx context.Context, transcript, intent string) ([]model.Statement, error) {
	text, err := e.llm.Complete(ctx, llm.Request{
		System:    BuildExtractionPrompt(intent),
		User:      extractUserPrefix + transcript,
		MaxTokens: e.maxTokens,
		Operation: "extract",
	})
	if err != nil {
		e.log.Error("statement extraction failed", "stage", "extract", "error", err)
		return nil, fmt.Errorf("extract statements: %w", err)
	}

	env := e.parser.Extract(text)
	if env.Fallback {
		e.log.Warn("extraction response unparseable, placeholder statement returned", "stage", "extract")
	}

	statements, skipped := env.Statements()
	if skipped > 0 {
		e.log.Warn("skipped malformed statements", "stage", "extract", "count", skipped)
	}

	for i := range statements {
		if strings.TrimSpace(statements[i].ID) == "" {
			statements[i].ID = uuid.NewString()
		}
		statements[i].Topics = nil
	}

	e.log.Info("extracted statements", "count", len(statements), "transcript_chars", len(transcript))
	return statements, nil
}

// BuildExtractionPrompt renders the extraction system prompt
func BuildExtractionPrompt(intent string) string {
	var b strings.Builder
	b.WriteString(extractSystemPrompt)
	if intent = strings.TrimSpace(intent); intent != "" {
		b.WriteString("\nIMPORTANT INTENT GUIDANCE: ")
		b.WriteString(intent)
		b.WriteString("\n\nPrioritize this intent when extracting statements. The statements should directly serve it.\n")
	}
	b.WriteString(extractInstructions)
	return b.String()
}
