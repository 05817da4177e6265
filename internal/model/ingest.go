package model

import "strings"

// Utterance is a single speaker turn of a transcription
type Utterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int     `json:"start"` // Milliseconds
	End        int     `json:"end"`   // Milliseconds
	Confidence float64 `json:"confidence"`
}

// TranscriptMetadata describes where a transcription came from
type TranscriptMetadata struct {
	TranscriptionID int    `json:"transcription_id"`
	AudioFileID     int    `json:"audio_file_id"`
	Language        string `json:"language"`
	Service         string `json:"service"`
	SpeakersCount   int    `json:"speakers_count"`
}

// IngestRequest is the input of a single ingestion run
type IngestRequest struct {
	Text       string             `json:"text" binding:"required"`
	Intent     string             `json:"intent,omitempty"`
	Utterances []Utterance        `json:"utterances,omitempty"`
	Metadata   TranscriptMetadata `json:"metadata"`
}

// TopicTag is a matched topic as reported back to the caller
type TopicTag struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// StatementWithTopics is a persisted statement with its matched topics
type StatementWithTopics struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Subject    string     `json:"subject"`
	Predicate  string     `json:"predicate"`
	Object     string     `json:"object"`
	Context    string     `json:"context"`
	Confidence float64    `json:"confidence,omitempty"`
	Source     string     `json:"source,omitempty"`
	Topics     []TopicTag `json:"topics"`
}

// TopicMatchingResult groups the statements of a response
type TopicMatchingResult struct {
	Statements []StatementWithTopics `json:"statements"`
}

// IngestData carries the bookkeeping part of a response
type IngestData struct {
	OriginalRequestMetadata TranscriptMetadata `json:"original_request_metadata"`
	StatementCount          int                `json:"statement_count"`
	Timestamp               string             `json:"timestamp"`
	Warnings                []string           `json:"warnings,omitempty"`
}

// IngestResponse is the result of an ingestion run
type IngestResponse struct {
	Status       string              `json:"status"`
	Message      string              `json:"message"`
	Data         IngestData          `json:"data"`
	TopicMatches TopicMatchingResult `json:"topic_matches"`
}

// NewStatementWithTopics builds the response view of a persisted statement
func NewStatementWithTopics(s Statement) StatementWithTopics {
	id := s.UUID
	if id == "" {
		id = s.ID
	}

	out := StatementWithTopics{
		ID:         id,
		Label:      s.Label(),
		Subject:    s.Subject,
		Predicate:  s.Predicate,
		Object:     s.Object,
		Context:    s.Context,
		Confidence: s.Confidence,
		Source:     s.Source,
		Topics:     []TopicTag{},
	}

	for _, a := range s.Topics {
		switch a.Kind {
		case AssignmentNamed:
			out.Topics = append(out.Topics, TopicTag{Name: a.Name, Tags: responseTags(a)})
		case AssignmentLegacyRef:
			out.Topics = append(out.Topics, TopicTag{Name: a.Ref, Tags: []string{a.Ref}})
		}
	}
	return out
}

// responseTags limits tags to 4; without tags the words of the name stand in
func responseTags(a TopicAssignment) []string {
	if len(a.Tags) > 0 {
		if len(a.Tags) > 4 {
			return a.Tags[:4]
		}
		return a.Tags
	}
	words := strings.Fields(a.Name)
	if len(words) > 1 {
		if len(words) > 4 {
			words = words[:4]
		}
		return words
	}
	return []string{a.Name}
}
