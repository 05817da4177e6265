package model

import "errors"

// Error taxonomy of the ingestion core. Wrap with fmt.Errorf("%w: %w", ...)
// and test with errors.Is.
var (
	// ErrLLMCallFailed is a transport error or timeout talking to the LLM backend
	ErrLLMCallFailed = errors.New("llm call failed")

	// ErrResponseUnparseable means every parse strategy failed.
	// The response extractor falls back instead of returning it.
	ErrResponseUnparseable = errors.New("llm response unparseable")

	// ErrPersistence is a write rejected by the graph store
	ErrPersistence = errors.New("persistence error")

	// ErrTopicNotResolved means a topic (or one of its path segments) could not be created
	ErrTopicNotResolved = errors.New("topic not resolved")
)
