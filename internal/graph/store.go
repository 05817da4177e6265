// Package graph persists topics, statements and their edges.
//
// Topics carry a unique label. HAS_CHILD edges link a topic to its subtopics
// and HAS_STATEMENT edges link a topic to the statements filed under it.
// Both edge kinds are upserts, so at most one edge exists per node pair.
//
// Because labels are unique, a subtopic reached through two paths is a single
// node: resolving "A/X" and then "B/X" links X under both A and B. The
// HAS_CHILD structure is therefore a DAG, not strictly a forest. LinkChild
// never rejects a second parent.
package graph

import (
	"context"
	"errors"

	"github.com/ppiankov/stmtgraph/internal/model"
)

var (
	// ErrNotFound is returned when a node lookup has no match
	ErrNotFound = errors.New("not found")

	// ErrTopicExists is returned when a topic label is already taken
	ErrTopicExists = errors.New("topic label already exists")
)

// Tx is the set of graph operations available inside a transaction
type Tx interface {
	TopicByLabel(ctx context.Context, label string) (*model.Topic, error)
	TopicByUUID(ctx context.Context, uuid string) (*model.Topic, error)
	CreateTopic(ctx context.Context, label, description string) (*model.Topic, error)
	ListTopics(ctx context.Context) ([]model.Topic, error)

	// Children returns the direct HAS_CHILD targets of a topic
	Children(ctx context.Context, parentUUID string) ([]model.Topic, error)
	LinkChild(ctx context.Context, parentUUID, childUUID string) error

	// CreateStatement stores a statement node and returns it with its UUID set
	CreateStatement(ctx context.Context, s model.Statement) (model.Statement, error)
	LinkStatement(ctx context.Context, topicUUID, statementUUID string) error
	StatementsForTopic(ctx context.Context, topicUUID string) ([]model.Statement, error)
	SetEmbedding(ctx context.Context, statementUUID string, vector []float32) error
}

// Store runs functions inside read or write transactions. A function that
// returns an error from Update leaves no writes behind.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
