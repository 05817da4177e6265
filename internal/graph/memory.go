package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/stmtgraph/internal/model"
)

// MemoryStore is an in-process graph. Update calls are serialised and rolled
// back on error.
type MemoryStore struct {
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	topics     map[string]model.Topic     // uuid -> topic
	labels     map[string]string          // label -> uuid
	children   map[string][]string        // parent uuid -> child uuids, insertion order
	statements map[string]model.Statement // uuid -> statement
	topicStmts map[string][]string        // topic uuid -> statement uuids, insertion order
	topicOrder []string                   // topic uuids, creation order
	embeddings map[string][]float32
}

// NewMemoryStore creates an empty in-memory graph
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func newMemoryData() memoryData {
	return memoryData{
		topics:     make(map[string]model.Topic),
		labels:     make(map[string]string),
		children:   make(map[string][]string),
		statements: make(map[string]model.Statement),
		topicStmts: make(map[string][]string),
		embeddings: make(map[string][]float32),
	}
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		topics:     maps.Clone(d.topics),
		labels:     maps.Clone(d.labels),
		children:   make(map[string][]string, len(d.children)),
		statements: maps.Clone(d.statements),
		topicStmts: make(map[string][]string, len(d.topicStmts)),
		topicOrder: slices.Clone(d.topicOrder),
		embeddings: maps.Clone(d.embeddings),
	}
	for k, v := range d.children {
		c.children[k] = slices.Clone(v)
	}
	for k, v := range d.topicStmts {
		c.topicStmts[k] = slices.Clone(v)
	}
	return c
}

// Update runs fn with write access. Changes are discarded if fn fails.
func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.data.clone()
	if err := fn(&memoryTx{data: &s.data, writable: true}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// View runs fn with read access
func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memoryTx{data: &s.data})
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// TopicCount returns the number of topics
func (s *MemoryStore) TopicCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.topics)
}

// StatementCount returns the number of statements
func (s *MemoryStore) StatementCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.statements)
}

// Embedding returns the stored vector of a statement
func (s *MemoryStore) Embedding(statementUUID string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data.embeddings[statementUUID]
	return v, ok
}

type memoryTx struct {
	data     *memoryData
	writable bool
}

func (tx *memoryTx) checkWritable() error {
	if !tx.writable {
		return fmt.Errorf("write in read-only transaction")
	}
	return nil
}

func (tx *memoryTx) TopicByLabel(ctx context.Context, label string) (*model.Topic, error) {
	id, ok := tx.data.labels[label]
	if !ok {
		return nil, fmt.Errorf("topic %q: %w", label, ErrNotFound)
	}
	t := tx.data.topics[id]
	return &t, nil
}

func (tx *memoryTx) TopicByUUID(ctx context.Context, id string) (*model.Topic, error) {
	t, ok := tx.data.topics[id]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return &t, nil
}

func (tx *memoryTx) CreateTopic(ctx context.Context, label, description string) (*model.Topic, error) {
	if err := tx.checkWritable(); err != nil {
		return nil, err
	}
	if _, exists := tx.data.labels[label]; exists {
		return nil, fmt.Errorf("topic %q: %w", label, ErrTopicExists)
	}

	t := model.Topic{
		UUID:        uuid.NewString(),
		Label:       label,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	tx.data.topics[t.UUID] = t
	tx.data.labels[label] = t.UUID
	tx.data.topicOrder = append(tx.data.topicOrder, t.UUID)
	return &t, nil
}

func (tx *memoryTx) ListTopics(ctx context.Context) ([]model.Topic, error) {
	out := make([]model.Topic, 0, len(tx.data.topicOrder))
	for _, id := range tx.data.topicOrder {
		out = append(out, tx.data.topics[id])
	}
	return out, nil
}

func (tx *memoryTx) Children(ctx context.Context, parentUUID string) ([]model.Topic, error) {
	ids := tx.data.children[parentUUID]
	out := make([]model.Topic, 0, len(ids))
	for _, id := range ids {
		out = append(out, tx.data.topics[id])
	}
	return out, nil
}

func (tx *memoryTx) LinkChild(ctx context.Context, parentUUID, childUUID string) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if _, ok := tx.data.topics[parentUUID]; !ok {
		return fmt.Errorf("parent topic %s: %w", parentUUID, ErrNotFound)
	}
	if _, ok := tx.data.topics[childUUID]; !ok {
		return fmt.Errorf("child topic %s: %w", childUUID, ErrNotFound)
	}
	if slices.Contains(tx.data.children[parentUUID], childUUID) {
		return nil
	}
	tx.data.children[parentUUID] = append(tx.data.children[parentUUID], childUUID)
	return nil
}

func (tx *memoryTx) CreateStatement(ctx context.Context, s model.Statement) (model.Statement, error) {
	if err := tx.checkWritable(); err != nil {
		return model.Statement{}, err
	}
	s.UUID = uuid.NewString()
	s.Topics = nil
	s.Embedding = nil
	tx.data.statements[s.UUID] = s
	return s, nil
}

func (tx *memoryTx) LinkStatement(ctx context.Context, topicUUID, statementUUID string) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if _, ok := tx.data.topics[topicUUID]; !ok {
		return fmt.Errorf("topic %s: %w", topicUUID, ErrNotFound)
	}
	if _, ok := tx.data.statements[statementUUID]; !ok {
		return fmt.Errorf("statement %s: %w", statementUUID, ErrNotFound)
	}
	if slices.Contains(tx.data.topicStmts[topicUUID], statementUUID) {
		return nil
	}
	tx.data.topicStmts[topicUUID] = append(tx.data.topicStmts[topicUUID], statementUUID)
	return nil
}

func (tx *memoryTx) StatementsForTopic(ctx context.Context, topicUUID string) ([]model.Statement, error) {
	if _, ok := tx.data.topics[topicUUID]; !ok {
		return nil, fmt.Errorf("topic %s: %w", topicUUID, ErrNotFound)
	}
	ids := tx.data.topicStmts[topicUUID]
	out := make([]model.Statement, 0, len(ids))
	for _, id := range ids {
		out = append(out, tx.data.statements[id])
	}
	return out, nil
}

func (tx *memoryTx) SetEmbedding(ctx context.Context, statementUUID string, vector []float32) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if _, ok := tx.data.statements[statementUUID]; !ok {
		return fmt.Errorf("statement %s: %w", statementUUID, ErrNotFound)
	}
	tx.data.embeddings[statementUUID] = slices.Clone(vector)
	return nil
}
