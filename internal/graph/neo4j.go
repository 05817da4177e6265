package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Neo4jStore keeps the graph in Neo4j
type Neo4jStore struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

// NewNeo4jStore connects to Neo4j, verifies connectivity and ensures the
// uniqueness constraints exist.
func NewNeo4jStore(ctx context.Context, cfg model.GraphConfig, log *logger.Logger) (*Neo4jStore, error) {
	if log == nil {
		log = logger.Nop()
	}

	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, fmt.Errorf("neo4j: uri required")
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = "neo4j"
	}
	maxPool := cfg.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	auth := neo4j.BasicAuth(user, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = maxPool
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	s := &Neo4jStore{
		Driver:   driver,
		Database: strings.TrimSpace(cfg.Database),
		log:      log.With("store", "neo4j"),
	}
	s.ensureSchema(ctx)
	return s, nil
}

// ensureSchema creates the constraints, best effort
func (s *Neo4jStore) ensureSchema(ctx context.Context) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT topic_label_unique IF NOT EXISTS FOR (t:Topic) REQUIRE t.label IS UNIQUE`,
		`CREATE CONSTRAINT topic_uuid_unique IF NOT EXISTS FOR (t:Topic) REQUIRE t.uuid IS UNIQUE`,
		`CREATE CONSTRAINT statement_uuid_unique IF NOT EXISTS FOR (s:Statement) REQUIRE s.uuid IS UNIQUE`,
	}
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.Database,
	})
}

// Update runs fn inside a managed write transaction
func (s *Neo4jStore) Update(ctx context.Context, fn func(Tx) error) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return mapNeo4jError(err)
}

// View runs fn inside a managed read transaction
func (s *Neo4jStore) View(ctx context.Context, fn func(Tx) error) error {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return mapNeo4jError(err)
}

// Ping verifies connectivity
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.Driver.VerifyConnectivity(ctx)
}

// Close closes the driver
func (s *Neo4jStore) Close(ctx context.Context) error {
	if s == nil || s.Driver == nil {
		return nil
	}
	err := s.Driver.Close(ctx)
	s.Driver = nil
	return err
}

func mapNeo4jError(err error) error {
	if err == nil {
		return nil
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Code == constraintViolation && !errors.Is(err, ErrTopicExists) {
		return fmt.Errorf("%w: %w", ErrTopicExists, err)
	}
	return err
}

type neo4jTx struct {
	tx neo4j.ManagedTransaction
}

const topicReturn = `t.uuid AS uuid, t.label AS label, t.description AS description, t.created_at AS created_at`

const statementReturn = `s.uuid AS uuid, s.id AS id, s.subject AS subject, s.predicate AS predicate,
       s.object AS object, s.context AS context, s.confidence AS confidence, s.source AS source`

func (t *neo4jTx) collect(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (t *neo4jTx) exec(ctx context.Context, query string, params map[string]any) error {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func (t *neo4jTx) oneTopic(ctx context.Context, query string, params map[string]any, what string) (*model.Topic, error) {
	records, err := t.collect(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("topic %s: %w", what, ErrNotFound)
	}
	topic := topicFromRecord(records[0])
	return &topic, nil
}

func (t *neo4jTx) TopicByLabel(ctx context.Context, label string) (*model.Topic, error) {
	return t.oneTopic(ctx, `MATCH (t:Topic {label: $label}) RETURN `+topicReturn+` LIMIT 1`,
		map[string]any{"label": label}, fmt.Sprintf("%q", label))
}

func (t *neo4jTx) TopicByUUID(ctx context.Context, id string) (*model.Topic, error) {
	return t.oneTopic(ctx, `MATCH (t:Topic {uuid: $uuid}) RETURN `+topicReturn+` LIMIT 1`,
		map[string]any{"uuid": id}, id)
}

func (t *neo4jTx) CreateTopic(ctx context.Context, label, description string) (*model.Topic, error) {
	now := time.Now().UTC()
	records, err := t.collect(ctx, `
CREATE (t:Topic {uuid: $uuid, label: $label, description: $description, created_at: $created_at})
RETURN `+topicReturn, map[string]any{
		"uuid":        uuid.NewString(),
		"label":       label,
		"description": description,
		"created_at":  now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, mapNeo4jError(err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("create topic %q: no record returned", label)
	}
	topic := topicFromRecord(records[0])
	return &topic, nil
}

func (t *neo4jTx) ListTopics(ctx context.Context) ([]model.Topic, error) {
	records, err := t.collect(ctx, `MATCH (t:Topic) RETURN `+topicReturn+` ORDER BY t.created_at, t.label`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Topic, 0, len(records))
	for _, r := range records {
		out = append(out, topicFromRecord(r))
	}
	return out, nil
}

func (t *neo4jTx) Children(ctx context.Context, parentUUID string) ([]model.Topic, error) {
	records, err := t.collect(ctx, `
MATCH (:Topic {uuid: $uuid})-[:HAS_CHILD]->(t:Topic)
RETURN `+topicReturn+` ORDER BY t.created_at`, map[string]any{"uuid": parentUUID})
	if err != nil {
		return nil, err
	}
	out := make([]model.Topic, 0, len(records))
	for _, r := range records {
		out = append(out, topicFromRecord(r))
	}
	return out, nil
}

func (t *neo4jTx) LinkChild(ctx context.Context, parentUUID, childUUID string) error {
	records, err := t.collect(ctx, `
MATCH (p:Topic {uuid: $parent})
MATCH (c:Topic {uuid: $child})
MERGE (p)-[:HAS_CHILD]->(c)
RETURN p.uuid AS uuid`, map[string]any{"parent": parentUUID, "child": childUUID})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("link child %s -> %s: %w", parentUUID, childUUID, ErrNotFound)
	}
	return nil
}

func (t *neo4jTx) CreateStatement(ctx context.Context, s model.Statement) (model.Statement, error) {
	s.UUID = uuid.NewString()
	err := t.exec(ctx, `
CREATE (s:Statement {
  uuid: $uuid, id: $id, label: $label,
  subject: $subject, predicate: $predicate, object: $object, context: $context,
  confidence: $confidence, source: $source, created_at: $created_at
})`, map[string]any{
		"uuid":       s.UUID,
		"id":         s.ID,
		"label":      s.Label(),
		"subject":    s.Subject,
		"predicate":  s.Predicate,
		"object":     s.Object,
		"context":    s.Context,
		"confidence": s.Confidence,
		"source":     s.Source,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return model.Statement{}, err
	}
	s.Topics = nil
	s.Embedding = nil
	return s, nil
}

func (t *neo4jTx) LinkStatement(ctx context.Context, topicUUID, statementUUID string) error {
	// Both ends are matched on their own so the planner never builds a cartesian product
	records, err := t.collect(ctx, `
MATCH (t:Topic {uuid: $topic})
MATCH (s:Statement {uuid: $statement})
MERGE (t)-[:HAS_STATEMENT]->(s)
RETURN t.uuid AS uuid`, map[string]any{"topic": topicUUID, "statement": statementUUID})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("link statement %s -> %s: %w", topicUUID, statementUUID, ErrNotFound)
	}
	return nil
}

func (t *neo4jTx) StatementsForTopic(ctx context.Context, topicUUID string) ([]model.Statement, error) {
	if _, err := t.TopicByUUID(ctx, topicUUID); err != nil {
		return nil, err
	}
	records, err := t.collect(ctx, `
MATCH (:Topic {uuid: $uuid})-[:HAS_STATEMENT]->(s:Statement)
RETURN `+statementReturn+` ORDER BY s.created_at`, map[string]any{"uuid": topicUUID})
	if err != nil {
		return nil, err
	}
	out := make([]model.Statement, 0, len(records))
	for _, r := range records {
		out = append(out, statementFromRecord(r))
	}
	return out, nil
}

func (t *neo4jTx) SetEmbedding(ctx context.Context, statementUUID string, vector []float32) error {
	values := make([]float64, len(vector))
	for i, v := range vector {
		values[i] = float64(v)
	}
	records, err := t.collect(ctx, `
MATCH (s:Statement {uuid: $uuid})
SET s.embedding = $embedding
RETURN s.uuid AS uuid`, map[string]any{"uuid": statementUUID, "embedding": values})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("statement %s: %w", statementUUID, ErrNotFound)
	}
	return nil
}

func topicFromRecord(r *neo4j.Record) model.Topic {
	topic := model.Topic{
		UUID:        stringFromRecord(r, "uuid"),
		Label:       stringFromRecord(r, "label"),
		Description: stringFromRecord(r, "description"),
	}
	if ts := stringFromRecord(r, "created_at"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			topic.CreatedAt = parsed
		}
	}
	return topic
}

func statementFromRecord(r *neo4j.Record) model.Statement {
	s := model.Statement{
		UUID:      stringFromRecord(r, "uuid"),
		ID:        stringFromRecord(r, "id"),
		Subject:   stringFromRecord(r, "subject"),
		Predicate: stringFromRecord(r, "predicate"),
		Object:    stringFromRecord(r, "object"),
		Context:   stringFromRecord(r, "context"),
		Source:    stringFromRecord(r, "source"),
	}
	if v, ok := r.Get("confidence"); ok {
		if f, ok := v.(float64); ok {
			s.Confidence = f
		}
	}
	return s
}

func stringFromRecord(r *neo4j.Record, key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
