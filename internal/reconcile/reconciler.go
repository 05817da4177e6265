// Package reconcile persists matched statements and resolves their topic
// assignments against the topic graph, creating topics and hierarchy paths on
// first reference.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/stmtgraph/internal/cache"
	"github.com/ppiankov/stmtgraph/internal/graph"
	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
)

// DefaultTopicTTL is how long a label to uuid lookup stays cached
const DefaultTopicTTL = 10 * time.Minute

// StatementFailure is a statement that could not be stored
type StatementFailure struct {
	StatementID string
	Err         error
}

// LinkFailure is a topic assignment that could not be linked
type LinkFailure struct {
	StatementID string
	Topic       string
	Err         error
}

// Report summarises a ReconcileAndPersist call
type Report struct {
	Persisted        int
	Links            int
	FailedStatements []StatementFailure
	FailedLinks      []LinkFailure
}

// Warnings renders the failures as human readable lines
func (r Report) Warnings() []string {
	out := make([]string, 0, len(r.FailedStatements)+len(r.FailedLinks))
	for _, f := range r.FailedStatements {
		out = append(out, fmt.Sprintf("statement %s not persisted: %v", f.StatementID, f.Err))
	}
	for _, f := range r.FailedLinks {
		out = append(out, fmt.Sprintf("statement %s not linked to topic %q: %v", f.StatementID, f.Topic, f.Err))
	}
	return out
}

// Reconciler turns topic assignments into graph topics and edges
type Reconciler struct {
	store    graph.Store
	log      *logger.Logger
	topics   cache.Cache
	topicTTL time.Duration
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithTopicCache replaces the default in-memory label cache
func WithTopicCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Reconciler) {
		r.topics = c
		r.topicTTL = ttl
	}
}

// New creates a reconciler over store
func New(store graph.Store, log *logger.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	r := &Reconciler{
		store:    store,
		log:      log,
		topicTTL: DefaultTopicTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.topics == nil {
		r.topics = cache.NewMemoryCache(r.topicTTL, 2*r.topicTTL)
	}
	return r
}

// ResolveOrCreate returns the topic with label, creating it when absent.
// A label containing "/" is resolved as a path of HAS_CHILD edges and the
// leaf topic is returned.
func (r *Reconciler) ResolveOrCreate(ctx context.Context, label string) (*model.Topic, error) {
	return r.EnsureTopic(ctx, label, "")
}

// EnsureTopic is ResolveOrCreate that stores description on a newly created
// topic (the leaf, for a path). Existing topics keep their description.
func (r *Reconciler) EnsureTopic(ctx context.Context, label, description string) (*model.Topic, error) {
	hierarchical := model.IsHierarchical(label)
	if !hierarchical {
		if t, ok := r.cachedTopic(ctx, label); ok {
			return t, nil
		}
	}

	var topic *model.Topic
	resolve := func() error {
		return r.store.Update(ctx, func(tx graph.Tx) error {
			t, err := resolveInTx(ctx, tx, label, description)
			if err != nil {
				return err
			}
			topic = t
			return nil
		})
	}

	err := resolve()
	if errors.Is(err, graph.ErrTopicExists) {
		// Another writer created one of the labels first; its node is visible now.
		r.log.Warn("topic created concurrently, resolving again", "label", label)
		err = resolve()
	}
	if err != nil {
		r.log.Error("failed to resolve topic", "label", label, "error", err)
		return nil, fmt.Errorf("%w: %q: %w", model.ErrTopicNotResolved, label, err)
	}

	if !hierarchical {
		_ = r.topics.Set(cache.TopicKey(label), []byte(topic.UUID), r.topicTTL)
	}
	return topic, nil
}

func (r *Reconciler) cachedTopic(ctx context.Context, label string) (*model.Topic, bool) {
	key := cache.TopicKey(label)
	id, ok := r.topics.Get(key)
	if !ok {
		return nil, false
	}

	var topic *model.Topic
	err := r.store.View(ctx, func(tx graph.Tx) error {
		t, err := tx.TopicByUUID(ctx, string(id))
		topic = t
		return err
	})
	if err != nil || topic.Label != label {
		_ = r.topics.Delete(key)
		return nil, false
	}
	return topic, true
}

// resolveInTx walks or builds the topic path of label inside one transaction
func resolveInTx(ctx context.Context, tx graph.Tx, label, description string) (*model.Topic, error) {
	if !model.IsHierarchical(label) {
		return findOrCreate(ctx, tx, label, description)
	}

	segments := model.SplitHierarchy(label)
	leafDescription := func(i int) string {
		if i == len(segments)-1 {
			return description
		}
		return ""
	}

	current, err := findOrCreate(ctx, tx, segments[0], leafDescription(0))
	if err != nil {
		return nil, fmt.Errorf("root segment %q: %w", segments[0], err)
	}

	for i := 1; i < len(segments); i++ {
		segment := segments[i]
		children, err := tx.Children(ctx, current.UUID)
		if err != nil {
			return nil, fmt.Errorf("children of %q: %w", current.Label, err)
		}

		var next *model.Topic
		for j := range children {
			if children[j].Label == segment {
				next = &children[j]
				break
			}
		}

		if next == nil {
			// Labels are unique, so a segment named like an existing topic
			// elsewhere in the graph is linked rather than duplicated.
			next, err = findOrCreate(ctx, tx, segment, leafDescription(i))
			if err != nil {
				return nil, fmt.Errorf("segment %q: %w", segment, err)
			}
			if next.UUID != current.UUID {
				if err := tx.LinkChild(ctx, current.UUID, next.UUID); err != nil {
					return nil, fmt.Errorf("link %q to %q: %w", segment, current.Label, err)
				}
			}
		}
		current = next
	}
	return current, nil
}

func findOrCreate(ctx context.Context, tx graph.Tx, label, description string) (*model.Topic, error) {
	t, err := tx.TopicByLabel(ctx, label)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, graph.ErrNotFound) {
		return nil, err
	}
	return tx.CreateTopic(ctx, label, description)
}

// LinkStatementToTopics files a persisted statement under each assigned
// topic and returns the number of edges made. A statement without assigned
// topics falls back to a topic named after its subject. Failed links are
// logged and skipped.
func (r *Reconciler) LinkStatementToTopics(ctx context.Context, stmt model.Statement, assignments []model.TopicAssignment) int {
	linked, _ := r.linkTopics(ctx, stmt, assignments)
	return linked
}

func (r *Reconciler) linkTopics(ctx context.Context, stmt model.Statement, assignments []model.TopicAssignment) (int, []LinkFailure) {
	assignments = withFallback(stmt, assignments)
	log := r.log.With("statement_id", stmt.ID)

	var failures []LinkFailure
	linked := 0
	for _, a := range assignments {
		var (
			topic *model.Topic
			name  string
			err   error
		)
		switch a.Kind {
		case model.AssignmentNamed:
			name = a.Name
			topic, err = r.ResolveOrCreate(ctx, a.Name)
		case model.AssignmentLegacyRef:
			name = a.Ref
			topic, err = r.topicByUUID(ctx, a.Ref)
		default:
			continue
		}

		if err == nil {
			err = r.store.Update(ctx, func(tx graph.Tx) error {
				return tx.LinkStatement(ctx, topic.UUID, stmt.UUID)
			})
			if err != nil {
				err = fmt.Errorf("%w: link statement: %w", model.ErrPersistence, err)
			}
		}
		if err != nil {
			log.Warn("failed to link statement to topic, skipping", "label", name, "error", err)
			failures = append(failures, LinkFailure{StatementID: stmt.ID, Topic: name, Err: err})
			continue
		}
		linked++
	}
	return linked, failures
}

func (r *Reconciler) topicByUUID(ctx context.Context, id string) (*model.Topic, error) {
	var topic *model.Topic
	err := r.store.View(ctx, func(tx graph.Tx) error {
		t, err := tx.TopicByUUID(ctx, id)
		topic = t
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrTopicNotResolved, err)
	}
	return topic, nil
}

// withFallback applies the subject fallback when no assignment names a topic.
// The matcher applies the same rule, so running it twice is harmless.
func withFallback(stmt model.Statement, assignments []model.TopicAssignment) []model.TopicAssignment {
	probe := model.Statement{Subject: stmt.Subject, Topics: assignments}
	if probe.HasNamedTopics() {
		return assignments
	}
	if fallback, ok := probe.SubjectFallback(); ok {
		return []model.TopicAssignment{fallback}
	}
	return nil
}

// ReconcileAndPersist stores every statement with its topic edges. A statement
// whose node cannot be written is logged and left out of the result; the
// rest are returned in input order with their graph UUIDs set.
func (r *Reconciler) ReconcileAndPersist(ctx context.Context, statements []model.Statement) ([]model.Statement, Report) {
	var report Report
	persisted := make([]model.Statement, 0, len(statements))

	for _, s := range statements {
		assignments := withFallback(s, s.Topics)

		var stored model.Statement
		err := r.store.Update(ctx, func(tx graph.Tx) error {
			var err error
			stored, err = tx.CreateStatement(ctx, s)
			return err
		})
		if err != nil {
			err = fmt.Errorf("%w: create statement: %w", model.ErrPersistence, err)
			r.log.Error("failed to persist statement, skipping", "statement_id", s.ID, "stage", "persist", "error", err)
			report.FailedStatements = append(report.FailedStatements, StatementFailure{StatementID: s.ID, Err: err})
			continue
		}

		stored.Topics = assignments
		stored.Embedding = s.Embedding
		linked, failures := r.linkTopics(ctx, stored, assignments)
		report.Links += linked
		report.FailedLinks = append(report.FailedLinks, failures...)

		persisted = append(persisted, stored)
	}

	report.Persisted = len(persisted)
	r.log.Info("persisted statements",
		"persisted", report.Persisted,
		"links", report.Links,
		"failed_statements", len(report.FailedStatements),
		"failed_links", len(report.FailedLinks))
	return persisted, report
}

// Catalog lists every topic as a matcher catalog entry
func (r *Reconciler) Catalog(ctx context.Context) ([]model.CatalogEntry, error) {
	var topics []model.Topic
	err := r.store.View(ctx, func(tx graph.Tx) error {
		var err error
		topics, err = tx.ListTopics(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	catalog := make([]model.CatalogEntry, 0, len(topics))
	for _, t := range topics {
		catalog = append(catalog, t.CatalogEntry())
	}
	return catalog, nil
}
