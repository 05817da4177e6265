package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/stmtgraph/internal/graph"
	"github.com/ppiankov/stmtgraph/internal/model"
)

// flakyStore injects failures into a memory store
type flakyStore struct {
	*graph.MemoryStore
	conflicts      int    // CreateTopic calls to fail with ErrTopicExists
	failLabel      string // CreateTopic of this label always fails
	failStatements map[string]bool
}

func (s *flakyStore) Update(ctx context.Context, fn func(graph.Tx) error) error {
	return s.MemoryStore.Update(ctx, func(tx graph.Tx) error {
		return fn(&flakyTx{Tx: tx, store: s})
	})
}

type flakyTx struct {
	graph.Tx
	store *flakyStore
}

func (tx *flakyTx) CreateTopic(ctx context.Context, label, description string) (*model.Topic, error) {
	if tx.store.conflicts > 0 {
		tx.store.conflicts--
		return nil, graph.ErrTopicExists
	}
	if tx.store.failLabel != "" && label == tx.store.failLabel {
		return nil, errors.New("store unavailable")
	}
	return tx.Tx.CreateTopic(ctx, label, description)
}

func (tx *flakyTx) CreateStatement(ctx context.Context, s model.Statement) (model.Statement, error) {
	if tx.store.failStatements[s.ID] {
		return model.Statement{}, errors.New("constraint violation")
	}
	return tx.Tx.CreateStatement(ctx, s)
}

func children(t *testing.T, store graph.Store, parent string) []model.Topic {
	t.Helper()
	var out []model.Topic
	err := store.View(context.Background(), func(tx graph.Tx) error {
		var err error
		out, err = tx.Children(context.Background(), parent)
		return err
	})
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	return out
}

func topicByLabel(t *testing.T, store graph.Store, label string) *model.Topic {
	t.Helper()
	var out *model.Topic
	err := store.View(context.Background(), func(tx graph.Tx) error {
		var err error
		out, err = tx.TopicByLabel(context.Background(), label)
		return err
	})
	if err != nil {
		t.Fatalf("TopicByLabel(%q) failed: %v", label, err)
	}
	return out
}

func statementsFor(t *testing.T, store graph.Store, topicUUID string) []model.Statement {
	t.Helper()
	var out []model.Statement
	err := store.View(context.Background(), func(tx graph.Tx) error {
		var err error
		out, err = tx.StatementsForTopic(context.Background(), topicUUID)
		return err
	})
	if err != nil {
		t.Fatalf("StatementsForTopic failed: %v", err)
	}
	return out
}

func TestResolveOrCreate_Idempotent(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)
	ctx := context.Background()

	first, err := r.ResolveOrCreate(ctx, "Science")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	second, err := r.ResolveOrCreate(ctx, "Science")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}

	if first.UUID != second.UUID {
		t.Errorf("Expected same uuid, got %s and %s", first.UUID, second.UUID)
	}
	if store.TopicCount() != 1 {
		t.Errorf("Expected 1 topic, got %d", store.TopicCount())
	}
}

func TestResolveOrCreate_Hierarchy(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)
	ctx := context.Background()

	c, err := r.ResolveOrCreate(ctx, "A/B/C")
	if err != nil {
		t.Fatalf("ResolveOrCreate A/B/C failed: %v", err)
	}
	d, err := r.ResolveOrCreate(ctx, "A/B/D")
	if err != nil {
		t.Fatalf("ResolveOrCreate A/B/D failed: %v", err)
	}

	if c.Label != "C" || d.Label != "D" {
		t.Errorf("Expected leaves C and D, got %q and %q", c.Label, d.Label)
	}
	if c.UUID == d.UUID {
		t.Error("Expected distinct leaf topics")
	}
	if store.TopicCount() != 4 {
		t.Errorf("Expected 4 topics (A, B, C, D), got %d", store.TopicCount())
	}

	a := topicByLabel(t, store, "A")
	aChildren := children(t, store, a.UUID)
	if len(aChildren) != 1 || aChildren[0].Label != "B" {
		t.Fatalf("Expected A to have the single child B, got %+v", aChildren)
	}

	bChildren := children(t, store, aChildren[0].UUID)
	if len(bChildren) != 2 {
		t.Fatalf("Expected B to have 2 children, got %d", len(bChildren))
	}
	if bChildren[0].UUID != c.UUID || bChildren[1].UUID != d.UUID {
		t.Errorf("Expected children C then D, got %+v", bChildren)
	}
}

func TestResolveOrCreate_EmptySegments(t *testing.T) {
	tests := []struct {
		label     string
		leaf      string
		rootLabel string
	}{
		{label: "A/", leaf: "", rootLabel: "A"},
		{label: "/B", leaf: "B", rootLabel: ""},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			store := graph.NewMemoryStore()
			r := New(store, nil)

			leaf, err := r.ResolveOrCreate(context.Background(), tt.label)
			if err != nil {
				t.Fatalf("ResolveOrCreate failed: %v", err)
			}
			if leaf.Label != tt.leaf {
				t.Errorf("Expected leaf label %q, got %q", tt.leaf, leaf.Label)
			}

			root := topicByLabel(t, store, tt.rootLabel)
			kids := children(t, store, root.UUID)
			if len(kids) != 1 || kids[0].UUID != leaf.UUID {
				t.Errorf("Expected leaf to be the child of %q, got %+v", tt.rootLabel, kids)
			}
		})
	}
}

func TestResolveOrCreate_ReusesGlobalLabelForSegment(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)
	ctx := context.Background()

	existing, _ := r.ResolveOrCreate(ctx, "Physics")
	leaf, err := r.ResolveOrCreate(ctx, "Science/Physics")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}

	if leaf.UUID != existing.UUID {
		t.Errorf("Expected existing Physics topic to be reused")
	}
	if store.TopicCount() != 2 {
		t.Errorf("Expected 2 topics, got %d", store.TopicCount())
	}
}

func TestResolveOrCreate_SharedSubtopicHasTwoParents(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)
	ctx := context.Background()

	first, err := r.ResolveOrCreate(ctx, "Engineering/Databases")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	second, err := r.ResolveOrCreate(ctx, "Research/Databases")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}

	if first.UUID != second.UUID {
		t.Errorf("Expected one Databases node, got %s and %s", first.UUID, second.UUID)
	}
	if store.TopicCount() != 3 {
		t.Errorf("Expected 3 topics, got %d", store.TopicCount())
	}

	for _, parent := range []string{"Engineering", "Research"} {
		var children []model.Topic
		_ = store.View(ctx, func(tx graph.Tx) error {
			p, err := tx.TopicByLabel(ctx, parent)
			if err != nil {
				return err
			}
			children, err = tx.Children(ctx, p.UUID)
			return err
		})
		if len(children) != 1 || children[0].UUID != first.UUID {
			t.Errorf("Expected Databases under %s, got %+v", parent, children)
		}
	}
}

func TestResolveOrCreate_RetriesOnConflict(t *testing.T) {
	store := &flakyStore{MemoryStore: graph.NewMemoryStore(), conflicts: 1}
	r := New(store, nil)

	topic, err := r.ResolveOrCreate(context.Background(), "Science")
	if err != nil {
		t.Fatalf("Expected conflict to be retried, got %v", err)
	}
	if topic.Label != "Science" {
		t.Errorf("Expected Science, got %q", topic.Label)
	}
}

func TestResolveOrCreate_ChainRollsBack(t *testing.T) {
	store := &flakyStore{MemoryStore: graph.NewMemoryStore(), failLabel: "C"}
	r := New(store, nil)

	_, err := r.ResolveOrCreate(context.Background(), "A/B/C")
	if !errors.Is(err, model.ErrTopicNotResolved) {
		t.Fatalf("Expected ErrTopicNotResolved, got %v", err)
	}
	if store.TopicCount() != 0 {
		t.Errorf("Expected no partial chain, got %d topics", store.TopicCount())
	}
}

func TestResolveOrCreate_StaleCacheEntry(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)
	ctx := context.Background()

	first, _ := r.ResolveOrCreate(ctx, "Science")

	// A fresh store behind the same cache: the cached uuid no longer exists.
	r.store = graph.NewMemoryStore()
	second, err := r.ResolveOrCreate(ctx, "Science")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if second.UUID == first.UUID {
		t.Error("Expected stale cache entry to be ignored")
	}
}

func TestEnsureTopic_Description(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)

	topic, err := r.EnsureTopic(context.Background(), "Machine Learning", "Training models from data")
	if err != nil {
		t.Fatalf("EnsureTopic failed: %v", err)
	}
	if topic.Description != "Training models from data" {
		t.Errorf("Expected description to be stored, got %q", topic.Description)
	}
}

func TestLinkStatementToTopics(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)
	ctx := context.Background()

	legacy, _ := r.ResolveOrCreate(ctx, "Legacy")

	var stmt model.Statement
	_ = store.Update(ctx, func(tx graph.Tx) error {
		var err error
		stmt, err = tx.CreateStatement(ctx, model.Statement{ID: "s1", Subject: "Alice"})
		return err
	})

	linked := r.LinkStatementToTopics(ctx, stmt, []model.TopicAssignment{
		model.NamedTopic("Science", []string{"physics"}),
		model.LegacyTopicRef(legacy.UUID),
		{Kind: model.AssignmentAbsent},
		model.LegacyTopicRef("no-such-topic"),
		model.NamedTopic("Science", nil),
	})

	if linked != 3 {
		t.Errorf("Expected 3 links, got %d", linked)
	}
	science := topicByLabel(t, store, "Science")
	if got := statementsFor(t, store, science.UUID); len(got) != 1 {
		t.Errorf("Expected a single Science edge, got %d", len(got))
	}
	if got := statementsFor(t, store, legacy.UUID); len(got) != 1 {
		t.Errorf("Expected legacy ref to be linked, got %d", len(got))
	}
}

func TestReconcileAndPersist(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)
	ctx := context.Background()

	statements := []model.Statement{
		{ID: "s1", Subject: "John", Predicate: "works at", Object: "Acme Corp", Context: "Employment",
			Topics: []model.TopicAssignment{model.NamedTopic("Careers/Employment", []string{"jobs"})}},
		{ID: "s2", Subject: "Alice", Predicate: "likes", Object: "tea"},
		{ID: "s3", Predicate: "is", Object: "unknown"},
	}

	persisted, report := r.ReconcileAndPersist(ctx, statements)

	if len(persisted) != 3 {
		t.Fatalf("Expected 3 persisted statements, got %d", len(persisted))
	}
	for i, s := range persisted {
		if s.UUID == "" {
			t.Errorf("Expected statement %d to have a graph uuid", i)
		}
		if s.ID != statements[i].ID {
			t.Errorf("Expected input order, got %s at %d", s.ID, i)
		}
	}
	if report.Links != 2 {
		t.Errorf("Expected 2 links, got %d", report.Links)
	}

	employment := topicByLabel(t, store, "Employment")
	linked := statementsFor(t, store, employment.UUID)
	if len(linked) != 1 || linked[0].Label() != "John works at Acme Corp Employment" {
		t.Errorf("Unexpected statements under Employment: %+v", linked)
	}

	alice := topicByLabel(t, store, "Alice")
	if got := statementsFor(t, store, alice.UUID); len(got) != 1 {
		t.Errorf("Expected subject fallback topic Alice, got %d statements", len(got))
	}
	if len(persisted[1].Topics) != 1 || persisted[1].Topics[0].Name != "Alice" {
		t.Errorf("Expected fallback assignment on result, got %+v", persisted[1].Topics)
	}

	if len(persisted[2].Topics) != 0 {
		t.Errorf("Expected statement without subject to have no topics, got %+v", persisted[2].Topics)
	}
	if store.TopicCount() != 3 {
		t.Errorf("Expected 3 topics (Careers, Employment, Alice), got %d", store.TopicCount())
	}
}

func TestReconcileAndPersist_LabelFollowsFields(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)

	s := model.Statement{ID: "s1", Subject: "Jane", Predicate: "works at", Object: "Acme Corp", Context: "Employment"}
	s.Subject = "John"

	persisted, _ := r.ReconcileAndPersist(context.Background(), []model.Statement{s})
	if len(persisted) != 1 {
		t.Fatalf("Expected 1 statement, got %d", len(persisted))
	}

	john := topicByLabel(t, store, "John")
	stored := statementsFor(t, store, john.UUID)
	if len(stored) != 1 || stored[0].Label() != "John works at Acme Corp Employment" {
		t.Errorf("Unexpected stored label: %+v", stored)
	}
}

func TestReconcileAndPersist_SkipsFailedStatements(t *testing.T) {
	store := &flakyStore{MemoryStore: graph.NewMemoryStore(), failStatements: map[string]bool{"s2": true}}
	r := New(store, nil)

	persisted, report := r.ReconcileAndPersist(context.Background(), []model.Statement{
		{ID: "s1", Subject: "A"},
		{ID: "s2", Subject: "B"},
		{ID: "s3", Subject: "C"},
	})

	if len(persisted) != 2 || persisted[0].ID != "s1" || persisted[1].ID != "s3" {
		t.Fatalf("Expected s1 and s3, got %+v", persisted)
	}
	if len(report.FailedStatements) != 1 || report.FailedStatements[0].StatementID != "s2" {
		t.Fatalf("Expected s2 to be reported, got %+v", report.FailedStatements)
	}
	if !errors.Is(report.FailedStatements[0].Err, model.ErrPersistence) {
		t.Errorf("Expected ErrPersistence, got %v", report.FailedStatements[0].Err)
	}
	if len(report.Warnings()) != 1 {
		t.Errorf("Expected 1 warning, got %v", report.Warnings())
	}
}

func TestReconcileAndPersist_FailedLinkDoesNotAbort(t *testing.T) {
	store := &flakyStore{MemoryStore: graph.NewMemoryStore(), failLabel: "Broken"}
	r := New(store, nil)

	persisted, report := r.ReconcileAndPersist(context.Background(), []model.Statement{
		{ID: "s1", Subject: "A", Topics: []model.TopicAssignment{
			model.NamedTopic("Broken", nil),
			model.NamedTopic("Works", nil),
		}},
	})

	if len(persisted) != 1 {
		t.Fatalf("Expected statement to be persisted, got %d", len(persisted))
	}
	if report.Links != 1 {
		t.Errorf("Expected 1 link, got %d", report.Links)
	}
	if len(report.FailedLinks) != 1 || report.FailedLinks[0].Topic != "Broken" {
		t.Errorf("Expected Broken link failure, got %+v", report.FailedLinks)
	}
	if !errors.Is(report.FailedLinks[0].Err, model.ErrTopicNotResolved) {
		t.Errorf("Expected ErrTopicNotResolved, got %v", report.FailedLinks[0].Err)
	}
}

func TestCatalog(t *testing.T) {
	store := graph.NewMemoryStore()
	r := New(store, nil)
	ctx := context.Background()

	_, _ = r.ResolveOrCreate(ctx, "A/B")
	catalog, err := r.Catalog(ctx)
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if len(catalog) != 2 || catalog[0].Label != "A" || catalog[1].Label != "B" {
		t.Errorf("Unexpected catalog: %+v", catalog)
	}
}
