package knowledge

import (
	"context"
	"errors"
	"testing"
)

type fakeWrite struct {
	query  string
	params map[string]any
}

type fakeGraphDriver struct {
	writes  []fakeWrite
	records []map[string]any
	failOn  string
	closed  bool
}

func (f *fakeGraphDriver) ExecuteWrite(_ context.Context, query string, params map[string]any) error {
	if f.failOn != "" && query == f.failOn {
		return errors.New("write refused")
	}
	f.writes = append(f.writes, fakeWrite{query: query, params: params})
	return nil
}

func (f *fakeGraphDriver) ExecuteRead(_ context.Context, _ string, _ map[string]any, collect func(map[string]any) error) error {
	for _, rec := range f.records {
		if err := collect(rec); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeGraphDriver) Close(context.Context) error {
	f.closed = true
	return nil
}

func TestNeo4jMirrorPush(t *testing.T) {
	g := populatedGraph(t)
	fake := &fakeGraphDriver{}
	mirror, err := NewNeo4jMirror(fake)
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}

	if err := mirror.Push(context.Background(), g); err != nil {
		t.Fatalf("push: %v", err)
	}
	stats := g.Stats()
	if want := stats.EntityCount + stats.RelationCount; len(fake.writes) != want {
		t.Fatalf("expected %d writes, got %d", want, len(fake.writes))
	}

	// Entity writes come first, ordered by graph id.
	first := fake.writes[0]
	if first.params["id"] != int64(1) {
		t.Fatalf("first write should carry entity 1, got %v", first.params["id"])
	}
	props, ok := first.params["props"].(map[string]any)
	if !ok {
		t.Fatalf("entity write missing props: %+v", first.params)
	}
	if props["name"] != "Alice" || props["prop_city"] != "Lisbon" {
		t.Fatalf("entity props not mirrored: %+v", props)
	}

	last := fake.writes[len(fake.writes)-1]
	if last.params["predicate"] != "knows" {
		t.Fatalf("last write should be the knows relation, got %+v", last.params)
	}

	if err := mirror.Close(context.Background()); err != nil || !fake.closed {
		t.Fatalf("close: err=%v closed=%v", err, fake.closed)
	}
}

func TestNeo4jMirrorPushPropagatesErrors(t *testing.T) {
	g := populatedGraph(t)
	fake := &fakeGraphDriver{failOn: "MERGE (e:Entity {graph_id: $id}) SET e += $props"}
	mirror, _ := NewNeo4jMirror(fake)
	if err := mirror.Push(context.Background(), g); err == nil {
		t.Fatalf("driver failure should surface")
	}
}

func TestNeo4jMirrorPullTriples(t *testing.T) {
	fake := &fakeGraphDriver{records: []map[string]any{
		{
			"subject_id": int64(1), "subject": "Alice",
			"predicate": "works_at",
			"object_id": int64(3), "object": "Acme",
			"weight": 0.75,
		},
	}}
	mirror, _ := NewNeo4jMirror(fake)
	triples, err := mirror.PullTriples(context.Background(), 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(triples) != 1 {
		t.Fatalf("expected 1 triple, got %d", len(triples))
	}
	tr := triples[0]
	if tr.SubjectID != 1 || tr.ObjectID != 3 || tr.Predicate != "works_at" ||
		tr.SubjectName != "Alice" || tr.ObjectName != "Acme" || tr.Weight != 0.75 {
		t.Fatalf("triple fields lost in transit: %+v", tr)
	}
}

func TestNeo4jMirrorRequiresDriver(t *testing.T) {
	if _, err := NewNeo4jMirror(nil); !errors.Is(err, ErrNoDriver) {
		t.Fatalf("nil driver: got %v", err)
	}
	var mirror *Neo4jMirror
	if err := mirror.Push(context.Background(), NewGraph(testConfig())); !errors.Is(err, ErrNoDriver) {
		t.Fatalf("nil mirror push: got %v", err)
	}
}
