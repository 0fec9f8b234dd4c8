package knowledge

import (
	"math"
	"testing"
)

func testConfig() Config {
	return Config{
		EmbeddingDim:            4,
		SimilarityThreshold:     0.85,
		LinkPredictionThreshold: 0.6,
		MaxEntities:             100,
	}
}

func TestEntityRoundTrip(t *testing.T) {
	g := NewGraph(testConfig())
	id, err := g.AddEntity("Alice", "Person", []float32{1, 0, 0, 0}, 0.9)
	if err != nil {
		t.Fatalf("add entity: %v", err)
	}
	ent, ok := g.GetEntity(id)
	if !ok {
		t.Fatalf("entity %d not found", id)
	}
	if ent.Name != "Alice" || ent.Type != "Person" {
		t.Fatalf("unexpected entity fields: %+v", ent)
	}
	if len(ent.Embedding) != 4 || ent.Embedding[0] != 1 {
		t.Fatalf("embedding not preserved: %v", ent.Embedding)
	}
	if ent.Confidence != 0.9 {
		t.Fatalf("confidence not preserved: %f", ent.Confidence)
	}
	if stats := g.Stats(); stats.EntityCount != 1 || stats.EmbeddingCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEntityCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntities = 2
	g := NewGraph(cfg)
	for i := 0; i < 2; i++ {
		if _, err := g.AddEntity("e", "t", nil, 1); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if _, err := g.AddEntity("overflow", "t", nil, 1); err != ErrAtCapacity {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	g := NewGraph(testConfig())
	if _, err := g.AddEntity("bad", "t", []float32{1, 2}, 1); err != ErrDimensionMismatch {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestTripleQuery(t *testing.T) {
	g := NewGraph(testConfig())
	alice, _ := g.AddEntity("Alice", "Person", nil, 1)
	bob, _ := g.AddEntity("Bob", "Person", nil, 1)
	acme, _ := g.AddEntity("Acme", "Organization", nil, 1)
	mustRelate(t, g, alice, acme, "works_at")
	mustRelate(t, g, bob, acme, "works_at")
	mustRelate(t, g, alice, bob, "knows")

	worksAt := g.Query(0, 0, "works_at", 10)
	if len(worksAt) != 2 {
		t.Fatalf("expected 2 works_at triples, got %d", len(worksAt))
	}
	for _, triple := range worksAt {
		if triple.ObjectName != "Acme" {
			t.Fatalf("works_at object should be Acme, got %q", triple.ObjectName)
		}
	}

	fromAlice := g.Query(alice, 0, "", 10)
	if len(fromAlice) != 2 {
		t.Fatalf("expected 2 triples with Alice as subject, got %d", len(fromAlice))
	}
}

func mustRelate(t *testing.T, g *Graph, subject, object uint64, predicate string) uint64 {
	t.Helper()
	id, err := g.AddRelation(subject, object, predicate, 1.0)
	if err != nil {
		t.Fatalf("relate %d-%s->%d: %v", subject, predicate, object, err)
	}
	return id
}

func TestRelationRequiresEndpoints(t *testing.T) {
	g := NewGraph(testConfig())
	alice, _ := g.AddEntity("Alice", "Person", nil, 1)
	if _, err := g.AddRelation(alice, 999, "knows", 1); err != ErrMissingEndpoint {
		t.Fatalf("expected ErrMissingEndpoint, got %v", err)
	}
	if _, err := g.AddRelation(999, alice, "knows", 1); err != ErrMissingEndpoint {
		t.Fatalf("expected ErrMissingEndpoint, got %v", err)
	}
}

// Every relation id must appear exactly once in each of its three indexes.
func TestSPOIndexConsistency(t *testing.T) {
	g := NewGraph(testConfig())
	var ids []uint64
	for i := 0; i < 5; i++ {
		id, _ := g.AddEntity("e", "t", nil, 1)
		ids = append(ids, id)
	}
	mustRelate(t, g, ids[0], ids[1], "a")
	mustRelate(t, g, ids[1], ids[2], "b")
	selfLoop := mustRelate(t, g, ids[3], ids[3], "c")
	mustRelate(t, g, ids[2], ids[0], "a")

	g.mu.RLock()
	for rid, rel := range g.relations {
		if n := countIn(g.subjectIndex[rel.Subject], rid); n != 1 {
			t.Fatalf("relation %d appears %d times in subject index", rid, n)
		}
		if n := countIn(g.objectIndex[rel.Object], rid); n != 1 {
			t.Fatalf("relation %d appears %d times in object index", rid, n)
		}
		if n := countIn(g.predicateIndex[predicateHash(rel.Predicate)], rid); n != 1 {
			t.Fatalf("relation %d appears %d times in predicate index", rid, n)
		}
	}
	g.mu.RUnlock()

	// Removing the self-loop entity must clean both index sides at once.
	if !g.RemoveEntity(ids[3]) {
		t.Fatalf("remove entity failed")
	}
	if _, ok := g.GetRelation(selfLoop); ok {
		t.Fatalf("self-loop relation should have been cascaded")
	}
}

func countIn(ids []uint64, id uint64) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}

func TestRemoveEntityCascades(t *testing.T) {
	g := NewGraph(testConfig())
	alice, _ := g.AddEntity("Alice", "Person", []float32{1, 0, 0, 0}, 1)
	bob, _ := g.AddEntity("Bob", "Person", []float32{0, 1, 0, 0}, 1)
	r1 := mustRelate(t, g, alice, bob, "knows")
	r2 := mustRelate(t, g, bob, alice, "knows")

	before := g.Stats()
	if !g.RemoveEntity(bob) {
		t.Fatalf("remove failed")
	}
	after := g.Stats()

	if _, ok := g.GetRelation(r1); ok {
		t.Fatalf("relation r1 should be gone")
	}
	if _, ok := g.GetRelation(r2); ok {
		t.Fatalf("relation r2 should be gone")
	}
	if after.EntityCount != before.EntityCount-1 {
		t.Fatalf("entity count: before=%d after=%d", before.EntityCount, after.EntityCount)
	}
	if after.EmbeddingCount != before.EmbeddingCount-1 {
		t.Fatalf("arena should shrink by one: before=%d after=%d", before.EmbeddingCount, after.EmbeddingCount)
	}
	// Arena ids stay aligned with entities after the swap-remove.
	g.mu.RLock()
	for i, id := range g.embeddingIDs {
		ent, ok := g.entities[id]
		if !ok {
			t.Fatalf("arena slot %d references missing entity %d", i, id)
		}
		slot := g.arenaSlotLocked(i)
		for j := range slot {
			if slot[j] != ent.Embedding[j] {
				t.Fatalf("arena slot %d out of sync with entity %d", i, id)
			}
		}
	}
	g.mu.RUnlock()
}

func TestStatsTrackAddsAndRemoves(t *testing.T) {
	g := NewGraph(testConfig())
	a, _ := g.AddEntity("a", "x", nil, 1)
	b, _ := g.AddEntity("b", "y", nil, 1)
	rel := mustRelate(t, g, a, b, "p")

	if stats := g.Stats(); stats.EntityCount != 2 || stats.RelationCount != 1 || stats.TypeCount != 2 || stats.PredicateCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	g.RemoveRelation(rel)
	g.RemoveEntity(b)
	if stats := g.Stats(); stats.EntityCount != 1 || stats.RelationCount != 0 {
		t.Fatalf("unexpected stats after removal: %+v", stats)
	}
}

func TestProperties(t *testing.T) {
	g := NewGraph(testConfig())
	id, _ := g.AddEntity("Alice", "Person", nil, 1)
	if !g.SetEntityProperty(id, "city", "Lisbon") {
		t.Fatalf("set property failed")
	}
	g.SetEntityProperty(id, "city", "Porto") // overwrite keeps one entry
	g.SetEntityProperty(id, "role", "engineer")

	ent, _ := g.GetEntity(id)
	if len(ent.Properties) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(ent.Properties))
	}
	if v, _ := ent.Properties.Get("city"); v != "Porto" {
		t.Fatalf("overwrite failed: %q", v)
	}
	// Insertion order is stable.
	if ent.Properties[0].Key != "city" || ent.Properties[1].Key != "role" {
		t.Fatalf("property order not preserved: %+v", ent.Properties)
	}
}

func TestDegreeCentrality(t *testing.T) {
	g := NewGraph(testConfig())
	a, _ := g.AddEntity("a", "t", nil, 1)
	if got := g.DegreeCentrality(a); got != 0 {
		t.Fatalf("single-entity centrality should be 0, got %f", got)
	}
	b, _ := g.AddEntity("b", "t", nil, 1)
	c, _ := g.AddEntity("c", "t", nil, 1)
	mustRelate(t, g, a, b, "p")
	mustRelate(t, g, c, a, "p")
	if got, want := g.DegreeCentrality(a), 1.0; math.Abs(got-want) > 1e-9 {
		t.Fatalf("centrality = %f, want %f", got, want)
	}
}
