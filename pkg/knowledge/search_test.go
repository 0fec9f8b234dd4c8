package knowledge

import (
	"math"
	"testing"
)

func TestCosineSimilarityProperties(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0.3, -0.7, 0.1, 2.5},
		{-1, -1, -1, -1},
	}
	for _, v := range vectors {
		if got := CosineSimilarity(v, v); got < 1-1e-5 {
			t.Fatalf("cosine(v,v) = %f, want >= %f", got, 1-1e-5)
		}
		neg := make([]float32, len(v))
		for i := range v {
			neg[i] = -v[i]
		}
		if got := CosineSimilarity(v, neg); got > -1+1e-5 {
			t.Fatalf("cosine(v,-v) = %f, want <= %f", got, -1+1e-5)
		}
	}
	if got := CosineSimilarity([]float32{0, 0, 0, 0}, []float32{1, 0, 0, 0}); got != 0 {
		t.Fatalf("zero-norm cosine should be 0, got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Fatalf("mismatched dims should score 0, got %f", got)
	}
}

func TestSimilarEntities(t *testing.T) {
	g := NewGraph(testConfig())
	a, _ := g.AddEntity("a", "t", []float32{1, 0, 0, 0}, 1)
	g.AddEntity("b", "t", []float32{0, 1, 0, 0}, 1)
	c, _ := g.AddEntity("c", "t", []float32{0.9, 0.1, 0, 0}, 1)

	results := g.SimilarEntities([]float32{1, 0, 0, 0}, 2)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].EntityID != a || results[1].EntityID != c {
		t.Fatalf("unexpected ranking: %+v", results)
	}
}

func TestSearchText(t *testing.T) {
	g := NewGraph(testConfig())
	alice, _ := g.AddEntity("Alice Smith", "Person", nil, 1)
	exact, _ := g.AddEntity("Alice", "Person", nil, 1)
	g.AddEntity("Bob", "Person", nil, 1)

	results := g.SearchText("Alice", nil, 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].EntityID != exact || results[0].Score != 1.0 {
		t.Fatalf("exact match should rank first: %+v", results)
	}
	if results[1].EntityID != alice || results[1].Score != 0.5 {
		t.Fatalf("substring match should score 0.5: %+v", results)
	}
}

func TestResolve(t *testing.T) {
	g := NewGraph(testConfig())
	alice, _ := g.AddEntity("Alice", "Person", []float32{1, 0, 0, 0}, 1)

	// Step 1: exact (name, type) match.
	if id, err := g.Resolve("Alice", "Person", nil, 1); err != nil || id != alice {
		t.Fatalf("exact resolve: id=%d err=%v", id, err)
	}

	// Step 2: embedding similarity above threshold resolves to the same id.
	if id, err := g.Resolve("Alicia", "Person", []float32{0.99, 0.01, 0, 0}, 1); err != nil || id != alice {
		t.Fatalf("similarity resolve: id=%d err=%v", id, err)
	}

	// Type mismatch never resolves by similarity.
	id, err := g.Resolve("Alice Corp", "Organization", []float32{1, 0, 0, 0}, 1)
	if err != nil || id == alice {
		t.Fatalf("cross-type resolve should create new entity: id=%d err=%v", id, err)
	}

	// Step 3: dissimilar embedding creates a new entity.
	id2, err := g.Resolve("Zed", "Person", []float32{0, 0, 0, 1}, 1)
	if err != nil || id2 == alice {
		t.Fatalf("dissimilar resolve should create: id=%d err=%v", id2, err)
	}
}

func TestFindDuplicates(t *testing.T) {
	g := NewGraph(testConfig())
	a, _ := g.AddEntity("a", "t", []float32{1, 0, 0, 0}, 1)
	b, _ := g.AddEntity("b", "t", []float32{0.999, 0.001, 0, 0}, 1)
	g.AddEntity("c", "t", []float32{0, 1, 0, 0}, 1)

	pairs := g.FindDuplicates(10)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 duplicate pair, got %d", len(pairs))
	}
	if pairs[0].EntityA != a || pairs[0].EntityB != b {
		t.Fatalf("unexpected pair: %+v", pairs[0])
	}
	if pairs[0].Similarity < 0.85 {
		t.Fatalf("similarity below threshold reported: %f", pairs[0].Similarity)
	}
	if pairs[0].Predicate != "duplicate" {
		t.Fatalf("expected duplicate predicate, got %q", pairs[0].Predicate)
	}
}

func TestMergeEntities(t *testing.T) {
	g := NewGraph(testConfig())
	keep, _ := g.AddEntity("Robert", "Person", []float32{1, 0, 0, 0}, 1)
	merge, _ := g.AddEntity("Bob", "Person", []float32{0.98, 0.02, 0, 0}, 1)
	other, _ := g.AddEntity("Acme", "Organization", nil, 1)

	g.SetEntityProperty(keep, "city", "Lisbon")
	g.SetEntityProperty(merge, "city", "Porto") // keep wins
	g.SetEntityProperty(merge, "role", "engineer")

	rel := mustRelate(t, g, merge, other, "works_at")
	incoming := mustRelate(t, g, other, merge, "employs")

	if !g.MergeEntities(keep, merge) {
		t.Fatalf("merge failed")
	}
	if _, ok := g.GetEntity(merge); ok {
		t.Fatalf("merged entity should be gone")
	}
	kept, _ := g.GetEntity(keep)
	if v, _ := kept.Properties.Get("city"); v != "Lisbon" {
		t.Fatalf("existing property overwritten: %q", v)
	}
	if v, _ := kept.Properties.Get("role"); v != "engineer" {
		t.Fatalf("missing merged property: %q", v)
	}

	r, ok := g.GetRelation(rel)
	if !ok || r.Subject != keep {
		t.Fatalf("relation subject not rewritten: %+v", r)
	}
	r2, ok := g.GetRelation(incoming)
	if !ok || r2.Object != keep {
		t.Fatalf("relation object not rewritten: %+v", r2)
	}
	// Rewritten relations answer queries for the kept entity.
	if got := g.Query(keep, 0, "works_at", 10); len(got) != 1 {
		t.Fatalf("expected 1 works_at triple from kept entity, got %d", len(got))
	}
	if stats := g.Stats(); stats.EmbeddingCount != 1 {
		t.Fatalf("merged embedding should leave the arena: %+v", stats)
	}
}

func TestPredictLinks(t *testing.T) {
	g := NewGraph(testConfig())
	src, _ := g.AddEntity("src", "t", []float32{1, 0, 0, 0}, 1)
	connected, _ := g.AddEntity("connected", "t", []float32{0.99, 0.01, 0, 0}, 1)
	candidate, _ := g.AddEntity("candidate", "t", []float32{0.95, 0.05, 0, 0}, 1)
	g.AddEntity("far", "t", []float32{0, 0, 0, 1}, 1)
	mustRelate(t, g, src, connected, "knows")
	// Shared neighbor: candidate also knows connected.
	mustRelate(t, g, candidate, connected, "knows")

	results := g.PredictLinks(src, 10)
	if len(results) != 1 {
		t.Fatalf("expected single prediction, got %+v", results)
	}
	if results[0].EntityID != candidate || results[0].Predicate != "related_to" {
		t.Fatalf("unexpected prediction: %+v", results[0])
	}
	base := CosineSimilarity([]float32{1, 0, 0, 0}, []float32{0.95, 0.05, 0, 0})
	want := math.Min(base+0.1, 1.0)
	if math.Abs(results[0].Score-want) > 1e-9 {
		t.Fatalf("shared-neighbor boost missing: got %f want %f", results[0].Score, want)
	}
}

func TestHybridSearch(t *testing.T) {
	g := NewGraph(testConfig())
	person, _ := g.AddEntity("p", "Person", []float32{1, 0, 0, 0}, 1)
	org, _ := g.AddEntity("o", "Organization", []float32{1, 0, 0, 0}, 1)
	mustRelate(t, g, person, org, "works_at")
	loner, _ := g.AddEntity("loner", "Person", []float32{1, 0, 0, 0}, 1)
	_ = loner

	byType := g.HybridSearch([]float32{1, 0, 0, 0}, "Person", "", 10)
	for _, r := range byType {
		if r.EntityID == org {
			t.Fatalf("type filter leaked organization")
		}
	}
	byPredicate := g.HybridSearch([]float32{1, 0, 0, 0}, "Person", "works_at", 10)
	if len(byPredicate) != 1 || byPredicate[0].EntityID != person {
		t.Fatalf("predicate filter should keep only participants: %+v", byPredicate)
	}
}
