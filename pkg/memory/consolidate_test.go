package memory

import (
	"context"
	"errors"
	"math"
	"testing"
)

// twoNearOneFar seeds a layer with two nearly-parallel vectors and one
// orthogonal vector, so exactly one pair crosses the 0.85 threshold.
func twoNearOneFar(t *testing.T) (*Layer, string, string, string) {
	t.Helper()
	ctx := context.Background()
	l := testLayer(t, 4)

	id1, err := l.Add(ctx, "Alice lives in Lisbon", []float32{1, 0, 0, 0}, AddOptions{Importance: 0.8})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := l.Add(ctx, "Alice resides in Lisbon", []float32{0.99, 0.14, 0, 0}, AddOptions{Importance: 0.6})
	if err != nil {
		t.Fatal(err)
	}
	id3, err := l.Add(ctx, "Bob collects stamps", []float32{0, 0, 1, 0}, AddOptions{Importance: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	return l, id1, id2, id3
}

func TestFindSimilarPairs(t *testing.T) {
	ctx := context.Background()
	l, id1, id2, _ := twoNearOneFar(t)

	pairs, err := l.FindSimilarPairs(ctx, 0.85, 100)
	if err != nil {
		t.Fatalf("FindSimilarPairs: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("pairs = %+v, want exactly one", pairs)
	}
	p := pairs[0]
	sameEitherWay := (p.ID1 == id1 && p.ID2 == id2) || (p.ID1 == id2 && p.ID2 == id1)
	if !sameEitherWay {
		t.Fatalf("pair = %+v, want %s/%s", p, id1, id2)
	}
	if p.Similarity < 0.85 || p.Similarity > 1.0 {
		t.Fatalf("pair similarity = %f", p.Similarity)
	}

	// A threshold above the pair's similarity finds nothing.
	pairs, _ = l.FindSimilarPairs(ctx, 0.9999, 100)
	if len(pairs) != 0 {
		t.Fatalf("high threshold pairs = %+v", pairs)
	}
}

func TestMergeCombinesAndDeletes(t *testing.T) {
	ctx := context.Background()
	l, id1, id2, _ := twoNearOneFar(t)

	newID, err := l.Merge(ctx, id1, id2)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	merged, err := l.Get(ctx, newID)
	if err != nil {
		t.Fatalf("Get merged: %v", err)
	}
	if merged.Content != "Alice lives in Lisbon. Alice resides in Lisbon" {
		t.Fatalf("merged content = %q", merged.Content)
	}
	if math.Abs(merged.Importance-0.7) > 1e-9 {
		t.Fatalf("merged importance = %f, want 0.7", merged.Importance)
	}
	if !merged.Consolidated {
		t.Fatal("merged memory not marked consolidated")
	}

	if _, err := l.Get(ctx, id1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("original %s survived merge", id1)
	}
	if _, err := l.Get(ctx, id2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("original %s survived merge", id2)
	}

	// The merged vector is the neutral constant embedding.
	rec, err := l.DB().Get(ctx, newID)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range rec.Vector {
		if v != 0.5 {
			t.Fatalf("merged vector[%d] = %f, want 0.5", i, v)
		}
	}
}

func TestUpdateFromNew(t *testing.T) {
	ctx := context.Background()
	l, id1, id2, _ := twoNearOneFar(t)

	if err := l.UpdateFromNew(ctx, id1, id2); err != nil {
		t.Fatalf("UpdateFromNew: %v", err)
	}

	mem, err := l.Get(ctx, id1)
	if err != nil {
		t.Fatalf("Get updated: %v", err)
	}
	if mem.Content != "Alice lives in Lisbon" {
		t.Fatalf("content changed: %q", mem.Content)
	}
	if mem.Importance != 0.6 {
		t.Fatalf("importance = %f, want adopted 0.6", mem.Importance)
	}
	if _, err := l.Get(ctx, id2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("new memory %s survived update", id2)
	}
}

func TestLinkRelatedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, id1, id2, _ := twoNearOneFar(t)

	if err := l.LinkRelated(ctx, id1, id2); err != nil {
		t.Fatalf("LinkRelated: %v", err)
	}
	if err := l.LinkRelated(ctx, id1, id2); err != nil {
		t.Fatalf("LinkRelated repeat: %v", err)
	}

	mem, _ := l.Get(ctx, id1)
	if len(mem.RelatedIDs) != 1 || mem.RelatedIDs[0] != id2 {
		t.Fatalf("RelatedIDs = %v", mem.RelatedIDs)
	}

	if err := l.LinkRelated(ctx, id1, "mem_404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LinkRelated missing err = %v", err)
	}
}

func TestArchiveFlagsMemory(t *testing.T) {
	ctx := context.Background()
	l, _, id2, _ := twoNearOneFar(t)

	if err := l.Archive(ctx, id2); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	mem, err := l.Get(ctx, id2)
	if err != nil {
		t.Fatalf("archived memory unreachable: %v", err)
	}
	if !mem.Archived {
		t.Fatal("Archived flag not set")
	}
}

func TestConsolidateMerge(t *testing.T) {
	ctx := context.Background()
	l, _, _, id3 := twoNearOneFar(t)

	n, err := l.Consolidate(ctx, 0, StrategyMerge)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("consolidated %d pairs, want 1", n)
	}

	count, _ := l.Count(ctx)
	if count != 2 {
		t.Fatalf("count after merge = %d, want 2", count)
	}
	if _, err := l.Get(ctx, id3); err != nil {
		t.Fatalf("unrelated memory lost: %v", err)
	}
	if got := l.Metrics().Snapshot().Consolidated; got != 1 {
		t.Fatalf("metrics consolidated = %d, want 1", got)
	}
}

func TestPairSimilarityPerMetric(t *testing.T) {
	if got := pairSimilarity(0.1, DistanceCosine); math.Abs(got-0.9) > 1e-9 {
		t.Fatalf("cosine similarity = %f", got)
	}
	if got := pairSimilarity(1.0, DistanceEuclidean); got != 0.5 {
		t.Fatalf("euclidean similarity = %f", got)
	}
	if got := pairSimilarity(-0.7, DistanceDotProduct); math.Abs(got-0.7) > 1e-9 {
		t.Fatalf("dot similarity = %f", got)
	}
	if got := pairSimilarity(0.4, DistanceManhattan); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("fallback similarity = %f", got)
	}
}
