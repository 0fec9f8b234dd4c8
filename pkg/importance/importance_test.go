package importance

import (
	"math"
	"testing"
	"time"
)

func TestContentScoreRange(t *testing.T) {
	samples := []string{
		"",
		"hi",
		"My birthday is March 15th and I always celebrate at home.",
		"Contact john.doe@example.com or visit https://example.com for details!",
		"the the the the the the the the",
		"URGENT: server outage at 2024-01-15, Alice's team paged (again?)",
	}
	for _, content := range samples {
		score := ScoreContent(content)
		if score < 0 || score > 1 {
			t.Fatalf("ScoreContent(%q) = %f out of range", content, score)
		}
		for name, sub := range map[string]float64{
			"informativeness": Informativeness(content),
			"specificity":     Specificity(content),
			"salience":        Salience(content),
			"entity density":  EntityDensity(content),
		} {
			if sub < 0 || sub > 1 {
				t.Fatalf("%s(%q) = %f out of range", name, content, sub)
			}
		}
	}
}

func TestEmptyContentScoresZero(t *testing.T) {
	if got := ScoreContent(""); got != 0 {
		t.Fatalf("expected 0 for empty content, got %f", got)
	}
	if got := Informativeness(""); got != 0 {
		t.Fatalf("expected 0 informativeness, got %f", got)
	}
	if got := ScoreExtracted(""); got != 0 {
		t.Fatalf("expected 0 extracted score, got %f", got)
	}
}

func TestExtractedScoreFloor(t *testing.T) {
	facts := []string{"Name is John", "Works at Acme Corp", "Favorite color is blue", "Born on 1990-05-12"}
	for _, fact := range facts {
		score := ScoreExtracted(fact)
		if score < 0.4 || score > 1.0 {
			t.Fatalf("ScoreExtracted(%q) = %f outside [0.4, 1.0]", fact, score)
		}
	}
}

func TestSpecificityRewardsStructure(t *testing.T) {
	plain := Specificity("it was nice and we had fun there")
	structured := Specificity("Alice emailed bob@acme.com on 2024-03-15 about Project Phoenix")
	if structured <= plain {
		t.Fatalf("structured content should be more specific: %f <= %f", structured, plain)
	}
}

func TestTemporalDecay(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.TemporalDecay(0); got != 1.0 {
		t.Fatalf("decay at age 0 should be 1.0, got %f", got)
	}
	// Monotonically non-increasing outside the recency window.
	prev := math.Inf(1)
	for hours := 25.0; hours < 24*90; hours += 13 {
		d := cfg.TemporalDecay(time.Duration(hours * float64(time.Hour)))
		if d > prev {
			t.Fatalf("decay increased at %f hours: %f > %f", hours, d, prev)
		}
		prev = d
	}
	// Floor holds for very old memories.
	if got := cfg.TemporalDecay(24 * 365 * time.Hour); got < cfg.MinDecayFactor {
		t.Fatalf("decay %f fell below floor %f", got, cfg.MinDecayFactor)
	}
}

func TestRecencyBoostInsideWindow(t *testing.T) {
	cfg := DefaultConfig()
	fresh := cfg.TemporalDecay(1 * time.Hour)
	stale := cfg.TemporalDecay(30 * time.Hour)
	if fresh <= stale {
		t.Fatalf("recent memory should decay less: %f <= %f", fresh, stale)
	}
	if fresh > 1.0 {
		t.Fatalf("boosted decay must not exceed 1.0, got %f", fresh)
	}
}

func TestAccessScore(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := cfg.AccessScore(nil, now); got != 0 {
		t.Fatalf("nil history should score 0, got %f", got)
	}

	h := &AccessHistory{}
	// Well-spaced accesses near the optimal 48h interval.
	for i := 0; i < 5; i++ {
		h.Record(now.Add(time.Duration(-5+i)*48*time.Hour), 0.8, AccessSearch)
	}
	spaced := cfg.AccessScore(h, now)

	crammed := &AccessHistory{}
	for i := 0; i < 5; i++ {
		crammed.Record(now.Add(time.Duration(-5+i)*time.Minute), 0.8, AccessSearch)
	}
	burst := cfg.AccessScore(crammed, now)

	if spaced <= 0 || spaced > 1 || burst <= 0 || burst > 1 {
		t.Fatalf("access scores out of range: spaced=%f burst=%f", spaced, burst)
	}
}

func TestAccessHistoryCap(t *testing.T) {
	h := &AccessHistory{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		h.Record(base.Add(time.Duration(i)*time.Hour), 0.5, AccessDirect)
	}
	if len(h.Events) != maxTrackedAccesses {
		t.Fatalf("expected %d events after cap, got %d", maxTrackedAccesses, len(h.Events))
	}
	if h.TotalAccesses != 150 {
		t.Fatalf("lifetime count should survive eviction, got %d", h.TotalAccesses)
	}
	// Oldest events dropped first.
	if got := h.Events[0].Timestamp; !got.Equal(base.Add(50 * time.Hour)) {
		t.Fatalf("unexpected oldest event %v", got)
	}
}

func TestAccessHistoryRoundTrip(t *testing.T) {
	h := &AccessHistory{}
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	h.Record(now, 0.7, AccessSearch)
	h.Record(now.Add(2*time.Hour), 0.9, AccessRelated)

	restored := DeserializeAccessHistory(h.Serialize())
	if restored.TotalAccesses != 2 || len(restored.Events) != 2 {
		t.Fatalf("round trip lost events: %+v", restored)
	}
	if math.Abs(restored.AvgRelevance-0.8) > 1e-9 {
		t.Fatalf("avg relevance drifted: %f", restored.AvgRelevance)
	}
	if DeserializeAccessHistory("not json").TotalAccesses != 0 {
		t.Fatalf("malformed history should parse as empty")
	}
}

func TestCalculateMonotonicAging(t *testing.T) {
	cfg := DefaultConfig()
	content := "My birthday is March 15th and I always celebrate at home."
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	young := cfg.Calculate(Context{Content: content, CreatedAt: now.Add(-1 * time.Hour), Now: now})
	old := cfg.Calculate(Context{Content: content, CreatedAt: now.Add(-30 * 24 * time.Hour), Now: now})
	if young.FinalScore <= old.FinalScore {
		t.Fatalf("fresh memory should outscore a month-old one: %f <= %f", young.FinalScore, old.FinalScore)
	}
	if young.FinalScore < 0 || young.FinalScore > 1 {
		t.Fatalf("final score out of range: %f", young.FinalScore)
	}
}

func TestCalculateQuerySimilarityBlend(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	base := cfg.Calculate(Context{Content: "Bob works at Acme", CreatedAt: now, Now: now})
	boosted := cfg.Calculate(Context{
		Content: "Bob works at Acme", CreatedAt: now, Now: now,
		QueryContext: "where does Bob work", SemanticSimilarity: 1.0,
	})
	want := 0.5*base.FinalScore + 0.5*1.0
	if math.Abs(boosted.FinalScore-want) > 1e-9 {
		t.Fatalf("query blend mismatch: got %f want %f", boosted.FinalScore, want)
	}
}

func TestRerankOrderAndStability(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	contexts := []Context{
		{Content: "irrelevant note", CreatedAt: now, Now: now, SemanticSimilarity: 0.1},
		{Content: "irrelevant note", CreatedAt: now, Now: now, SemanticSimilarity: 0.9},
		{Content: "irrelevant note", CreatedAt: now, Now: now, SemanticSimilarity: 0.9},
	}
	indices, results := cfg.Rerank(contexts, 1.0)
	if len(indices) != 3 || len(results) != 3 {
		t.Fatalf("unexpected rerank sizes: %d %d", len(indices), len(results))
	}
	if indices[0] != 1 || indices[1] != 2 || indices[2] != 0 {
		t.Fatalf("expected stable descending order [1 2 0], got %v", indices)
	}
}

func TestStructuralScore(t *testing.T) {
	if got := Structural(0, 0, 0); got != 0 {
		t.Fatalf("no links should score 0, got %f", got)
	}
	sparse := Structural(1, 0, 0)
	dense := Structural(5, 5, 4)
	if dense <= sparse {
		t.Fatalf("more connectivity should score higher: %f <= %f", dense, sparse)
	}
	if dense >= 1 {
		t.Fatalf("structural score saturates below 1, got %f", dense)
	}
}
