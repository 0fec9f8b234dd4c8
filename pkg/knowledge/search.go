package knowledge

import (
	"math"
	"sort"
	"strings"
)

// SearchResult pairs an entity id with a score, highest first.
type SearchResult struct {
	EntityID  uint64
	Name      string
	Score     float64
	Predicate string
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either norm is
// effectively zero or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA < 1e-12 || normB < 1e-12 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (g *Graph) arenaSlotLocked(i int) []float32 {
	dim := g.cfg.EmbeddingDim
	return g.embeddings[i*dim : (i+1)*dim]
}

// SimilarEntities scans the embedding arena and returns the top-k entities
// by cosine similarity to the query.
func (g *Graph) SimilarEntities(embedding []float32, k int) []SearchResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.similarEntitiesLocked(embedding, k, nil)
}

func (g *Graph) similarEntitiesLocked(embedding []float32, k int, keep func(*Entity) bool) []SearchResult {
	if k <= 0 || len(embedding) != g.cfg.EmbeddingDim {
		return nil
	}
	results := make([]SearchResult, 0, len(g.embeddingIDs))
	for i, id := range g.embeddingIDs {
		ent, ok := g.entities[id]
		if !ok {
			continue
		}
		if keep != nil && !keep(ent) {
			continue
		}
		results = append(results, SearchResult{
			EntityID: id,
			Name:     ent.Name,
			Score:    CosineSimilarity(embedding, g.arenaSlotLocked(i)),
		})
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// SearchText scores every entity by name match (1.0 exact, 0.5 substring)
// plus cosine similarity against an optional text embedding, and returns the
// top-k.
func (g *Graph) SearchText(text string, embedding []float32, k int) []SearchResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if k <= 0 {
		return nil
	}
	results := make([]SearchResult, 0, len(g.entities))
	for id, ent := range g.entities {
		score := 0.0
		switch {
		case ent.Name == text:
			score = 1.0
		case strings.Contains(ent.Name, text):
			score = 0.5
		}
		if len(embedding) == g.cfg.EmbeddingDim && len(ent.Embedding) == g.cfg.EmbeddingDim {
			score += CosineSimilarity(embedding, ent.Embedding)
		}
		if score > 0 {
			results = append(results, SearchResult{EntityID: id, Name: ent.Name, Score: score})
		}
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Resolve finds or creates the entity for (name, type): exact match first,
// then best same-type cosine above the similarity threshold, then a new
// entity.
func (g *Graph) Resolve(name, entityType string, embedding []float32, confidence float32) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, ent := range g.entities {
		if ent.Name == name && ent.Type == entityType {
			return id, nil
		}
	}

	if len(embedding) == g.cfg.EmbeddingDim {
		var bestID uint64
		bestScore := -1.0
		for id, ent := range g.entities {
			if ent.Type != entityType || len(ent.Embedding) != g.cfg.EmbeddingDim {
				continue
			}
			if score := CosineSimilarity(embedding, ent.Embedding); score > bestScore {
				bestScore = score
				bestID = id
			}
		}
		if bestID != 0 && bestScore >= g.cfg.SimilarityThreshold {
			return bestID, nil
		}
	}

	return g.addEntityLocked(name, entityType, embedding, confidence)
}

// DuplicatePair reports two entities whose embeddings exceed the similarity
// threshold. Predicate is always "duplicate".
type DuplicatePair struct {
	EntityA    uint64
	EntityB    uint64
	Similarity float64
	Predicate  string
}

// FindDuplicates returns up to maxCount entity pairs whose cosine similarity
// is at or above the configured threshold.
func (g *Graph) FindDuplicates(maxCount int) []DuplicatePair {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if maxCount <= 0 {
		return nil
	}
	var out []DuplicatePair
	for i := 0; i < len(g.embeddingIDs) && len(out) < maxCount; i++ {
		for j := i + 1; j < len(g.embeddingIDs) && len(out) < maxCount; j++ {
			sim := CosineSimilarity(g.arenaSlotLocked(i), g.arenaSlotLocked(j))
			if sim >= g.cfg.SimilarityThreshold {
				out = append(out, DuplicatePair{
					EntityA:    g.embeddingIDs[i],
					EntityB:    g.embeddingIDs[j],
					Similarity: sim,
					Predicate:  "duplicate",
				})
			}
		}
	}
	return out
}

// MergeEntities folds merge into keep: properties keep does not already have
// are copied over, every relation referencing merge is rewritten to keep,
// and merge is removed. The whole merge is atomic under the exclusive lock.
func (g *Graph) MergeEntities(keep, merge uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	keepEnt, ok := g.entities[keep]
	if !ok {
		return false
	}
	mergeEnt, ok := g.entities[merge]
	if !ok || keep == merge {
		return false
	}

	for _, prop := range mergeEnt.Properties {
		if _, exists := keepEnt.Properties.Get(prop.Key); !exists {
			keepEnt.Properties.Set(prop.Key, prop.Value)
		}
	}

	// Rewrite relations; the index entries move with the endpoints.
	var touching []uint64
	seen := make(map[uint64]struct{})
	for _, rid := range g.subjectIndex[merge] {
		if _, dup := seen[rid]; !dup {
			seen[rid] = struct{}{}
			touching = append(touching, rid)
		}
	}
	for _, rid := range g.objectIndex[merge] {
		if _, dup := seen[rid]; !dup {
			seen[rid] = struct{}{}
			touching = append(touching, rid)
		}
	}
	for _, rid := range touching {
		rel := g.relations[rid]
		if rel == nil {
			continue
		}
		if rel.Subject == merge {
			g.subjectIndex[merge] = removeID(g.subjectIndex[merge], rid)
			rel.Subject = keep
			g.subjectIndex[keep] = append(g.subjectIndex[keep], rid)
		}
		if rel.Object == merge {
			g.objectIndex[merge] = removeID(g.objectIndex[merge], rid)
			rel.Object = keep
			g.objectIndex[keep] = append(g.objectIndex[keep], rid)
		}
	}
	delete(g.subjectIndex, merge)
	delete(g.objectIndex, merge)

	g.removeEmbeddingLocked(merge)
	delete(g.entities, merge)
	g.logf("merged entity %d into %d (%d relations rewritten)", merge, keep, len(touching))
	return true
}

// PredictLinks suggests up to k entities the source is likely related to:
// arena entities not already connected whose cosine meets the prediction
// threshold, boosted by 0.1 per shared neighbor (cap 0.2), capped at 1.
func (g *Graph) PredictLinks(source uint64, k int) []SearchResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	src, ok := g.entities[source]
	if !ok || k <= 0 || len(src.Embedding) != g.cfg.EmbeddingDim {
		return nil
	}

	connected := g.neighborSetLocked(source)
	srcNeighbors := connected

	results := make([]SearchResult, 0)
	for i, id := range g.embeddingIDs {
		if id == source {
			continue
		}
		if _, direct := connected[id]; direct {
			continue
		}
		score := CosineSimilarity(src.Embedding, g.arenaSlotLocked(i))
		if score < g.cfg.LinkPredictionThreshold {
			continue
		}
		shared := 0
		for nb := range g.neighborSetLocked(id) {
			if _, common := srcNeighbors[nb]; common {
				shared++
			}
		}
		boost := 0.1 * float64(shared)
		if boost > 0.2 {
			boost = 0.2
		}
		score += boost
		if score > 1 {
			score = 1
		}
		ent := g.entities[id]
		results = append(results, SearchResult{EntityID: id, Name: ent.Name, Score: score, Predicate: "related_to"})
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// HybridSearch runs a similar-entity scan filtered by optional entity type
// and optional participation in at least one relation with the predicate.
func (g *Graph) HybridSearch(embedding []float32, entityType, predicate string, k int) []SearchResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var withPredicate map[uint64]struct{}
	if predicate != "" {
		withPredicate = make(map[uint64]struct{})
		for _, rid := range g.predicateIndex[predicateHash(predicate)] {
			rel, ok := g.relations[rid]
			if !ok || rel.Predicate != predicate {
				continue
			}
			withPredicate[rel.Subject] = struct{}{}
			withPredicate[rel.Object] = struct{}{}
		}
	}
	return g.similarEntitiesLocked(embedding, k, func(ent *Entity) bool {
		if entityType != "" && ent.Type != entityType {
			return false
		}
		if withPredicate != nil {
			if _, ok := withPredicate[ent.ID]; !ok {
				return false
			}
		}
		return true
	})
}
