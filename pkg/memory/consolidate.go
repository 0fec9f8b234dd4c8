package memory

import (
	"context"
	"fmt"
)

// Strategy selects how a similar pair is consolidated.
type Strategy int

const (
	// StrategyMerge combines both memories into a new one and deletes the
	// originals.
	StrategyMerge Strategy = iota
	// StrategyUpdate refreshes the first memory's metadata from the second
	// and deletes the second.
	StrategyUpdate
	// StrategyLink records the second memory as related to the first.
	StrategyLink
	// StrategyArchive flags the second memory as archived.
	StrategyArchive
)

func (s Strategy) String() string {
	switch s {
	case StrategyUpdate:
		return "update"
	case StrategyLink:
		return "link"
	case StrategyArchive:
		return "archive"
	}
	return "merge"
}

// Pair is two memories whose similarity crossed the consolidation
// threshold.
type Pair struct {
	ID1        string
	ID2        string
	Similarity float64
}

// consolidationNeighbors caps the self-search fan-out per memory.
const consolidationNeighbors = 10

// pairSimilarity converts a distance to similarity per metric. Cosine
// distance inverts directly; euclidean shrinks with distance; dot product
// is already a similarity (the search negation is undone).
func pairSimilarity(distance float64, dist DistanceType) float64 {
	switch dist {
	case DistanceCosine:
		return 1.0 - distance
	case DistanceEuclidean:
		return 1.0 / (1.0 + distance)
	case DistanceDotProduct:
		return -distance
	default:
		return 1.0 - distance/2.0
	}
}

// FindSimilarPairs scans every memory, searches its cosine neighborhood
// (k=10), and collects unordered pairs whose similarity meets the
// threshold. Each pair appears once regardless of direction.
func (l *Layer) FindSimilarPairs(ctx context.Context, threshold float64, maxPairs int) ([]Pair, error) {
	if maxPairs <= 0 {
		maxPairs = 100
	}

	var records []Record
	err := l.db.Iterate(ctx, func(rec Record) bool {
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var pairs []Pair
	for _, rec := range records {
		if len(pairs) >= maxPairs {
			break
		}
		id1 := stringFromAny(rec.Metadata[keyMemoryID])
		if id1 == "" {
			id1 = rec.ID
		}

		neighbors, err := l.db.Search(ctx, rec.Vector, consolidationNeighbors, DistanceCosine)
		if err != nil {
			l.logf("memory: consolidation search for %s: %v", id1, err)
			continue
		}
		for _, n := range neighbors {
			if len(pairs) >= maxPairs {
				break
			}
			id2 := stringFromAny(n.Metadata[keyMemoryID])
			if id2 == "" {
				id2 = n.ID
			}
			if id2 == id1 {
				continue
			}
			sim := pairSimilarity(n.Distance, DistanceCosine)
			if sim < threshold {
				continue
			}
			key := id1 + "\x00" + id2
			if id2 < id1 {
				key = id2 + "\x00" + id1
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			pairs = append(pairs, Pair{ID1: id1, ID2: id2, Similarity: sim})
		}
	}
	return pairs, nil
}

// ConsolidatePair applies one strategy to a pair and returns the id of
// the surviving memory (the new id for merges).
func (l *Layer) ConsolidatePair(ctx context.Context, id1, id2 string, strategy Strategy) (string, error) {
	switch strategy {
	case StrategyMerge:
		return l.Merge(ctx, id1, id2)
	case StrategyUpdate:
		if err := l.UpdateFromNew(ctx, id1, id2); err != nil {
			return "", err
		}
		return id1, nil
	case StrategyLink:
		if err := l.LinkRelated(ctx, id1, id2); err != nil {
			return "", err
		}
		return id1, nil
	case StrategyArchive:
		if err := l.Archive(ctx, id2); err != nil {
			return "", err
		}
		return id1, nil
	}
	return "", fmt.Errorf("memory: unknown consolidation strategy %d", strategy)
}

// Consolidate finds similar pairs at the threshold and applies the
// strategy to each, skipping pairs whose members were consumed by an
// earlier merge. It returns the number of pairs consolidated.
func (l *Layer) Consolidate(ctx context.Context, threshold float64, strategy Strategy) (int, error) {
	if threshold <= 0 {
		threshold = l.cfg.ConsolidationThreshold
	}
	pairs, err := l.FindSimilarPairs(ctx, threshold, 100)
	if err != nil {
		return 0, err
	}

	consumed := make(map[string]bool)
	count := 0
	for _, pair := range pairs {
		if consumed[pair.ID1] || consumed[pair.ID2] {
			continue
		}
		if _, err := l.ConsolidatePair(ctx, pair.ID1, pair.ID2, strategy); err != nil {
			l.logf("memory: consolidate %s/%s: %v", pair.ID1, pair.ID2, err)
			continue
		}
		if strategy == StrategyMerge {
			consumed[pair.ID1] = true
			consumed[pair.ID2] = true
		} else if strategy == StrategyUpdate {
			consumed[pair.ID2] = true
		}
		count++
	}
	return count, nil
}

// Merge joins two memories into a new one: contents joined with ". ",
// importance averaged, type taken from the first, consolidated flag set.
// The merged vector is the constant 0.5 embedding, a neutral placeholder
// re-embedded on the next update. Both originals are deleted.
func (l *Layer) Merge(ctx context.Context, id1, id2 string) (string, error) {
	mem1, err := l.Get(ctx, id1)
	if err != nil {
		return "", err
	}
	mem2, err := l.Get(ctx, id2)
	if err != nil {
		return "", err
	}

	content := mem1.Content
	if content != "" && mem2.Content != "" {
		content += ". "
	}
	content += mem2.Content

	vec := make([]float32, l.db.Dimension())
	for i := range vec {
		vec[i] = 0.5
	}

	newID, err := l.Add(ctx, content, vec, AddOptions{
		Type:         mem1.Type,
		Importance:   (mem1.Importance + mem2.Importance) / 2.0,
		Consolidated: true,
	})
	if err != nil {
		return "", err
	}

	if err := l.Delete(ctx, id1); err != nil {
		l.logf("memory: delete merged original %s: %v", id1, err)
	}
	if err := l.Delete(ctx, id2); err != nil {
		l.logf("memory: delete merged original %s: %v", id2, err)
	}
	l.metrics.IncConsolidated()
	return newID, nil
}

// UpdateFromNew overwrites the existing memory's metadata with the new
// memory's, stamps the current time, and deletes the new memory. Content
// and embedding of the existing memory are untouched.
func (l *Layer) UpdateFromNew(ctx context.Context, existingID, newID string) error {
	l.mu.Lock()
	rec, err := l.db.Get(ctx, existingID)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	newRec, err := l.db.Get(ctx, newID)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	existing := decodeMemory(rec)
	incoming := decodeMemory(newRec)
	incoming.ID = existing.ID
	incoming.Content = existing.Content
	incoming.CreatedAt = l.clock().UTC()

	if err := l.db.UpdateMetadata(ctx, existingID, encodeMetadata(incoming)); err != nil {
		l.mu.Unlock()
		return err
	}
	err = l.db.Delete(ctx, newID)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	l.metrics.IncConsolidated()
	return nil
}

// LinkRelated appends id2 to id1's related-memory list.
func (l *Layer) LinkRelated(ctx context.Context, id1, id2 string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.db.Get(ctx, id1)
	if err != nil {
		return err
	}
	if _, err := l.db.Get(ctx, id2); err != nil {
		return err
	}

	mem := decodeMemory(rec)
	for _, existing := range mem.RelatedIDs {
		if existing == id2 {
			return nil
		}
	}
	mem.RelatedIDs = append(mem.RelatedIDs, id2)

	meta := cloneMetadata(rec.Metadata)
	meta[keyRelatedIDs] = serializeRelatedIDs(mem.RelatedIDs)
	if err := l.db.UpdateMetadata(ctx, id1, meta); err != nil {
		return err
	}
	l.metrics.IncConsolidated()
	return nil
}

// Archive flags a memory as archived without removing it.
func (l *Layer) Archive(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.db.Get(ctx, id)
	if err != nil {
		return err
	}
	meta := cloneMetadata(rec.Metadata)
	meta[keyArchived] = true
	if err := l.db.UpdateMetadata(ctx, id, meta); err != nil {
		return err
	}
	l.metrics.IncConsolidated()
	return nil
}
