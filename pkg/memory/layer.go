// Package memory is a vector-database-backed memory layer for agents:
// memories are stored with rich metadata, retrieved with importance-aware
// reranking, linked into typed webs, consolidated when near-duplicates
// accumulate, and extracted from raw conversation text.
package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Protocol-Lattice/go-memory/pkg/contextgraph"
	"github.com/Protocol-Lattice/go-memory/pkg/embed"
	"github.com/Protocol-Lattice/go-memory/pkg/importance"
	"github.com/Protocol-Lattice/go-memory/pkg/models"
)

// searchSimilarityWeight blends similarity against importance when
// reranking plain search results: 60% similarity, 40% importance.
const searchSimilarityWeight = 0.6

// Config tunes the layer.
type Config struct {
	DistanceType            DistanceType
	ExtractionThreshold     float64
	ConsolidationThreshold  float64
	DefaultStrategy         Strategy
	EnableTemporalWeighting bool
	MaxRelatedMemories      int
}

// DefaultConfig is the standard tuning: cosine distance, extraction
// threshold 0.5, consolidation threshold 0.85, merge strategy, temporal
// weighting on.
func DefaultConfig() Config {
	return Config{
		DistanceType:            DistanceCosine,
		ExtractionThreshold:     0.5,
		ConsolidationThreshold:  0.85,
		DefaultStrategy:         StrategyMerge,
		EnableTemporalWeighting: true,
		MaxRelatedMemories:      5,
	}
}

func (c Config) withDefaults() Config {
	if c.ExtractionThreshold <= 0 {
		c.ExtractionThreshold = 0.5
	}
	if c.ConsolidationThreshold <= 0 {
		c.ConsolidationThreshold = 0.85
	}
	if c.MaxRelatedMemories <= 0 {
		c.MaxRelatedMemories = 5
	}
	return c
}

// Layer coordinates a VectorDB with scoring, linking, consolidation, and
// extraction. All mutating operations serialize on one mutex.
type Layer struct {
	mu  sync.Mutex
	db  VectorDB
	cfg Config

	scorer   importance.Config
	embedder embed.Embedder
	llm      models.LLM
	graph    *contextgraph.Graph

	metrics *Metrics
	logger  *log.Logger
	clock   func() time.Time
	nextID  uint64
}

// NewLayer builds a memory layer over the given database.
func NewLayer(db VectorDB, cfg Config) *Layer {
	return &Layer{
		db:      db,
		cfg:     cfg.withDefaults(),
		scorer:  importance.DefaultConfig(),
		metrics: &Metrics{},
		clock:   time.Now,
	}
}

// WithEmbedder sets the embedding provider used by AddText and extraction.
func (l *Layer) WithEmbedder(e embed.Embedder) *Layer {
	l.embedder = e
	return l
}

// WithLLM sets the model used for fact extraction.
func (l *Layer) WithLLM(llm models.LLM) *Layer {
	l.llm = llm
	return l
}

// WithContextGraph attaches a context graph that extraction feeds.
func (l *Layer) WithContextGraph(g *contextgraph.Graph) *Layer {
	l.graph = g
	return l
}

// WithScorer overrides the importance configuration.
func (l *Layer) WithScorer(cfg importance.Config) *Layer {
	l.scorer = cfg
	return l
}

// WithLogger sets an optional logger.
func (l *Layer) WithLogger(logger *log.Logger) *Layer {
	l.logger = logger
	return l
}

// WithClock overrides the time source, mainly for tests.
func (l *Layer) WithClock(clock func() time.Time) *Layer {
	if clock != nil {
		l.clock = clock
	}
	return l
}

func (l *Layer) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

// Metrics exposes the layer's counters.
func (l *Layer) Metrics() *Metrics { return l.metrics }

// DB exposes the underlying vector database.
func (l *Layer) DB() VectorDB { return l.db }

// AddOptions carries the optional metadata for a new memory. A zero
// Importance means "score the content".
type AddOptions struct {
	Type              MemoryType
	Importance        float64
	Source            string
	ExtractionContext string
	Consolidated      bool
}

// Add stores a memory and returns its id (mem_<n>). Ids are minted from a
// monotonically increasing counter under the layer mutex.
func (l *Layer) Add(ctx context.Context, content string, embedding []float32, opts AddOptions) (string, error) {
	if content == "" {
		return "", fmt.Errorf("memory: content must be non-empty")
	}
	if len(embedding) != l.db.Dimension() {
		return "", ErrDimensionMismatch
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := fmt.Sprintf("mem_%d", l.nextID)

	imp := opts.Importance
	if imp == 0 {
		imp = importance.ScoreContent(content)
	}
	mem := Memory{
		ID:                id,
		Content:           content,
		Type:              opts.Type,
		Importance:        imp,
		Consolidated:      opts.Consolidated,
		CreatedAt:         l.clock().UTC(),
		Source:            opts.Source,
		ExtractionContext: opts.ExtractionContext,
	}
	if err := l.db.Add(ctx, id, embedding, encodeMetadata(mem)); err != nil {
		return "", err
	}
	l.metrics.IncAdded()
	return id, nil
}

// AddText embeds content with the configured embedder and stores it.
func (l *Layer) AddText(ctx context.Context, content string, opts AddOptions) (string, error) {
	if l.embedder == nil {
		return "", fmt.Errorf("memory: no embedder configured")
	}
	vec, err := l.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("memory: embed content: %w", err)
	}
	return l.Add(ctx, content, vec, opts)
}

// Get fetches one memory by id.
func (l *Layer) Get(ctx context.Context, id string) (Memory, error) {
	rec, err := l.db.Get(ctx, id)
	if err != nil {
		return Memory{}, err
	}
	return decodeMemory(rec), nil
}

// Update replaces a memory's content and embedding in place. Metadata is
// preserved apart from the refreshed content and timestamp.
func (l *Layer) Update(ctx context.Context, id, content string, embedding []float32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.db.Get(ctx, id)
	if err != nil {
		return err
	}
	mem := decodeMemory(rec)
	if content != "" {
		mem.Content = content
	}
	mem.CreatedAt = l.clock().UTC()
	vec := embedding
	if vec == nil {
		vec = rec.Vector
	}
	return l.db.Add(ctx, id, vec, encodeMetadata(mem))
}

// Delete removes a memory.
func (l *Layer) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Delete(ctx, id)
}

// Count reports the number of stored memories.
func (l *Layer) Count(ctx context.Context) (int, error) {
	return l.db.Count(ctx)
}

// oversample widens k for reranking: 3k clamped to [10, 100].
func oversample(k int) int {
	fetch := k * 3
	if fetch < 10 {
		fetch = 10
	}
	if fetch > 100 {
		fetch = 100
	}
	return fetch
}

// similarityFromDistance maps any metric's distance into [0, 1] the way
// search scoring expects: 1 - d/2, floored at zero.
func similarityFromDistance(distance float64) float64 {
	sim := 1.0 - distance/2.0
	if sim < 0 {
		sim = 0
	}
	return sim
}

// Search retrieves the top-k memories for a query embedding. Candidates
// are oversampled, scored for importance, and reranked at 60% similarity /
// 40% importance; Relevance carries the blended score.
func (l *Layer) Search(ctx context.Context, query []float32, k int) ([]Memory, error) {
	if k <= 0 {
		return nil, nil
	}
	results, err := l.db.Search(ctx, query, oversample(k), l.cfg.DistanceType)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	now := l.clock().UTC()
	memories := make([]Memory, len(results))
	contexts := make([]importance.Context, len(results))
	for i, res := range results {
		mem := decodeMemory(res.Record)
		mem.Distance = res.Distance
		memories[i] = mem
		contexts[i] = importance.Context{
			Content:            mem.Content,
			CreatedAt:          mem.CreatedAt,
			Now:                now,
			SemanticSimilarity: similarityFromDistance(res.Distance),
		}
	}

	scorer := l.scorer
	if !l.cfg.EnableTemporalWeighting {
		scorer.Weights.Temporal = 0
	}
	indices, scores := scorer.Rerank(contexts, searchSimilarityWeight)

	if k > len(indices) {
		k = len(indices)
	}
	out := make([]Memory, k)
	for i := 0; i < k; i++ {
		src := indices[i]
		mem := memories[src]
		mem.Relevance = searchSimilarityWeight*contexts[src].SemanticSimilarity +
			(1-searchSimilarityWeight)*scores[src].FinalScore
		out[i] = mem
	}
	l.metrics.IncSearched(len(out))
	return out, nil
}

// SearchText embeds the query with the configured embedder and searches.
func (l *Layer) SearchText(ctx context.Context, query string, k int) ([]Memory, error) {
	if l.embedder == nil {
		return nil, fmt.Errorf("memory: no embedder configured")
	}
	vec, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	return l.Search(ctx, vec, k)
}

// SearchOptions tunes AdvancedSearch. The zero value is not useful; start
// from DefaultSearchOptions.
type SearchOptions struct {
	TemporalWeight   float64 // 0 = pure semantic, 1 = pure recency
	ImportanceWeight float64 // weight of importance in the final blend
	MinTime          time.Time
	MaxTime          time.Time
	Type             MemoryType // TypeAny disables type filtering
	Source           string     // empty disables source filtering
}

// DefaultSearchOptions is pure-semantic scoring with a 40% importance
// blend and no filters.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		TemporalWeight:   0,
		ImportanceWeight: 0.4,
		Type:             TypeAny,
	}
}

// temporalBlend folds recency into a semantic score:
// combined = semantic*(1-w) + exp(-daysAgo/7)*w.
func temporalBlend(semantic float64, created, now time.Time, weight float64) float64 {
	if weight <= 0 || created.IsZero() {
		return semantic
	}
	days := now.Sub(created).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	recency := math.Exp(-days / 7.0)
	if recency > 1 {
		recency = 1
	}
	return semantic*(1.0-weight) + recency*weight
}

// AdvancedSearch retrieves top-k memories with temporal blending, metadata
// filtering, and a configurable importance weight. The final Relevance is
// (1-iw)*blended + iw*importance.
func (l *Layer) AdvancedSearch(ctx context.Context, query []float32, k int, opts SearchOptions) ([]Memory, error) {
	if k <= 0 {
		return nil, nil
	}

	filter := Filter{}
	if opts.Type != TypeAny {
		filter[keyMemoryType] = int(opts.Type)
	}
	if opts.Source != "" {
		filter[keySource] = opts.Source
	}

	var results []SearchResult
	var err error
	if len(filter) > 0 {
		results, err = l.db.SearchFiltered(ctx, query, oversample(k), l.cfg.DistanceType, filter)
	} else {
		results, err = l.db.Search(ctx, query, oversample(k), l.cfg.DistanceType)
	}
	if err != nil {
		return nil, err
	}

	now := l.clock().UTC()
	var memories []Memory
	var contexts []importance.Context
	for _, res := range results {
		mem := decodeMemory(res.Record)
		if !opts.MinTime.IsZero() && mem.CreatedAt.Before(opts.MinTime) {
			continue
		}
		if !opts.MaxTime.IsZero() && mem.CreatedAt.After(opts.MaxTime) {
			continue
		}
		mem.Distance = res.Distance
		semantic := similarityFromDistance(res.Distance)
		mem.Relevance = temporalBlend(semantic, mem.CreatedAt, now, opts.TemporalWeight)
		memories = append(memories, mem)
		contexts = append(contexts, importance.Context{
			Content:            mem.Content,
			CreatedAt:          mem.CreatedAt,
			Now:                now,
			RelationshipCount:  len(mem.Links),
			IncomingLinks:      len(mem.Links) / 2,
			OutgoingLinks:      len(mem.Links) - len(mem.Links)/2,
			SemanticSimilarity: semantic,
		})
	}
	if len(memories) == 0 {
		return nil, nil
	}

	scorer := l.scorer
	if !l.cfg.EnableTemporalWeighting {
		scorer.Weights.Temporal = 0
	}
	combined := make([]float64, len(memories))
	for i := range memories {
		res := scorer.Calculate(contexts[i])
		combined[i] = (1.0-opts.ImportanceWeight)*memories[i].Relevance +
			opts.ImportanceWeight*res.FinalScore
	}

	order := make([]int, len(memories))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return combined[order[a]] > combined[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}
	out := make([]Memory, k)
	for i := 0; i < k; i++ {
		src := order[i]
		mem := memories[src]
		mem.Relevance = combined[src]
		out[i] = mem
	}
	l.metrics.IncSearched(len(out))
	return out, nil
}

// FilteredSearch retrieves top-k memories constrained by type, source, and
// creation-time window, scored by plain similarity.
func (l *Layer) FilteredSearch(ctx context.Context, query []float32, k int, memType MemoryType, source string, minTime, maxTime time.Time) ([]Memory, error) {
	if k <= 0 {
		return nil, nil
	}

	filter := Filter{}
	if memType != TypeAny {
		filter[keyMemoryType] = int(memType)
	}
	if source != "" {
		filter[keySource] = source
	}

	var results []SearchResult
	var err error
	if len(filter) > 0 {
		results, err = l.db.SearchFiltered(ctx, query, oversample(k), l.cfg.DistanceType, filter)
	} else {
		results, err = l.db.Search(ctx, query, oversample(k), l.cfg.DistanceType)
	}
	if err != nil {
		return nil, err
	}

	var out []Memory
	for _, res := range results {
		mem := decodeMemory(res.Record)
		if !minTime.IsZero() && mem.CreatedAt.Before(minTime) {
			continue
		}
		if !maxTime.IsZero() && mem.CreatedAt.After(maxTime) {
			continue
		}
		mem.Distance = res.Distance
		mem.Relevance = similarityFromDistance(res.Distance)
		out = append(out, mem)
		if len(out) == k {
			break
		}
	}
	l.metrics.IncSearched(len(out))
	return out, nil
}

// GetRelated fetches the memories named by a memory's related ids,
// skipping ids that no longer resolve. At most MaxRelatedMemories are
// returned.
func (l *Layer) GetRelated(ctx context.Context, id string) ([]Memory, error) {
	rec, err := l.db.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mem := decodeMemory(rec)

	var out []Memory
	for _, relID := range mem.RelatedIDs {
		if len(out) == l.cfg.MaxRelatedMemories {
			break
		}
		relRec, err := l.db.Get(ctx, relID)
		if err != nil {
			l.logf("memory: related id %s unresolved: %v", relID, err)
			continue
		}
		out = append(out, decodeMemory(relRec))
	}
	return out, nil
}

// RecordAccess bumps a memory's access count and last-accessed time. The
// relevance of the access feeds spaced-repetition scoring upstream but is
// not persisted per event.
func (l *Layer) RecordAccess(ctx context.Context, id string, relevance float64) error {
	_ = relevance

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.db.Get(ctx, id)
	if err != nil {
		return err
	}
	meta := cloneMetadata(rec.Metadata)
	meta[keyAccessCount] = intFromAny(meta[keyAccessCount]) + 1
	meta[keyLastAccessed] = l.clock().Unix()
	return l.db.UpdateMetadata(ctx, id, meta)
}
