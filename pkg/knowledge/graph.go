// Package knowledge implements a typed property knowledge graph with
// Subject-Predicate-Object indexing, embedding search, entity resolution,
// traversal and binary persistence.
package knowledge

import (
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"
)

var (
	// ErrAtCapacity is returned when the configured entity limit is reached.
	ErrAtCapacity = errors.New("knowledge graph at entity capacity")
	// ErrDimensionMismatch is returned when an embedding does not match the
	// configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrMissingEndpoint is returned when a relation references an unknown
	// entity.
	ErrMissingEndpoint = errors.New("relation endpoint does not exist")
)

// Config configures a Graph. Zero values fall back to DefaultConfig.
type Config struct {
	EmbeddingDim            int
	SimilarityThreshold     float64
	LinkPredictionThreshold float64
	MaxEntities             int
}

// DefaultConfig returns the recommended graph defaults.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim:            768,
		SimilarityThreshold:     0.85,
		LinkPredictionThreshold: 0.6,
		MaxEntities:             1_000_000,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = defaults.EmbeddingDim
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if c.LinkPredictionThreshold == 0 {
		c.LinkPredictionThreshold = defaults.LinkPredictionThreshold
	}
	if c.MaxEntities == 0 {
		c.MaxEntities = defaults.MaxEntities
	}
	return c
}

// Property is one key/value pair on an entity or relation. Properties keep
// insertion order so serialization is stable.
type Property struct {
	Key   string
	Value string
}

// Properties is a small ordered string mapping with unique keys.
type Properties []Property

// Get returns the value for key.
func (p Properties) Get(key string) (string, bool) {
	for _, prop := range p {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return "", false
}

// Set inserts or overwrites the value for key, preserving order.
func (p *Properties) Set(key, value string) {
	for i, prop := range *p {
		if prop.Key == key {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Property{Key: key, Value: value})
}

func (p Properties) clone() Properties {
	if len(p) == 0 {
		return nil
	}
	return append(Properties(nil), p...)
}

// Entity is a named, typed node with an optional embedding.
type Entity struct {
	ID         uint64
	Name       string
	Type       string
	Embedding  []float32
	Properties Properties
	CreatedAt  time.Time
	Confidence float32
}

// Relation is a directed, weighted edge between two entities.
type Relation struct {
	ID         uint64
	Subject    uint64
	Object     uint64
	Predicate  string
	Weight     float32
	Properties Properties
	CreatedAt  time.Time
}

// Triple is one Subject-Predicate-Object query result.
type Triple struct {
	SubjectID   uint64
	ObjectID    uint64
	SubjectName string
	Predicate   string
	ObjectName  string
	Weight      float32
}

// Stats summarizes the graph contents.
type Stats struct {
	EntityCount    int
	RelationCount  int
	TypeCount      int
	PredicateCount int
	EmbeddingCount int
}

// Graph is a thread-safe knowledge graph. A single readers-writer lock
// guards every structure; reads take the shared lock, mutations the
// exclusive one. Methods must not be called re-entrantly from callbacks.
type Graph struct {
	mu  sync.RWMutex
	cfg Config

	entities  map[uint64]*Entity
	relations map[uint64]*Relation

	// SPO indexes: three redundant views of the relation set, kept
	// consistent with it on every add and remove.
	subjectIndex   map[uint64][]uint64
	objectIndex    map[uint64][]uint64
	predicateIndex map[uint64][]uint64

	// Flat embedding arena with a parallel owner-id sequence. Swap-remove
	// keeps it compact on delete.
	embeddings   []float32
	embeddingIDs []uint64

	nextEntityID   uint64
	nextRelationID uint64

	logger *log.Logger
	clock  func() time.Time
}

// NewGraph constructs an empty graph.
func NewGraph(cfg Config) *Graph {
	return &Graph{
		cfg:            cfg.withDefaults(),
		entities:       make(map[uint64]*Entity),
		relations:      make(map[uint64]*Relation),
		subjectIndex:   make(map[uint64][]uint64),
		objectIndex:    make(map[uint64][]uint64),
		predicateIndex: make(map[uint64][]uint64),
		nextEntityID:   1,
		nextRelationID: 1,
		clock:          time.Now,
	}
}

// WithLogger overrides the default (silent) logger.
func (g *Graph) WithLogger(logger *log.Logger) *Graph {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// WithClock overrides the time source, for tests.
func (g *Graph) WithClock(clock func() time.Time) *Graph {
	if clock != nil {
		g.clock = clock
	}
	return g
}

func (g *Graph) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// Config returns the effective configuration.
func (g *Graph) Config() Config {
	return g.cfg
}

func predicateHash(predicate string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(predicate))
	return h.Sum64()
}

// AddEntity inserts a new entity and returns its id. The embedding is copied
// both into the entity and into the arena.
func (g *Graph) AddEntity(name, entityType string, embedding []float32, confidence float32) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEntityLocked(name, entityType, embedding, confidence)
}

func (g *Graph) addEntityLocked(name, entityType string, embedding []float32, confidence float32) (uint64, error) {
	if len(g.entities) >= g.cfg.MaxEntities {
		return 0, ErrAtCapacity
	}
	if len(embedding) > 0 && len(embedding) != g.cfg.EmbeddingDim {
		return 0, ErrDimensionMismatch
	}
	id := g.nextEntityID
	g.nextEntityID++
	ent := &Entity{
		ID:         id,
		Name:       name,
		Type:       entityType,
		CreatedAt:  g.clock().UTC(),
		Confidence: confidence,
	}
	if len(embedding) > 0 {
		ent.Embedding = append([]float32(nil), embedding...)
		g.embeddings = append(g.embeddings, embedding...)
		g.embeddingIDs = append(g.embeddingIDs, id)
	}
	g.entities[id] = ent
	return id, nil
}

// GetEntity returns a copy of the entity, so callers can hold it without the
// lock.
func (g *Graph) GetEntity(id uint64) (Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ent, ok := g.entities[id]
	if !ok {
		return Entity{}, false
	}
	return g.copyEntityLocked(ent), true
}

func (g *Graph) copyEntityLocked(ent *Entity) Entity {
	cp := *ent
	cp.Embedding = append([]float32(nil), ent.Embedding...)
	cp.Properties = ent.Properties.clone()
	return cp
}

// FindEntityByName returns the first entity with the exact name.
func (g *Graph) FindEntityByName(name string) (Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, ent := range g.entities {
		if ent.Name == name {
			return g.copyEntityLocked(ent), true
		}
	}
	return Entity{}, false
}

// SetEntityProperty sets a property on an entity.
func (g *Graph) SetEntityProperty(id uint64, key, value string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ent, ok := g.entities[id]
	if !ok {
		return false
	}
	ent.Properties.Set(key, value)
	return true
}

// RemoveEntity deletes the entity, every relation referencing it, and its
// arena slot.
func (g *Graph) RemoveEntity(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entities[id]; !ok {
		return false
	}
	// Collect referencing relations first; self-loops appear in both index
	// lists and must be removed once.
	seen := make(map[uint64]struct{})
	var doomed []uint64
	for _, rid := range g.subjectIndex[id] {
		if _, dup := seen[rid]; !dup {
			seen[rid] = struct{}{}
			doomed = append(doomed, rid)
		}
	}
	for _, rid := range g.objectIndex[id] {
		if _, dup := seen[rid]; !dup {
			seen[rid] = struct{}{}
			doomed = append(doomed, rid)
		}
	}
	for _, rid := range doomed {
		g.removeRelationLocked(rid)
	}
	g.removeEmbeddingLocked(id)
	delete(g.entities, id)
	return true
}

// removeEmbeddingLocked drops id's arena slot by swapping the last slot into
// its place.
func (g *Graph) removeEmbeddingLocked(id uint64) {
	dim := g.cfg.EmbeddingDim
	for i, owner := range g.embeddingIDs {
		if owner != id {
			continue
		}
		last := len(g.embeddingIDs) - 1
		if i != last {
			copy(g.embeddings[i*dim:(i+1)*dim], g.embeddings[last*dim:(last+1)*dim])
			g.embeddingIDs[i] = g.embeddingIDs[last]
		}
		g.embeddings = g.embeddings[:last*dim]
		g.embeddingIDs = g.embeddingIDs[:last]
		return
	}
}

// AddRelation inserts a directed edge; both endpoints must exist.
func (g *Graph) AddRelation(subject, object uint64, predicate string, weight float32) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addRelationLocked(subject, object, predicate, weight)
}

func (g *Graph) addRelationLocked(subject, object uint64, predicate string, weight float32) (uint64, error) {
	if _, ok := g.entities[subject]; !ok {
		return 0, ErrMissingEndpoint
	}
	if _, ok := g.entities[object]; !ok {
		return 0, ErrMissingEndpoint
	}
	id := g.nextRelationID
	g.nextRelationID++
	rel := &Relation{
		ID:        id,
		Subject:   subject,
		Object:    object,
		Predicate: predicate,
		Weight:    weight,
		CreatedAt: g.clock().UTC(),
	}
	g.relations[id] = rel
	g.subjectIndex[subject] = append(g.subjectIndex[subject], id)
	g.objectIndex[object] = append(g.objectIndex[object], id)
	ph := predicateHash(predicate)
	g.predicateIndex[ph] = append(g.predicateIndex[ph], id)
	return id, nil
}

// GetRelation returns a copy of the relation.
func (g *Graph) GetRelation(id uint64) (Relation, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rel, ok := g.relations[id]
	if !ok {
		return Relation{}, false
	}
	cp := *rel
	cp.Properties = rel.Properties.clone()
	return cp, true
}

// SetRelationProperty sets a property on a relation.
func (g *Graph) SetRelationProperty(id uint64, key, value string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rel, ok := g.relations[id]
	if !ok {
		return false
	}
	rel.Properties.Set(key, value)
	return true
}

// RemoveRelation deletes the relation and its three index entries.
func (g *Graph) RemoveRelation(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeRelationLocked(id)
}

func (g *Graph) removeRelationLocked(id uint64) bool {
	rel, ok := g.relations[id]
	if !ok {
		return false
	}
	g.subjectIndex[rel.Subject] = removeID(g.subjectIndex[rel.Subject], id)
	if len(g.subjectIndex[rel.Subject]) == 0 {
		delete(g.subjectIndex, rel.Subject)
	}
	g.objectIndex[rel.Object] = removeID(g.objectIndex[rel.Object], id)
	if len(g.objectIndex[rel.Object]) == 0 {
		delete(g.objectIndex, rel.Object)
	}
	ph := predicateHash(rel.Predicate)
	g.predicateIndex[ph] = removeID(g.predicateIndex[ph], id)
	if len(g.predicateIndex[ph]) == 0 {
		delete(g.predicateIndex, ph)
	}
	delete(g.relations, id)
	return true
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Query returns up to maxCount triples matching the given pattern. Zero
// subject/object and empty predicate act as wildcards. The most selective
// available index is used: subject, then object, then predicate, then a full
// scan; the remaining parameters post-filter the candidates.
func (g *Graph) Query(subject, object uint64, predicate string, maxCount int) []Triple {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if maxCount <= 0 {
		return nil
	}

	var candidates []uint64
	switch {
	case subject != 0:
		candidates = g.subjectIndex[subject]
	case object != 0:
		candidates = g.objectIndex[object]
	case predicate != "":
		candidates = g.predicateIndex[predicateHash(predicate)]
	default:
		candidates = make([]uint64, 0, len(g.relations))
		for id := range g.relations {
			candidates = append(candidates, id)
		}
	}

	var out []Triple
	for _, rid := range candidates {
		rel, ok := g.relations[rid]
		if !ok {
			continue
		}
		if subject != 0 && rel.Subject != subject {
			continue
		}
		if object != 0 && rel.Object != object {
			continue
		}
		// String compare defeats predicate hash collisions.
		if predicate != "" && rel.Predicate != predicate {
			continue
		}
		subjEnt, sok := g.entities[rel.Subject]
		objEnt, ook := g.entities[rel.Object]
		if !sok || !ook {
			continue
		}
		out = append(out, Triple{
			SubjectID:   rel.Subject,
			ObjectID:    rel.Object,
			SubjectName: subjEnt.Name,
			Predicate:   rel.Predicate,
			ObjectName:  objEnt.Name,
			Weight:      rel.Weight,
		})
		if len(out) >= maxCount {
			break
		}
	}
	return out
}

// Stats returns entity, relation, distinct-type, distinct-predicate and
// embedding counts.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	types := make(map[string]struct{})
	for _, ent := range g.entities {
		types[ent.Type] = struct{}{}
	}
	predicates := make(map[string]struct{})
	for _, rel := range g.relations {
		predicates[rel.Predicate] = struct{}{}
	}
	return Stats{
		EntityCount:    len(g.entities),
		RelationCount:  len(g.relations),
		TypeCount:      len(types),
		PredicateCount: len(predicates),
		EmbeddingCount: len(g.embeddingIDs),
	}
}

// DegreeCentrality returns (in+out)/(n-1) for the entity; 0 when the graph
// has one entity or fewer.
func (g *Graph) DegreeCentrality(id uint64) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := len(g.entities)
	if n <= 1 {
		return 0
	}
	if _, ok := g.entities[id]; !ok {
		return 0
	}
	degree := len(g.subjectIndex[id]) + len(g.objectIndex[id])
	return float64(degree) / float64(n-1)
}
