// Package contextgraph maintains a lightweight entity/relationship graph
// scoped per user, agent, and run. Entities are mined from conversation
// text, embedded, and queried by similarity; relationships connect them
// into traversable context.
package contextgraph

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Protocol-Lattice/go-memory/pkg/embed"
	"github.com/Protocol-Lattice/go-memory/pkg/knowledge"
	"github.com/Protocol-Lattice/go-memory/pkg/models"
)

// EntityType classifies a graph entity.
type EntityType int

const (
	EntityPerson EntityType = iota
	EntityOrganization
	EntityLocation
	EntityEvent
	EntityObject
	EntityConcept
	EntityUser
)

var entityTypeNames = [...]string{
	"person", "organization", "location", "event", "object", "concept", "user",
}

func (t EntityType) String() string {
	if t < 0 || int(t) >= len(entityTypeNames) {
		return "person"
	}
	return entityTypeNames[t]
}

// ParseEntityType maps a type string to the enum. Unknown strings map to
// EntityPerson.
func ParseEntityType(s string) EntityType {
	for i, name := range entityTypeNames {
		if s == name {
			return EntityType(i)
		}
	}
	return EntityPerson
}

// Scope narrows graph operations to a user, agent, and run. Empty fields
// match everything.
type Scope struct {
	UserID  string
	AgentID string
	RunID   string
}

func (s Scope) matches(e *Entity) bool {
	if s.UserID != "" && e.UserID != s.UserID {
		return false
	}
	if s.AgentID != "" && e.AgentID != s.AgentID {
		return false
	}
	if s.RunID != "" && e.RunID != s.RunID {
		return false
	}
	return true
}

// Entity is a named node in the context graph.
type Entity struct {
	ID        string
	Name      string
	Type      EntityType
	Embedding []float32
	UserID    string
	AgentID   string
	RunID     string
	Mentions  int
	Created   time.Time
	Updated   time.Time
}

// Relationship is a typed directed edge between two entities.
type Relationship struct {
	ID            string
	SourceID      string
	DestinationID string
	Type          string
	Mentions      int
	Created       time.Time
	Updated       time.Time
}

// QueryResult is one (source, relationship, destination) tuple with the
// similarity that surfaced it.
type QueryResult struct {
	SourceName       string
	RelationshipType string
	DestinationName  string
	Similarity       float64
}

// Config tunes the graph.
type Config struct {
	SimilarityThreshold          float64
	MaxTraversalDepth            int
	MaxResults                   int
	EnableEntityExtraction       bool
	EnableRelationshipExtraction bool
}

// DefaultConfig mirrors the graph's standard tuning: similarity 0.7, depth
// 3, at most 100 results, extraction on.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:          0.7,
		MaxTraversalDepth:            3,
		MaxResults:                   100,
		EnableEntityExtraction:       true,
		EnableRelationshipExtraction: true,
	}
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.MaxTraversalDepth <= 0 {
		c.MaxTraversalDepth = 3
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 100
	}
	return c
}

// Graph is a mutex-guarded context graph. Entities and relationships keep
// insertion order so queries are deterministic.
type Graph struct {
	mu  sync.Mutex
	cfg Config

	entities      map[string]*Entity
	entityOrder   []string
	relationships map[string]*Relationship
	relOrder      []string

	nextEntityID       uint64
	nextRelationshipID uint64

	llm      models.LLM
	embedder embed.Embedder
	logger   *log.Logger
	clock    func() time.Time
}

// NewGraph builds an empty graph with the given config.
func NewGraph(cfg Config) *Graph {
	return &Graph{
		cfg:                cfg.withDefaults(),
		entities:           make(map[string]*Entity),
		relationships:      make(map[string]*Relationship),
		nextEntityID:       1,
		nextRelationshipID: 1,
		clock:              time.Now,
	}
}

// WithLLM sets the extraction model.
func (g *Graph) WithLLM(llm models.LLM) *Graph {
	g.llm = llm
	return g
}

// WithEmbedder sets the embedding provider used for entity names.
func (g *Graph) WithEmbedder(e embed.Embedder) *Graph {
	g.embedder = e
	return g
}

// WithLogger sets an optional logger.
func (g *Graph) WithLogger(logger *log.Logger) *Graph {
	g.logger = logger
	return g
}

// WithClock overrides the time source, mainly for tests.
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

// UpsertEntities adds or refreshes entities. An entity matches an existing
// one by (name, user id); matches bump the mention count and the update
// time, and adopt a fresh embedding when one is supplied. New entities get
// an ent_<n> id and, if no embedding was supplied, are embedded by name.
func (g *Graph) UpsertEntities(ctx context.Context, entities []Entity) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(entities))
	for _, in := range entities {
		if in.Name == "" {
			continue
		}
		if existing := g.findByNameLocked(in.Name, in.UserID); existing != nil {
			existing.Mentions++
			existing.Updated = g.clock()
			if len(in.Embedding) > 0 {
				existing.Embedding = append([]float32(nil), in.Embedding...)
			}
			ids = append(ids, existing.ID)
			continue
		}

		ent := &Entity{
			ID:       fmt.Sprintf("ent_%d", g.nextEntityID),
			Name:     in.Name,
			Type:     in.Type,
			UserID:   in.UserID,
			AgentID:  in.AgentID,
			RunID:    in.RunID,
			Mentions: 1,
			Created:  g.clock(),
			Updated:  g.clock(),
		}
		g.nextEntityID++
		if len(in.Embedding) > 0 {
			ent.Embedding = append([]float32(nil), in.Embedding...)
		} else if g.embedder != nil {
			if vec, err := g.embedder.Embed(ctx, ent.Name); err == nil {
				ent.Embedding = vec
			} else {
				g.logf("contextgraph: embed %q: %v", ent.Name, err)
			}
		}
		g.entities[ent.ID] = ent
		g.entityOrder = append(g.entityOrder, ent.ID)
		ids = append(ids, ent.ID)
	}
	return ids
}

// UpsertRelationships adds or refreshes directed edges. An edge matches by
// (source, destination, type); matches bump mentions and the update time.
func (g *Graph) UpsertRelationships(relationships []Relationship) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(relationships))
	for _, in := range relationships {
		if in.SourceID == "" || in.DestinationID == "" || in.Type == "" {
			continue
		}
		if existing := g.findRelationshipLocked(in.SourceID, in.DestinationID, in.Type); existing != nil {
			existing.Mentions++
			existing.Updated = g.clock()
			ids = append(ids, existing.ID)
			continue
		}
		rel := &Relationship{
			ID:            fmt.Sprintf("rel_%d", g.nextRelationshipID),
			SourceID:      in.SourceID,
			DestinationID: in.DestinationID,
			Type:          in.Type,
			Mentions:      1,
			Created:       g.clock(),
			Updated:       g.clock(),
		}
		g.nextRelationshipID++
		g.relationships[rel.ID] = rel
		g.relOrder = append(g.relOrder, rel.ID)
		ids = append(ids, rel.ID)
	}
	return ids
}

func (g *Graph) findByNameLocked(name, userID string) *Entity {
	for _, id := range g.entityOrder {
		ent := g.entities[id]
		if ent == nil || ent.Name != name {
			continue
		}
		if userID == "" || ent.UserID == "" || ent.UserID == userID {
			return ent
		}
	}
	return nil
}

func (g *Graph) findRelationshipLocked(source, dest, relType string) *Relationship {
	for _, id := range g.relOrder {
		rel := g.relationships[id]
		if rel != nil && rel.SourceID == source && rel.DestinationID == dest && rel.Type == relType {
			return rel
		}
	}
	return nil
}

// FindEntity returns a copy of the first entity with the given name inside
// the scope.
func (g *Graph) FindEntity(name string, scope Scope) (Entity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range g.entityOrder {
		ent := g.entities[id]
		if ent == nil || ent.Name != name || !scope.matches(ent) {
			continue
		}
		return *ent, true
	}
	return Entity{}, false
}

// GetEntity returns a copy of the entity with the given id.
func (g *Graph) GetEntity(id string) (Entity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ent, ok := g.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *ent, true
}

// Search embeds nothing itself: callers supply the query embedding. Every
// scoped entity whose cosine similarity meets the threshold contributes its
// outgoing relationships as (source, type, destination) tuples.
func (g *Graph) Search(queryEmbedding []float32, scope Scope) []QueryResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	var results []QueryResult
	for _, id := range g.entityOrder {
		if len(results) >= g.cfg.MaxResults {
			break
		}
		ent := g.entities[id]
		if ent == nil || !scope.matches(ent) || len(ent.Embedding) == 0 {
			continue
		}
		if len(ent.Embedding) != len(queryEmbedding) {
			continue
		}
		similarity := knowledge.CosineSimilarity(queryEmbedding, ent.Embedding)
		if similarity < g.cfg.SimilarityThreshold {
			continue
		}
		for _, rid := range g.relOrder {
			if len(results) >= g.cfg.MaxResults {
				break
			}
			rel := g.relationships[rid]
			if rel == nil || rel.SourceID != ent.ID {
				continue
			}
			dest, ok := g.entities[rel.DestinationID]
			if !ok {
				continue
			}
			results = append(results, QueryResult{
				SourceName:       ent.Name,
				RelationshipType: rel.Type,
				DestinationName:  dest.Name,
				Similarity:       similarity,
			})
		}
	}
	return results
}

// SearchText embeds the query with the configured embedder and searches.
func (g *Graph) SearchText(ctx context.Context, query string, scope Scope) ([]QueryResult, error) {
	if g.embedder == nil {
		return nil, fmt.Errorf("contextgraph: no embedder configured")
	}
	vec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return g.Search(vec, scope), nil
}

// relationshipsOfLocked returns edges touching the entity, outgoing first.
func (g *Graph) relationshipsOfLocked(entityID string) []*Relationship {
	var out []*Relationship
	for _, rid := range g.relOrder {
		rel := g.relationships[rid]
		if rel != nil && rel.SourceID == entityID {
			out = append(out, rel)
		}
	}
	for _, rid := range g.relOrder {
		rel := g.relationships[rid]
		if rel != nil && rel.DestinationID == entityID && rel.SourceID != entityID {
			out = append(out, rel)
		}
	}
	return out
}

// GetRelated walks the graph breadth-first from the entity up to maxDepth
// hops and reports every traversed edge. Similarity decays with distance as
// 1/(depth+1).
func (g *Graph) GetRelated(entityID string, maxDepth int) []QueryResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[entityID]; !ok {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = g.cfg.MaxTraversalDepth
	}

	type item struct {
		id    string
		depth int
	}
	visited := map[string]struct{}{entityID: {}}
	queue := []item{{id: entityID, depth: 0}}
	var results []QueryResult

	for len(queue) > 0 && len(results) < g.cfg.MaxResults {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, rel := range g.relationshipsOfLocked(cur.id) {
			if len(results) >= g.cfg.MaxResults {
				break
			}
			nextID := rel.DestinationID
			if nextID == cur.id {
				nextID = rel.SourceID
			}
			source, okS := g.entities[rel.SourceID]
			dest, okD := g.entities[rel.DestinationID]
			if !okS || !okD {
				continue
			}
			results = append(results, QueryResult{
				SourceName:       source.Name,
				RelationshipType: rel.Type,
				DestinationName:  dest.Name,
				Similarity:       1.0 / float64(cur.depth+1),
			})
			if _, seen := visited[nextID]; !seen && cur.depth+1 < maxDepth {
				visited[nextID] = struct{}{}
				queue = append(queue, item{id: nextID, depth: cur.depth + 1})
			}
		}
	}
	return results
}

// DeleteEntities removes entities by id. Relationships referencing them are
// left in place and skipped by queries, matching the storage model where
// edges are pruned lazily.
func (g *Graph) DeleteEntities(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		if _, ok := g.entities[id]; !ok {
			continue
		}
		delete(g.entities, id)
		g.entityOrder = removeString(g.entityOrder, id)
	}
}

// DeleteRelationships removes edges by id.
func (g *Graph) DeleteRelationships(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		if _, ok := g.relationships[id]; !ok {
			continue
		}
		delete(g.relationships, id)
		g.relOrder = removeString(g.relOrder, id)
	}
}

// Counts reports the number of entities and relationships.
func (g *Graph) Counts() (entities, relationships int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entities), len(g.relationships)
}

// Entities returns a copy of every entity in insertion order.
func (g *Graph) Entities() []Entity {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Entity, 0, len(g.entityOrder))
	for _, id := range g.entityOrder {
		if ent, ok := g.entities[id]; ok {
			cp := *ent
			cp.Embedding = append([]float32(nil), ent.Embedding...)
			out = append(out, cp)
		}
	}
	return out
}

// Relationships returns a copy of every edge in insertion order.
func (g *Graph) Relationships() []Relationship {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Relationship, 0, len(g.relOrder))
	for _, id := range g.relOrder {
		if rel, ok := g.relationships[id]; ok {
			out = append(out, *rel)
		}
	}
	return out
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
