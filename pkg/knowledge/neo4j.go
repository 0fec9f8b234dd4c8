package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// graphDriver abstracts the Neo4j driver surface the mirror needs, so tests
// can provide lightweight fakes.
type graphDriver interface {
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
	ExecuteRead(ctx context.Context, query string, params map[string]any, collect func(record map[string]any) error) error
	Close(ctx context.Context) error
}

// ErrNoDriver is returned when mirror operations are attempted without a
// configured driver.
var ErrNoDriver = errors.New("neo4j driver not configured")

// Neo4jMirror replicates a knowledge graph into a Neo4j database. The
// in-memory graph stays the source of truth; the mirror is a queryable
// projection for Cypher tooling.
type Neo4jMirror struct {
	driver graphDriver
}

// NewNeo4jMirror wraps a driver. Use WrapNeo4jDriver to adapt the official
// driver.
func NewNeo4jMirror(driver graphDriver) (*Neo4jMirror, error) {
	if driver == nil {
		return nil, ErrNoDriver
	}
	return &Neo4jMirror{driver: driver}, nil
}

// Push upserts every entity and relation of g into Neo4j, merging by graph
// id so repeated pushes are idempotent.
func (m *Neo4jMirror) Push(ctx context.Context, g *Graph) error {
	if m == nil || m.driver == nil {
		return ErrNoDriver
	}

	g.mu.RLock()
	entities := make([]*Entity, 0, len(g.entities))
	for _, ent := range g.entities {
		entities = append(entities, ent)
	}
	relations := make([]*Relation, 0, len(g.relations))
	for _, rel := range g.relations {
		relations = append(relations, rel)
	}
	g.mu.RUnlock()

	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	sort.Slice(relations, func(i, j int) bool { return relations[i].ID < relations[j].ID })

	for _, ent := range entities {
		props := map[string]any{
			"name":       ent.Name,
			"type":       ent.Type,
			"confidence": float64(ent.Confidence),
			"created_at": ent.CreatedAt.Unix(),
		}
		for _, p := range ent.Properties {
			props["prop_"+p.Key] = p.Value
		}
		err := m.driver.ExecuteWrite(ctx,
			"MERGE (e:Entity {graph_id: $id}) SET e += $props",
			map[string]any{"id": int64(ent.ID), "props": props})
		if err != nil {
			return fmt.Errorf("push entity %d: %w", ent.ID, err)
		}
	}

	for _, rel := range relations {
		err := m.driver.ExecuteWrite(ctx,
			`MATCH (s:Entity {graph_id: $subject}), (o:Entity {graph_id: $object})
			 MERGE (s)-[r:RELATES {graph_id: $id}]->(o)
			 SET r.predicate = $predicate, r.weight = $weight, r.created_at = $created_at`,
			map[string]any{
				"id":         int64(rel.ID),
				"subject":    int64(rel.Subject),
				"object":     int64(rel.Object),
				"predicate":  rel.Predicate,
				"weight":     float64(rel.Weight),
				"created_at": rel.CreatedAt.Unix(),
			})
		if err != nil {
			return fmt.Errorf("push relation %d: %w", rel.ID, err)
		}
	}
	return nil
}

// PullTriples reads mirrored relations back as triples, mainly for
// verification after a push.
func (m *Neo4jMirror) PullTriples(ctx context.Context, limit int) ([]Triple, error) {
	if m == nil || m.driver == nil {
		return nil, ErrNoDriver
	}
	var out []Triple
	err := m.driver.ExecuteRead(ctx,
		`MATCH (s:Entity)-[r:RELATES]->(o:Entity)
		 RETURN s.graph_id AS subject_id, s.name AS subject, r.predicate AS predicate,
		        o.graph_id AS object_id, o.name AS object, r.weight AS weight
		 LIMIT $limit`,
		map[string]any{"limit": int64(limit)},
		func(record map[string]any) error {
			t := Triple{}
			if v, ok := record["subject_id"].(int64); ok {
				t.SubjectID = uint64(v)
			}
			if v, ok := record["object_id"].(int64); ok {
				t.ObjectID = uint64(v)
			}
			if v, ok := record["subject"].(string); ok {
				t.SubjectName = v
			}
			if v, ok := record["predicate"].(string); ok {
				t.Predicate = v
			}
			if v, ok := record["object"].(string); ok {
				t.ObjectName = v
			}
			if v, ok := record["weight"].(float64); ok {
				t.Weight = float32(v)
			}
			out = append(out, t)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("pull triples: %w", err)
	}
	return out, nil
}

// Close releases the underlying driver.
func (m *Neo4jMirror) Close(ctx context.Context) error {
	if m == nil || m.driver == nil {
		return nil
	}
	return m.driver.Close(ctx)
}
