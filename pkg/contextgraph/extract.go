package contextgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Protocol-Lattice/go-memory/pkg/models"
)

const maxEntityListNames = 50

// Extract mines entities and relationships from text with the configured
// model. Entities are embedded by name. A model response that cannot be
// parsed yields zero results, not an error; only transport failures are
// errors.
func (g *Graph) Extract(ctx context.Context, text string, scope Scope) ([]Entity, []Relationship, error) {
	if !g.cfg.EnableEntityExtraction && !g.cfg.EnableRelationshipExtraction {
		return nil, nil, nil
	}
	if g.llm == nil {
		return nil, nil, fmt.Errorf("contextgraph: no model configured")
	}

	var entities []Entity
	if g.cfg.EnableEntityExtraction {
		response, err := g.llm.Generate(ctx, entityMessages(text, scope.UserID), models.FormatJSON)
		if err != nil {
			return nil, nil, fmt.Errorf("extract entities: %w", err)
		}
		entities = parseEntities(response)
		for i := range entities {
			entities[i].UserID = scope.UserID
			entities[i].AgentID = scope.AgentID
			entities[i].RunID = scope.RunID
		}
		g.embedEntities(ctx, entities)
	}

	var relationships []Relationship
	if g.cfg.EnableRelationshipExtraction && len(entities) > 0 {
		response, err := g.llm.Generate(ctx, relationshipMessages(text, scope.UserID, entities), models.FormatJSON)
		if err != nil {
			return nil, nil, fmt.Errorf("extract relationships: %w", err)
		}
		relationships = parseRelationships(response)
	}
	return entities, relationships, nil
}

// ExtractAndAdd runs Extract and upserts the results. Relationship source
// and destination names are resolved to entity ids; edges naming unknown
// entities are dropped.
func (g *Graph) ExtractAndAdd(ctx context.Context, text string, scope Scope) (int, int, error) {
	entities, relationships, err := g.Extract(ctx, text, scope)
	if err != nil {
		return 0, 0, err
	}
	entityIDs := g.UpsertEntities(ctx, entities)

	byName := make(map[string]string, len(entities))
	for i, ent := range entities {
		if i < len(entityIDs) {
			byName[ent.Name] = entityIDs[i]
		}
	}
	resolved := make([]Relationship, 0, len(relationships))
	for _, rel := range relationships {
		source, okS := byName[rel.SourceID]
		dest, okD := byName[rel.DestinationID]
		if !okS || !okD {
			g.logf("contextgraph: dropping edge %q-%s->%q: unknown endpoint", rel.SourceID, rel.Type, rel.DestinationID)
			continue
		}
		resolved = append(resolved, Relationship{SourceID: source, DestinationID: dest, Type: rel.Type})
	}
	relIDs := g.UpsertRelationships(resolved)
	return len(entityIDs), len(relIDs), nil
}

func (g *Graph) embedEntities(ctx context.Context, entities []Entity) {
	if g.embedder == nil || len(entities) == 0 {
		return
	}
	names := make([]string, len(entities))
	for i, ent := range entities {
		names[i] = ent.Name
	}
	vectors, err := g.embedder.EmbedBatch(ctx, names)
	if err != nil {
		g.logf("contextgraph: batch embed failed: %v", err)
		return
	}
	for i := range entities {
		if i < len(vectors) {
			entities[i].Embedding = vectors[i]
		}
	}
}

func selfReference(userID string) string {
	if userID == "" {
		return "user"
	}
	return userID
}

func entityMessages(text, userID string) []models.Message {
	prompt := fmt.Sprintf(
		"You are an expert at extracting entities from text. Extract all entities mentioned in the following text.\n\n"+
			"If the text contains self-references like 'I', 'me', 'my', use '%s' as the entity name.\n\n"+
			"For each entity, provide:\n"+
			"- entity: the entity name\n"+
			"- entity_type: one of (person, organization, location, event, object, concept, user)\n\n"+
			"Text: %s\n\n"+
			"Return a JSON array of entities in this format:\n"+
			"[{\"entity\": \"name\", \"entity_type\": \"type\"}, ...]",
		selfReference(userID), text)
	return []models.Message{
		{Role: models.RoleSystem, Content: "You are an expert at extracting entities from text. Return only valid JSON."},
		{Role: models.RoleUser, Content: prompt},
	}
}

func relationshipMessages(text, userID string, entities []Entity) []models.Message {
	names := make([]string, 0, len(entities))
	for i, ent := range entities {
		if i >= maxEntityListNames {
			break
		}
		names = append(names, ent.Name)
	}
	prompt := fmt.Sprintf(
		"You are an expert at extracting relationships between entities from text.\n\n"+
			"If the text contains self-references like 'I', 'me', 'my', use '%s' as the source entity.\n\n"+
			"Entities mentioned: %s\n\n"+
			"Text: %s\n\n"+
			"Extract relationships between entities. Return a JSON array in this format:\n"+
			"[{\"source\": \"entity1\", \"relationship\": \"relationship_type\", \"destination\": \"entity2\"}, ...]\n\n"+
			"Relationship types should be concise and timeless (e.g., 'knows', 'works_with', 'located_in').",
		selfReference(userID), strings.Join(names, ", "), text)
	return []models.Message{
		{Role: models.RoleSystem, Content: "You are an expert at extracting relationships from text. Return only valid JSON."},
		{Role: models.RoleUser, Content: prompt},
	}
}

// firstArray locates the array to walk in a model response: a preferred
// object key first, then the whole document if it is an array, then the
// first array-valued member of a wrapping object.
func firstArray(response string, keys ...string) (gjson.Result, bool) {
	doc := gjson.Parse(response)
	for _, key := range keys {
		if arr := doc.Get(key); arr.IsArray() {
			return arr, true
		}
	}
	if doc.IsArray() {
		return doc, true
	}
	var found gjson.Result
	var ok bool
	doc.ForEach(func(_, value gjson.Result) bool {
		if value.IsArray() {
			found = value
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// parseEntities tolerates malformed model output: elements without an
// "entity" field are skipped, unknown types default to person.
func parseEntities(response string) []Entity {
	arr, ok := firstArray(response, "entities")
	if !ok {
		return nil
	}
	var out []Entity
	arr.ForEach(func(_, value gjson.Result) bool {
		name := strings.TrimSpace(value.Get("entity").String())
		if name == "" {
			return true
		}
		out = append(out, Entity{
			Name: name,
			Type: ParseEntityType(value.Get("entity_type").String()),
		})
		return true
	})
	return out
}

// parseRelationships accepts both "relationship" and "relationship_type"
// field names.
func parseRelationships(response string) []Relationship {
	arr, ok := firstArray(response, "entities", "relationships")
	if !ok {
		return nil
	}
	var out []Relationship
	arr.ForEach(func(_, value gjson.Result) bool {
		source := strings.TrimSpace(value.Get("source").String())
		dest := strings.TrimSpace(value.Get("destination").String())
		relType := strings.TrimSpace(value.Get("relationship").String())
		if relType == "" {
			relType = strings.TrimSpace(value.Get("relationship_type").String())
		}
		if source == "" || dest == "" || relType == "" {
			return true
		}
		out = append(out, Relationship{SourceID: source, DestinationID: dest, Type: relType})
		return true
	})
	return out
}
