package contextgraph

import (
	"context"
	"strings"
	"testing"

	"github.com/Protocol-Lattice/go-memory/pkg/models"
)

func TestParseEntitiesBareArray(t *testing.T) {
	entities := parseEntities(`[{"entity": "Alice", "entity_type": "person"}, {"entity": "Acme", "entity_type": "organization"}]`)
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %+v", entities)
	}
	if entities[0].Name != "Alice" || entities[0].Type != EntityPerson {
		t.Fatalf("first entity: %+v", entities[0])
	}
	if entities[1].Name != "Acme" || entities[1].Type != EntityOrganization {
		t.Fatalf("second entity: %+v", entities[1])
	}
}

func TestParseEntitiesWrappedAndNoisy(t *testing.T) {
	wrapped := parseEntities(`{"entities": [{"entity": "Lisbon", "entity_type": "location"}]}`)
	if len(wrapped) != 1 || wrapped[0].Type != EntityLocation {
		t.Fatalf("wrapped parse: %+v", wrapped)
	}

	// Unknown wrapper key: the first array-valued member is used.
	other := parseEntities(`{"result": [{"entity": "X", "entity_type": "concept"}]}`)
	if len(other) != 1 || other[0].Type != EntityConcept {
		t.Fatalf("unknown-key parse: %+v", other)
	}

	// Elements missing the entity field are skipped, not fatal.
	partial := parseEntities(`[{"entity_type": "person"}, {"entity": "Bob"}]`)
	if len(partial) != 1 || partial[0].Name != "Bob" {
		t.Fatalf("partial parse: %+v", partial)
	}

	// Garbage yields zero results.
	if got := parseEntities("I could not produce JSON, sorry"); got != nil {
		t.Fatalf("garbage should parse to nothing: %+v", got)
	}
}

func TestParseRelationshipsFieldVariants(t *testing.T) {
	rels := parseRelationships(`[
		{"source": "Alice", "relationship": "works_at", "destination": "Acme"},
		{"source": "Alice", "relationship_type": "lives_in", "destination": "Lisbon"},
		{"source": "Bob", "destination": "Acme"}
	]`)
	if len(rels) != 2 {
		t.Fatalf("expected 2 relationships, got %+v", rels)
	}
	if rels[0].Type != "works_at" || rels[1].Type != "lives_in" {
		t.Fatalf("types: %+v", rels)
	}
}

func TestExtractAndAddWiresEverything(t *testing.T) {
	llm := models.NewDummyLLM(
		`[{"entity": "alex", "entity_type": "user"}, {"entity": "Acme", "entity_type": "organization"}]`,
		`[{"source": "alex", "relationship": "works_at", "destination": "Acme"},
		  {"source": "alex", "relationship": "visited", "destination": "Mars"}]`,
	)
	g := testGraph().WithLLM(llm)

	entities, relationships, err := g.ExtractAndAdd(context.Background(), "I work at Acme", Scope{UserID: "alex"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if entities != 2 {
		t.Fatalf("entities = %d, want 2", entities)
	}
	// The Mars edge names an entity the model never extracted; it is dropped.
	if relationships != 1 {
		t.Fatalf("relationships = %d, want 1", relationships)
	}
	if llm.Calls() != 2 {
		t.Fatalf("expected entity then relationship call, got %d", llm.Calls())
	}

	ent, ok := g.FindEntity("alex", Scope{UserID: "alex"})
	if !ok || ent.Type != EntityUser {
		t.Fatalf("extracted user entity: ok=%v %+v", ok, ent)
	}
	if len(ent.Embedding) != 32 {
		t.Fatalf("extracted entity should be embedded, dim=%d", len(ent.Embedding))
	}

	results, err := g.SearchText(context.Background(), "alex", Scope{UserID: "alex"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].DestinationName != "Acme" {
		t.Fatalf("search after extraction: %+v", results)
	}
}

func TestExtractWithUnparseableResponseYieldsNothing(t *testing.T) {
	llm := models.NewDummyLLM("not json at all")
	g := testGraph().WithLLM(llm)
	entities, relationships, err := g.Extract(context.Background(), "text", Scope{UserID: "u1"})
	if err != nil {
		t.Fatalf("parse failure must not be an error: %v", err)
	}
	if len(entities) != 0 || len(relationships) != 0 {
		t.Fatalf("expected nothing, got %d/%d", len(entities), len(relationships))
	}
	// The relationship call is skipped when no entities were found.
	if llm.Calls() != 1 {
		t.Fatalf("calls = %d, want 1", llm.Calls())
	}
}

func TestEntityPromptCarriesSelfReference(t *testing.T) {
	messages := entityMessages("I like coffee", "alex")
	if len(messages) != 2 || messages[0].Role != models.RoleSystem {
		t.Fatalf("unexpected message shape: %+v", messages)
	}
	body := messages[1].Content
	if want := "use 'alex' as the entity name"; !strings.Contains(body, want) {
		t.Fatalf("prompt missing self-reference: %q", body)
	}
	if !strings.Contains(entityMessages("x", "")[1].Content, "use 'user' as the entity name") {
		t.Fatalf("empty user id should fall back to 'user'")
	}
}

func TestRelationshipPromptListsEntities(t *testing.T) {
	entities := []Entity{{Name: "Alice"}, {Name: "Acme"}}
	body := relationshipMessages("text", "u1", entities)[1].Content
	if !strings.Contains(body, "Entities mentioned: Alice, Acme") {
		t.Fatalf("prompt missing entity list: %q", body)
	}
}
