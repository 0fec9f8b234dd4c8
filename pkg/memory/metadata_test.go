package memory

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestMemoryMetadataRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	accessed := created.Add(48 * time.Hour)
	original := Memory{
		ID:                "mem_7",
		Content:           "Alice prefers green tea",
		Type:              TypePreference,
		Importance:        0.42,
		Consolidated:      true,
		Archived:          true,
		CreatedAt:         created,
		Source:            "chat",
		ExtractionContext: "conv-3",
		RelatedIDs:        []string{"mem_1", "mem_2"},
		Links: []Link{
			{TargetID: "mem_1", Type: LinkSupports, Strength: 0.8, Reason: "same fact", CreatedAt: created.Unix()},
		},
		AccessCount:  3,
		LastAccessed: accessed,
	}

	meta := encodeMetadata(original)

	// Force a JSON round trip; backends that store metadata as JSON return
	// numbers as float64.
	raw, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}

	decoded := decodeMemory(Record{ID: "mem_7", Metadata: back})
	if decoded.ID != original.ID || decoded.Content != original.Content {
		t.Fatalf("identity fields: %+v", decoded)
	}
	if decoded.Type != TypePreference || decoded.Importance != 0.42 {
		t.Fatalf("type/importance: %+v", decoded)
	}
	if !decoded.Consolidated || !decoded.Archived {
		t.Fatalf("flags: %+v", decoded)
	}
	if !decoded.CreatedAt.Equal(created) || !decoded.LastAccessed.Equal(accessed) {
		t.Fatalf("times: %v, %v", decoded.CreatedAt, decoded.LastAccessed)
	}
	if decoded.Source != "chat" || decoded.ExtractionContext != "conv-3" {
		t.Fatalf("source fields: %+v", decoded)
	}
	if !reflect.DeepEqual(decoded.RelatedIDs, original.RelatedIDs) {
		t.Fatalf("RelatedIDs = %v", decoded.RelatedIDs)
	}
	if !reflect.DeepEqual(decoded.Links, original.Links) {
		t.Fatalf("Links = %+v", decoded.Links)
	}
	if decoded.AccessCount != 3 {
		t.Fatalf("AccessCount = %d", decoded.AccessCount)
	}
}

func TestDecodeMemoryDefaults(t *testing.T) {
	decoded := decodeMemory(Record{ID: "raw_1", Metadata: map[string]any{}})
	if decoded.ID != "raw_1" {
		t.Fatalf("ID fallback = %q", decoded.ID)
	}
	if decoded.Type != TypeFact {
		t.Fatalf("Type default = %v", decoded.Type)
	}

	// Out-of-range type values fall back to fact.
	decoded = decodeMemory(Record{Metadata: map[string]any{"memory_type": 99}})
	if decoded.Type != TypeFact {
		t.Fatalf("out-of-range Type = %v", decoded.Type)
	}
}

func TestParseMemoryType(t *testing.T) {
	for _, typ := range []MemoryType{TypeFact, TypePreference, TypeRelationship, TypeEvent} {
		if got := ParseMemoryType(typ.String()); got != typ {
			t.Fatalf("ParseMemoryType(%q) = %v", typ.String(), got)
		}
	}
	if got := ParseMemoryType("banana"); got != TypeFact {
		t.Fatalf("unknown name = %v", got)
	}
}

func TestCoercionHelpers(t *testing.T) {
	if floatFromAny("0.75") != 0.75 || floatFromAny(json.Number("2")) != 2 {
		t.Fatal("floatFromAny")
	}
	if intFromAny(float64(7)) != 7 || intFromAny("42") != 42 {
		t.Fatal("intFromAny")
	}
	if !boolFromAny("true") || !boolFromAny(1) || boolFromAny("nope") {
		t.Fatal("boolFromAny")
	}
	if stringFromAny(3.5) != "3.5" || stringFromAny(nil) != "" {
		t.Fatal("stringFromAny")
	}

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !timeFromAny(ts.Unix()).Equal(ts) {
		t.Fatal("timeFromAny unix")
	}
	if !timeFromAny(ts.Format(time.RFC3339Nano)).Equal(ts) {
		t.Fatal("timeFromAny rfc3339")
	}
	if !timeFromAny(float64(ts.Unix())).Equal(ts) {
		t.Fatal("timeFromAny float")
	}
	if !timeFromAny("garbage").IsZero() {
		t.Fatal("timeFromAny garbage")
	}

	if got := deserializeRelatedIDs(serializeRelatedIDs([]string{"a", "b"})); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("related ids round trip = %v", got)
	}
	if deserializeRelatedIDs("") != nil {
		t.Fatal("empty related ids")
	}
}
