package memory

import (
	"encoding/json"
	"time"
)

// MemoryType classifies what kind of information a memory holds.
type MemoryType int

const (
	TypeFact MemoryType = iota
	TypePreference
	TypeRelationship
	TypeEvent
)

// TypeAny disables type filtering in search options.
const TypeAny MemoryType = -1

func (t MemoryType) String() string {
	switch t {
	case TypePreference:
		return "preference"
	case TypeRelationship:
		return "relationship"
	case TypeEvent:
		return "event"
	}
	return "fact"
}

// ParseMemoryType maps a name back to its type; unknown names become facts.
func ParseMemoryType(s string) MemoryType {
	switch s {
	case "preference":
		return TypePreference
	case "relationship":
		return TypeRelationship
	case "event":
		return TypeEvent
	}
	return TypeFact
}

// Metadata keys used by the layer when writing into a VectorDB.
const (
	keyMemoryID       = "memory_id"
	keyContent        = "content"
	keyMemoryType     = "memory_type"
	keyTimestamp      = "timestamp"
	keyImportance     = "importance_score"
	keyConsolidated   = "consolidated"
	keySource         = "source"
	keyExtractionMeta = "extraction_metadata"
	keyRelatedIDs     = "related_memories"
	keyLinks          = "memory_links"
	keyAccessCount    = "access_count"
	keyLastAccessed   = "last_accessed"
	keyArchived       = "archived"
)

// Memory is one stored memory with its decoded metadata. Distance and
// Relevance are populated by search operations only.
type Memory struct {
	ID                string
	Content           string
	Type              MemoryType
	Importance        float64
	Consolidated      bool
	Archived          bool
	CreatedAt         time.Time
	Source            string
	ExtractionContext string
	RelatedIDs        []string
	Links             []Link
	AccessCount       int
	LastAccessed      time.Time

	Distance  float64
	Relevance float64
}

// encodeMetadata renders a Memory into the flat metadata map stored next
// to its vector. Types and timestamps are stored as numbers so filter
// expressions compare reliably across backends.
func encodeMetadata(m Memory) map[string]any {
	meta := map[string]any{
		keyMemoryID:     m.ID,
		keyContent:      m.Content,
		keyMemoryType:   int(m.Type),
		keyTimestamp:    m.CreatedAt.Unix(),
		keyImportance:   m.Importance,
		keyConsolidated: m.Consolidated,
		keySource:       m.Source,
		keyRelatedIDs:   serializeRelatedIDs(m.RelatedIDs),
		keyLinks:        serializeLinks(m.Links),
		keyAccessCount:  int64(m.AccessCount),
	}
	if m.ExtractionContext != "" {
		meta[keyExtractionMeta] = m.ExtractionContext
	}
	if m.Archived {
		meta[keyArchived] = true
	}
	if !m.LastAccessed.IsZero() {
		meta[keyLastAccessed] = m.LastAccessed.Unix()
	}
	return meta
}

// decodeMemory rebuilds a Memory from a stored record, tolerating values
// that went through a JSON round trip.
func decodeMemory(rec Record) Memory {
	meta := rec.Metadata
	m := Memory{
		ID:                stringFromAny(meta[keyMemoryID]),
		Content:           stringFromAny(meta[keyContent]),
		Type:              MemoryType(intFromAny(meta[keyMemoryType])),
		Importance:        floatFromAny(meta[keyImportance]),
		Consolidated:      boolFromAny(meta[keyConsolidated]),
		Archived:          boolFromAny(meta[keyArchived]),
		CreatedAt:         timeFromAny(meta[keyTimestamp]),
		Source:            stringFromAny(meta[keySource]),
		ExtractionContext: stringFromAny(meta[keyExtractionMeta]),
		RelatedIDs:        deserializeRelatedIDs(stringFromAny(meta[keyRelatedIDs])),
		Links:             deserializeLinks(stringFromAny(meta[keyLinks])),
		AccessCount:       int(intFromAny(meta[keyAccessCount])),
		LastAccessed:      timeFromAny(meta[keyLastAccessed]),
	}
	if m.ID == "" {
		m.ID = rec.ID
	}
	if m.Type < TypeFact || m.Type > TypeEvent {
		m.Type = TypeFact
	}
	return m
}

func serializeLinks(links []Link) string {
	if len(links) == 0 {
		return "[]"
	}
	b, err := json.Marshal(links)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func deserializeLinks(s string) []Link {
	if s == "" || s == "[]" {
		return nil
	}
	var links []Link
	if err := json.Unmarshal([]byte(s), &links); err != nil {
		return nil
	}
	return links
}
