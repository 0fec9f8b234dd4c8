package memory

import (
	"context"
	"fmt"
)

// LinkType names the relationship a typed link asserts about its target.
type LinkType int

const (
	LinkSimilar LinkType = iota
	LinkSupports
	LinkContradicts
	LinkExtends
	LinkCausal
	LinkExample
	LinkPrerequisite
	LinkTemporal
)

func (t LinkType) String() string {
	switch t {
	case LinkSupports:
		return "supports"
	case LinkContradicts:
		return "contradicts"
	case LinkExtends:
		return "extends"
	case LinkCausal:
		return "causal"
	case LinkExample:
		return "example"
	case LinkPrerequisite:
		return "prerequisite"
	case LinkTemporal:
		return "temporal"
	}
	return "similar"
}

// Reciprocal returns the link type stored on the target side. Every type
// maps to itself, so Reciprocal is an involution over the whole enum.
func (t LinkType) Reciprocal() LinkType {
	return t
}

const (
	reciprocalStrengthFactor = 0.9
	minLinkStrength          = 0.1
	maxLinkStrength          = 1.0
)

// Link is one typed edge from a memory to a target memory.
type Link struct {
	TargetID  string   `json:"target"`
	Type      LinkType `json:"type"`
	Strength  float64  `json:"strength"`
	Reason    string   `json:"reason,omitempty"`
	CreatedAt int64    `json:"created"`
}

// CreateLink adds a typed link from source to target plus a reciprocal
// link at 0.9x strength, both clamped to [0.1, 1.0]. A second link to the
// same target overwrites the existing entry in place. The forward insert
// is not rolled back if the reciprocal insert fails.
func (l *Layer) CreateLink(ctx context.Context, sourceID, targetID string, linkType LinkType, strength float64, reason string) error {
	if sourceID == "" || targetID == "" {
		return fmt.Errorf("memory: link endpoints must be non-empty")
	}
	if strength < minLinkStrength {
		strength = minLinkStrength
	}
	if strength > maxLinkStrength {
		strength = maxLinkStrength
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.addLinkLocked(ctx, sourceID, targetID, linkType, strength, reason); err != nil {
		return err
	}

	reciprocal := strength * reciprocalStrengthFactor
	if reciprocal < minLinkStrength {
		reciprocal = minLinkStrength
	}
	if err := l.addLinkLocked(ctx, targetID, sourceID, linkType.Reciprocal(), reciprocal, reason); err != nil {
		return err
	}
	l.metrics.IncLinks()
	return nil
}

func (l *Layer) addLinkLocked(ctx context.Context, memoryID, targetID string, linkType LinkType, strength float64, reason string) error {
	rec, err := l.db.Get(ctx, memoryID)
	if err != nil {
		return err
	}
	mem := decodeMemory(rec)

	updated := false
	for i := range mem.Links {
		if mem.Links[i].TargetID == targetID {
			mem.Links[i].Type = linkType
			mem.Links[i].Strength = strength
			mem.Links[i].Reason = reason
			updated = true
			break
		}
	}
	if !updated {
		mem.Links = append(mem.Links, Link{
			TargetID:  targetID,
			Type:      linkType,
			Strength:  strength,
			Reason:    reason,
			CreatedAt: l.clock().Unix(),
		})
	}

	meta := cloneMetadata(rec.Metadata)
	meta[keyLinks] = serializeLinks(mem.Links)
	return l.db.UpdateMetadata(ctx, memoryID, meta)
}

// RemoveLink deletes the link from source to target and its reciprocal.
func (l *Layer) RemoveLink(ctx context.Context, sourceID, targetID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.removeLinkLocked(ctx, sourceID, targetID); err != nil {
		return err
	}
	return l.removeLinkLocked(ctx, targetID, sourceID)
}

func (l *Layer) removeLinkLocked(ctx context.Context, memoryID, targetID string) error {
	rec, err := l.db.Get(ctx, memoryID)
	if err != nil {
		return err
	}
	mem := decodeMemory(rec)

	kept := mem.Links[:0]
	found := false
	for _, link := range mem.Links {
		if !found && link.TargetID == targetID {
			found = true
			continue
		}
		kept = append(kept, link)
	}
	if !found {
		return nil
	}

	meta := cloneMetadata(rec.Metadata)
	meta[keyLinks] = serializeLinks(kept)
	return l.db.UpdateMetadata(ctx, memoryID, meta)
}

// GetLinks returns the typed links stored on a memory.
func (l *Layer) GetLinks(ctx context.Context, memoryID string) ([]Link, error) {
	rec, err := l.db.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	return decodeMemory(rec).Links, nil
}
