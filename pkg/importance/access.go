package importance

import (
	"encoding/json"
	"time"
)

// AccessType classifies how a memory was reached.
type AccessType int

const (
	AccessSearch AccessType = iota
	AccessDirect
	AccessRelated
)

// maxTrackedAccesses caps the event window; older events are dropped first.
const maxTrackedAccesses = 100

// AccessEvent is one retrieval of a memory.
type AccessEvent struct {
	Timestamp time.Time  `json:"ts"`
	Relevance float64    `json:"rel"`
	Type      AccessType `json:"type"`
}

// AccessHistory tracks retrievals of a single memory. Summary fields cover
// the full lifetime even after old events fall out of the window.
type AccessHistory struct {
	Events        []AccessEvent `json:"events"`
	TotalAccesses int           `json:"total_accesses"`
	LastAccess    time.Time     `json:"last_access"`
	AvgRelevance  float64       `json:"avg_relevance"`
}

// Record appends an access event, evicting the oldest once the window is
// full, and updates the running summary.
func (h *AccessHistory) Record(timestamp time.Time, relevance float64, accessType AccessType) {
	if len(h.Events) >= maxTrackedAccesses {
		h.Events = h.Events[1:]
	}
	h.Events = append(h.Events, AccessEvent{Timestamp: timestamp, Relevance: relevance, Type: accessType})
	h.LastAccess = timestamp
	h.TotalAccesses++
	n := float64(h.TotalAccesses)
	h.AvgRelevance = ((n-1)*h.AvgRelevance + relevance) / n
}

// Serialize renders the history as JSON for metadata storage.
func (h *AccessHistory) Serialize() string {
	if h == nil {
		return "{}"
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DeserializeAccessHistory parses a serialized history; malformed input
// yields an empty history, not an error.
func DeserializeAccessHistory(data string) *AccessHistory {
	h := &AccessHistory{}
	if data == "" {
		return h
	}
	_ = json.Unmarshal([]byte(data), h)
	return h
}
