package memory

import "sync/atomic"

// Metrics captures lightweight runtime counters for observability.
type Metrics struct {
	added               atomic.Int64
	searched            atomic.Int64
	consolidated        atomic.Int64
	links               atomic.Int64
	extractionFallbacks atomic.Int64
}

func (m *Metrics) IncAdded()              { m.added.Add(1) }
func (m *Metrics) IncSearched(n int)      { m.searched.Add(int64(n)) }
func (m *Metrics) IncConsolidated()       { m.consolidated.Add(1) }
func (m *Metrics) IncLinks()              { m.links.Add(1) }
func (m *Metrics) IncExtractionFallback() { m.extractionFallbacks.Add(1) }

// MetricsSnapshot returns the current values for reporting/logging.
type MetricsSnapshot struct {
	Added               int64 `json:"added"`
	Searched            int64 `json:"searched"`
	Consolidated        int64 `json:"consolidated"`
	Links               int64 `json:"links"`
	ExtractionFallbacks int64 `json:"extraction_fallbacks"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Added:               m.added.Load(),
		Searched:            m.searched.Load(),
		Consolidated:        m.consolidated.Load(),
		Links:               m.links.Load(),
		ExtractionFallbacks: m.extractionFallbacks.Load(),
	}
}
