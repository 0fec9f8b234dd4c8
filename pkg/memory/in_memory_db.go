package memory

import (
	"context"
	"sort"
	"sync"
)

// InMemoryDB implements VectorDB for tests and lightweight deployments.
// Records keep insertion order; deletes are soft so iteration stays cheap.
type InMemoryDB struct {
	mu      sync.RWMutex
	dim     int
	order   []string
	records map[string]inMemoryRecord
}

type inMemoryRecord struct {
	vector   []float32
	metadata map[string]any
	deleted  bool
}

func NewInMemoryDB(dim int) *InMemoryDB {
	return &InMemoryDB{
		dim:     dim,
		records: make(map[string]inMemoryRecord),
	}
}

func (db *InMemoryDB) Dimension() int { return db.dim }

func (db *InMemoryDB) Add(_ context.Context, id string, vector []float32, metadata map[string]any) error {
	if len(vector) != db.dim {
		return ErrDimensionMismatch
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.records[id]; !ok || existing.deleted {
		db.order = append(db.order, id)
	}
	db.records[id] = inMemoryRecord{
		vector:   append([]float32(nil), vector...),
		metadata: cloneMetadata(metadata),
	}
	return nil
}

func (db *InMemoryDB) Get(_ context.Context, id string) (Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rec, ok := db.records[id]
	if !ok || rec.deleted {
		return Record{}, ErrNotFound
	}
	return Record{
		ID:       id,
		Vector:   append([]float32(nil), rec.vector...),
		Metadata: cloneMetadata(rec.metadata),
	}, nil
}

func (db *InMemoryDB) UpdateMetadata(_ context.Context, id string, metadata map[string]any) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	rec, ok := db.records[id]
	if !ok || rec.deleted {
		return ErrNotFound
	}
	rec.metadata = cloneMetadata(metadata)
	db.records[id] = rec
	return nil
}

func (db *InMemoryDB) Delete(_ context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	rec, ok := db.records[id]
	if !ok || rec.deleted {
		return ErrNotFound
	}
	rec.deleted = true
	db.records[id] = rec
	return nil
}

func (db *InMemoryDB) Search(ctx context.Context, query []float32, k int, dist DistanceType) ([]SearchResult, error) {
	return db.SearchFiltered(ctx, query, k, dist, nil)
}

func (db *InMemoryDB) SearchFiltered(_ context.Context, query []float32, k int, dist DistanceType, filter Filter) ([]SearchResult, error) {
	if len(query) != db.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	results := make([]SearchResult, 0, len(db.order))
	for _, id := range db.order {
		rec := db.records[id]
		if rec.deleted {
			continue
		}
		if len(filter) > 0 && !matchesFilter(rec.metadata, filter) {
			continue
		}
		results = append(results, SearchResult{
			Record: Record{
				ID:       id,
				Vector:   append([]float32(nil), rec.vector...),
				Metadata: cloneMetadata(rec.metadata),
			},
			Distance: distanceBetween(query, rec.vector, dist),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (db *InMemoryDB) Iterate(_ context.Context, fn func(Record) bool) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, id := range db.order {
		rec := db.records[id]
		if rec.deleted {
			continue
		}
		cont := fn(Record{
			ID:       id,
			Vector:   append([]float32(nil), rec.vector...),
			Metadata: cloneMetadata(rec.metadata),
		})
		if !cont {
			break
		}
	}
	return nil
}

func (db *InMemoryDB) Count(_ context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, rec := range db.records {
		if !rec.deleted {
			n++
		}
	}
	return n, nil
}
