package memory

import (
	"context"
	"errors"
	"math"
)

// DistanceType selects the metric a VectorDB uses to rank results.
type DistanceType int

const (
	DistanceEuclidean DistanceType = iota
	DistanceCosine
	DistanceDotProduct
	DistanceManhattan
)

func (d DistanceType) String() string {
	switch d {
	case DistanceEuclidean:
		return "euclidean"
	case DistanceCosine:
		return "cosine"
	case DistanceDotProduct:
		return "dot_product"
	case DistanceManhattan:
		return "manhattan"
	}
	return "euclidean"
}

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("memory: record not found")
	// ErrDimensionMismatch is returned when a vector does not match the
	// database dimension.
	ErrDimensionMismatch = errors.New("memory: vector dimension mismatch")
)

// Record is one stored vector with its metadata map.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// SearchResult pairs a record with its distance to the query. Lower is
// closer for every metric; dot product is negated to preserve that.
type SearchResult struct {
	Record
	Distance float64
}

// Filter matches records whose metadata values equal the given entries.
// Values are compared after string coercion, so numeric types interoperate.
type Filter map[string]any

// VectorDB is the storage contract the memory layer builds on.
type VectorDB interface {
	Add(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	Get(ctx context.Context, id string) (Record, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query []float32, k int, dist DistanceType) ([]SearchResult, error)
	SearchFiltered(ctx context.Context, query []float32, k int, dist DistanceType, filter Filter) ([]SearchResult, error)
	Iterate(ctx context.Context, fn func(Record) bool) error
	Count(ctx context.Context) (int, error)
	Dimension() int
}

// distanceBetween computes the chosen metric between two equal-length
// vectors. Cosine distance is 1-cos so that zero means identical direction.
func distanceBetween(a, b []float32, dist DistanceType) float64 {
	switch dist {
	case DistanceCosine:
		return 1.0 - cosineSimilarity(a, b)
	case DistanceDotProduct:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return -dot
	case DistanceManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(float64(a[i]) - float64(b[i]))
		}
		return sum
	default:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// matchesFilter reports whether every filter entry equals the metadata
// value under string coercion. Missing keys never match.
func matchesFilter(metadata map[string]any, filter Filter) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if stringFromAny(got) != stringFromAny(want) {
			return false
		}
	}
	return true
}
