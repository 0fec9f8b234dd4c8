package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// qdrantKeyField carries the caller's record id in the payload so point
// ids can stay UUIDs, which Qdrant requires.
const qdrantKeyField = "_key"

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

// QdrantDB implements VectorDB over Qdrant's HTTP API.
type QdrantDB struct {
	baseURL    string
	apiKey     string
	collection string
	dim        int
	client     *http.Client
}

// NewQdrantDB targets a Qdrant deployment. Call CreateCollection before
// first use; creation is idempotent.
func NewQdrantDB(baseURL, apiKey, collection string, dim int) *QdrantDB {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	if collection == "" {
		collection = "memories"
	}
	return &QdrantDB{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		dim:        dim,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (db *QdrantDB) Dimension() int { return db.dim }

// qdrantDistanceName maps a metric to Qdrant's collection distance. Qdrant
// has no Manhattan metric; those collections fall back to Euclid.
func qdrantDistanceName(dist DistanceType) string {
	switch dist {
	case DistanceCosine:
		return "Cosine"
	case DistanceDotProduct:
		return "Dot"
	default:
		return "Euclid"
	}
}

// CreateCollection ensures the collection exists with the given metric.
// An already-existing collection is not an error.
func (db *QdrantDB) CreateCollection(ctx context.Context, dist DistanceType) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     db.dim,
			"distance": qdrantDistanceName(dist),
		},
	}
	var result json.RawMessage
	err := db.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", url.PathEscape(db.collection)), body, &result)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	return err
}

func (db *QdrantDB) doRequest(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("memory: marshal qdrant request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, db.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("memory: new qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if db.apiKey != "" {
		// Either header works; sending both covers deployments with either check.
		req.Header.Set("api-key", db.apiKey)
		req.Header.Set("Authorization", "Bearer "+db.apiKey)
	}

	resp, err := db.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("memory: qdrant request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var env qdrantEnvelope[json.RawMessage]
	_ = json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if env.Status.Error != "" {
			return errors.New(env.Status.Error)
		}
		return fmt.Errorf("memory: qdrant http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("memory: decode qdrant result: %w", err)
		}
	}
	return nil
}

// pointID derives a stable UUID from the record id.
func (db *QdrantDB) pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("memory:"+db.collection+":"+id)).String()
}

func (db *QdrantDB) Add(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	if len(vector) != db.dim {
		return ErrDimensionMismatch
	}
	payload := cloneMetadata(metadata)
	payload[qdrantKeyField] = id
	body := map[string]any{
		"points": []map[string]any{{
			"id":      db.pointID(id),
			"vector":  vector,
			"payload": payload,
		}},
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(db.collection))
	return db.doRequest(ctx, http.MethodPut, path, body, nil)
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
	Score   float64        `json:"score"`
}

func (db *QdrantDB) recordFromPoint(p qdrantPoint) Record {
	meta := cloneMetadata(p.Payload)
	id := stringFromAny(meta[qdrantKeyField])
	delete(meta, qdrantKeyField)
	return Record{ID: id, Vector: p.Vector, Metadata: meta}
}

func (db *QdrantDB) Get(ctx context.Context, id string) (Record, error) {
	path := fmt.Sprintf("/collections/%s/points/%s", url.PathEscape(db.collection), db.pointID(id))
	var point qdrantPoint
	err := db.doRequest(ctx, http.MethodGet, path, nil, &point)
	if err != nil {
		low := strings.ToLower(err.Error())
		if strings.Contains(low, "not found") || strings.Contains(low, "404") {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if point.Payload == nil {
		return Record{}, ErrNotFound
	}
	return db.recordFromPoint(point), nil
}

func (db *QdrantDB) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	if _, err := db.Get(ctx, id); err != nil {
		return err
	}
	payload := cloneMetadata(metadata)
	payload[qdrantKeyField] = id
	body := map[string]any{
		"payload": payload,
		"points":  []string{db.pointID(id)},
	}
	path := fmt.Sprintf("/collections/%s/points/payload?wait=true", url.PathEscape(db.collection))
	return db.doRequest(ctx, http.MethodPut, path, body, nil)
}

func (db *QdrantDB) Delete(ctx context.Context, id string) error {
	if _, err := db.Get(ctx, id); err != nil {
		return err
	}
	body := map[string]any{"points": []string{db.pointID(id)}}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(db.collection))
	return db.doRequest(ctx, http.MethodPost, path, body, nil)
}

// distanceFromScore converts Qdrant's score back to the lower-is-closer
// distance convention: cosine and dot scores are similarities, euclid
// scores are already distances.
func distanceFromScore(score float64, dist DistanceType) float64 {
	switch dist {
	case DistanceCosine:
		return 1.0 - score
	case DistanceDotProduct:
		return -score
	default:
		return score
	}
}

func (db *QdrantDB) Search(ctx context.Context, query []float32, k int, dist DistanceType) ([]SearchResult, error) {
	return db.SearchFiltered(ctx, query, k, dist, nil)
}

func (db *QdrantDB) SearchFiltered(ctx context.Context, query []float32, k int, dist DistanceType, filter Filter) ([]SearchResult, error) {
	if len(query) != db.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	if len(filter) > 0 {
		must := make([]map[string]any, 0, len(filter))
		for key, value := range filter {
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": value},
			})
		}
		body["filter"] = map[string]any{"must": must}
	}

	var points []qdrantPoint
	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(db.collection))
	if err := db.doRequest(ctx, http.MethodPost, path, body, &points); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, SearchResult{
			Record:   db.recordFromPoint(p),
			Distance: distanceFromScore(p.Score, dist),
		})
	}
	return results, nil
}

func (db *QdrantDB) Iterate(ctx context.Context, fn func(Record) bool) error {
	var offset any
	for {
		body := map[string]any{
			"limit":        256,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			body["offset"] = offset
		}
		var page struct {
			Points     []qdrantPoint `json:"points"`
			NextOffset any           `json:"next_page_offset"`
		}
		path := fmt.Sprintf("/collections/%s/points/scroll", url.PathEscape(db.collection))
		if err := db.doRequest(ctx, http.MethodPost, path, body, &page); err != nil {
			return err
		}
		for _, p := range page.Points {
			if !fn(db.recordFromPoint(p)) {
				return nil
			}
		}
		if page.NextOffset == nil || len(page.Points) == 0 {
			return nil
		}
		offset = page.NextOffset
	}
}

func (db *QdrantDB) Count(ctx context.Context) (int, error) {
	body := map[string]any{"exact": true}
	var result struct {
		Count int `json:"count"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(db.collection))
	if err := db.doRequest(ctx, http.MethodPost, path, body, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}
