package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB implements VectorDB on a MongoDB collection. Search does a
// candidate scan with in-process distance computation, which keeps the
// backend portable across deployments without an Atlas vector index.
type MongoDB struct {
	client     *mongo.Client
	collection *mongo.Collection
	dim        int
}

type mongoDoc struct {
	ID        string    `bson:"_id"`
	Embedding []float64 `bson:"embedding"`
	Metadata  bson.M    `bson:"metadata"`
}

// NewMongoDB connects to MongoDB and targets database/collection.
func NewMongoDB(ctx context.Context, uri, database, collection string, dim int) (*MongoDB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("memory: connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("memory: ping MongoDB: %w", err)
	}
	if database == "" {
		database = "memory"
	}
	if collection == "" {
		collection = "memories"
	}
	return &MongoDB{
		client:     client,
		collection: client.Database(database).Collection(collection),
		dim:        dim,
	}, nil
}

func (db *MongoDB) Dimension() int { return db.dim }

func f32toF64(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func f64toF32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

func (db *MongoDB) Add(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	if len(vector) != db.dim {
		return ErrDimensionMismatch
	}
	doc := mongoDoc{
		ID:        id,
		Embedding: f32toF64(vector),
		Metadata:  bson.M(cloneMetadata(metadata)),
	}
	opts := options.Replace().SetUpsert(true)
	_, err := db.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts)
	return err
}

func (db *MongoDB) Get(ctx context.Context, id string) (Record, error) {
	var doc mongoDoc
	err := db.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return recordFromDoc(doc), nil
}

func (db *MongoDB) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	res, err := db.collection.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"metadata": bson.M(cloneMetadata(metadata))},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *MongoDB) Delete(ctx context.Context, id string) error {
	res, err := db.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *MongoDB) Search(ctx context.Context, query []float32, k int, dist DistanceType) ([]SearchResult, error) {
	return db.SearchFiltered(ctx, query, k, dist, nil)
}

func (db *MongoDB) SearchFiltered(ctx context.Context, query []float32, k int, dist DistanceType, filter Filter) ([]SearchResult, error) {
	if len(query) != db.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	cursor, err := db.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []SearchResult
	for cursor.Next(ctx) {
		var doc mongoDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		rec := recordFromDoc(doc)
		if len(filter) > 0 && !matchesFilter(rec.Metadata, filter) {
			continue
		}
		if len(rec.Vector) != db.dim {
			continue
		}
		results = append(results, SearchResult{
			Record:   rec,
			Distance: distanceBetween(query, rec.Vector, dist),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (db *MongoDB) Iterate(ctx context.Context, fn func(Record) bool) error {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := db.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc mongoDoc
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		if !fn(recordFromDoc(doc)) {
			break
		}
	}
	return cursor.Err()
}

func (db *MongoDB) Count(ctx context.Context) (int, error) {
	n, err := db.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close disconnects the client.
func (db *MongoDB) Close(ctx context.Context) error {
	if db == nil || db.client == nil {
		return nil
	}
	return db.client.Disconnect(ctx)
}

func recordFromDoc(doc mongoDoc) Record {
	meta := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	return Record{
		ID:       doc.ID,
		Vector:   f64toF32(doc.Embedding),
		Metadata: meta,
	}
}
