package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB implements VectorDB on Postgres with the pgvector extension.
type PostgresDB struct {
	pool  *pgxpool.Pool
	table string
	dim   int
}

// NewPostgresDB connects to Postgres. Call CreateSchema before first use.
func NewPostgresDB(ctx context.Context, connStr, table string, dim int) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("memory: connect to Postgres: %w", err)
	}
	if table == "" {
		table = "memories"
	}
	return &PostgresDB{pool: pool, table: table, dim: dim}, nil
}

// CreateSchema ensures the pgvector extension and the memories table.
func (db *PostgresDB) CreateSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
                        id TEXT PRIMARY KEY,
                        embedding vector(%d) NOT NULL,
                        metadata JSONB NOT NULL DEFAULT '{}'::jsonb
                );`, db.table, db.dim),
	}
	for _, stmt := range stmts {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memory: create schema: %w", err)
		}
	}
	return nil
}

func (db *PostgresDB) Dimension() int { return db.dim }

// distanceOperator maps a metric to its pgvector operator. Every operator
// orders ascending-is-closer, matching SearchResult semantics.
func distanceOperator(dist DistanceType) string {
	switch dist {
	case DistanceCosine:
		return "<=>"
	case DistanceDotProduct:
		return "<#>"
	case DistanceManhattan:
		return "<+>"
	default:
		return "<->"
	}
}

func vectorLiteral(vec []float32) string {
	jsonEmbed, _ := json.Marshal(vec)
	return fmt.Sprintf("[%s]", strings.Trim(string(jsonEmbed), "[]"))
}

func (db *PostgresDB) Add(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	if len(vector) != db.dim {
		return ErrDimensionMismatch
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("memory: marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`
                INSERT INTO %s (id, embedding, metadata)
                VALUES ($1, $2::vector, $3::jsonb)
                ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata;
        `, db.table)
	_, err = db.pool.Exec(ctx, query, id, vectorLiteral(vector), string(metaJSON))
	return err
}

func (db *PostgresDB) Get(ctx context.Context, id string) (Record, error) {
	query := fmt.Sprintf(`SELECT embedding::text, metadata FROM %s WHERE id = $1;`, db.table)
	var embText string
	var metaJSON []byte
	err := db.pool.QueryRow(ctx, query, id).Scan(&embText, &metaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:       id,
		Vector:   parseVectorText(embText),
		Metadata: decodeMetadataJSON(metaJSON),
	}, nil
}

func (db *PostgresDB) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("memory: marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET metadata = $2::jsonb WHERE id = $1;`, db.table)
	tag, err := db.pool.Exec(ctx, query, id, string(metaJSON))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1;`, db.table)
	tag, err := db.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) Search(ctx context.Context, query []float32, k int, dist DistanceType) ([]SearchResult, error) {
	return db.SearchFiltered(ctx, query, k, dist, nil)
}

func (db *PostgresDB) SearchFiltered(ctx context.Context, query []float32, k int, dist DistanceType, filter Filter) ([]SearchResult, error) {
	if len(query) != db.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}
	op := distanceOperator(dist)
	where := ""
	args := []any{vectorLiteral(query), k}
	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("memory: marshal filter: %w", err)
		}
		where = "WHERE metadata @> $3::jsonb"
		args = append(args, string(filterJSON))
	}
	sql := fmt.Sprintf(`
        SELECT id, embedding::text, metadata, (embedding %s $1::vector) AS distance
        FROM %s
        %s
        ORDER BY embedding %s $1::vector
        LIMIT $2;
        `, op, db.table, where, op)

	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			id       string
			embText  string
			metaJSON []byte
			distance float64
		)
		if err := rows.Scan(&id, &embText, &metaJSON, &distance); err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			Record: Record{
				ID:       id,
				Vector:   parseVectorText(embText),
				Metadata: decodeMetadataJSON(metaJSON),
			},
			Distance: distance,
		})
	}
	return results, rows.Err()
}

func (db *PostgresDB) Iterate(ctx context.Context, fn func(Record) bool) error {
	query := fmt.Sprintf(`SELECT id, embedding::text, metadata FROM %s ORDER BY id;`, db.table)
	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       string
			embText  string
			metaJSON []byte
		)
		if err := rows.Scan(&id, &embText, &metaJSON); err != nil {
			return err
		}
		cont := fn(Record{
			ID:       id,
			Vector:   parseVectorText(embText),
			Metadata: decodeMetadataJSON(metaJSON),
		})
		if !cont {
			break
		}
	}
	return rows.Err()
}

func (db *PostgresDB) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, db.table)
	var n int
	if err := db.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the connection pool.
func (db *PostgresDB) Close() {
	if db != nil && db.pool != nil {
		db.pool.Close()
	}
}

// parseVectorText parses pgvector's "[0.1,0.2]" text form.
func parseVectorText(s string) []float32 {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &f); err == nil {
			vec = append(vec, float32(f))
		}
	}
	return vec
}

func decodeMetadataJSON(b []byte) map[string]any {
	meta := map[string]any{}
	if len(b) > 0 {
		_ = json.Unmarshal(b, &meta)
	}
	return meta
}
