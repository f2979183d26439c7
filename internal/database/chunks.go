package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sweepworld/server/internal/minegen"
)

// ChunkKey identifies a generated chunk. Seed, algorithm and generator
// version are part of the key so a cached chunk always equals a fresh one.
type ChunkKey struct {
	Seed      uint32
	Algorithm string
	Version   int
	X, Y      int32
}

// KeyFor builds the cache key for a chunk of g.
func KeyFor(g *minegen.Generator, x, y int32) ChunkKey {
	return ChunkKey{
		Seed:      g.Seed(),
		Algorithm: g.Algorithm(),
		Version:   minegen.GeneratorVersion,
		X:         x,
		Y:         y,
	}
}

// ChunkCache stores generated chunks.
type ChunkCache interface {
	Get(ctx context.Context, key ChunkKey) (minegen.Chunk, bool, error)
	GetMany(ctx context.Context, keys []ChunkKey) (map[ChunkKey]minegen.Chunk, error)
	Put(ctx context.Context, key ChunkKey, chunk minegen.Chunk) error
	PutMany(ctx context.Context, chunks map[ChunkKey]minegen.Chunk) error
	// Clear removes every cached chunk and returns how many were removed.
	Clear(ctx context.Context) (int64, error)
}

// PostgresChunkCache keeps generated chunks in the generated_chunks table.
type PostgresChunkCache struct {
	db *sql.DB
}

// NewPostgresChunkCache creates a new chunk cache over db
func NewPostgresChunkCache(db *sql.DB) *PostgresChunkCache {
	return &PostgresChunkCache{db: db}
}

const createChunksTable = `
	CREATE TABLE IF NOT EXISTS generated_chunks (
		seed              BIGINT      NOT NULL,
		algorithm         TEXT        NOT NULL,
		generator_version INTEGER     NOT NULL,
		chunk_x           INTEGER     NOT NULL,
		chunk_y           INTEGER     NOT NULL,
		classes           BYTEA       NOT NULL,
		counts            BYTEA       NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (seed, algorithm, generator_version, chunk_x, chunk_y)
	)
`

// EnsureSchema creates the chunk table if it does not exist.
func (s *PostgresChunkCache) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createChunksTable); err != nil {
		return fmt.Errorf("failed to create generated_chunks table: %w", err)
	}
	return nil
}

// Get returns a cached chunk. The bool is false when the chunk is absent.
func (s *PostgresChunkCache) Get(ctx context.Context, key ChunkKey) (minegen.Chunk, bool, error) {
	var classes, counts []byte
	query := `
		SELECT classes, counts
		FROM generated_chunks
		WHERE seed = $1 AND algorithm = $2 AND generator_version = $3 AND chunk_x = $4 AND chunk_y = $5
	`
	err := s.db.QueryRowContext(ctx, query, int64(key.Seed), key.Algorithm, key.Version, key.X, key.Y).
		Scan(&classes, &counts)
	if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
		return minegen.Chunk{}, false, nil
	}
	if err != nil {
		return minegen.Chunk{}, false, fmt.Errorf("failed to query chunk %d,%d: %w", key.X, key.Y, err)
	}

	chunk, err := chunkFromColumns(key.X, key.Y, classes, counts)
	if err != nil {
		return minegen.Chunk{}, false, err
	}
	return chunk, true, nil
}

// GetMany returns the cached subset of keys. Keys must share seed,
// algorithm and version; mixed batches are split per group.
func (s *PostgresChunkCache) GetMany(ctx context.Context, keys []ChunkKey) (map[ChunkKey]minegen.Chunk, error) {
	result := make(map[ChunkKey]minegen.Chunk, len(keys))
	for group, coords := range groupKeys(keys) {
		xs := make([]int32, len(coords))
		ys := make([]int32, len(coords))
		for i, c := range coords {
			xs[i], ys[i] = c[0], c[1]
		}

		query := `
			SELECT chunk_x, chunk_y, classes, counts
			FROM generated_chunks
			WHERE seed = $1 AND algorithm = $2 AND generator_version = $3
			  AND (chunk_x, chunk_y) IN (SELECT * FROM unnest($4::int[], $5::int[]))
		`
		rows, err := s.db.QueryContext(ctx, query, int64(group.Seed), group.Algorithm, group.Version, pq.Array(xs), pq.Array(ys))
		if isUndefinedTable(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query chunks: %w", err)
		}

		for rows.Next() {
			var x, y int32
			var classes, counts []byte
			if err := rows.Scan(&x, &y, &classes, &counts); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan chunk: %w", err)
			}
			chunk, err := chunkFromColumns(x, y, classes, counts)
			if err != nil {
				rows.Close()
				return nil, err
			}
			key := group
			key.X, key.Y = x, y
			result[key] = chunk
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating chunks: %w", err)
		}
	}
	return result, nil
}

// Put stores one chunk. Existing rows are left untouched.
func (s *PostgresChunkCache) Put(ctx context.Context, key ChunkKey, chunk minegen.Chunk) error {
	return s.PutMany(ctx, map[ChunkKey]minegen.Chunk{key: chunk})
}

// PutMany stores chunks in one statement per key group.
func (s *PostgresChunkCache) PutMany(ctx context.Context, chunks map[ChunkKey]minegen.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	keys := make([]ChunkKey, 0, len(chunks))
	for key := range chunks {
		keys = append(keys, key)
	}

	for group, coords := range groupKeys(keys) {
		xs := make([]int32, len(coords))
		ys := make([]int32, len(coords))
		classes := make([][]byte, len(coords))
		counts := make([][]byte, len(coords))
		for i, c := range coords {
			key := group
			key.X, key.Y = c[0], c[1]
			chunk := chunks[key]
			xs[i], ys[i] = c[0], c[1]
			classes[i] = chunk.ClassBytes()
			counts[i] = chunk.CountBytes()
		}

		query := `
			INSERT INTO generated_chunks (seed, algorithm, generator_version, chunk_x, chunk_y, classes, counts, created_at)
			SELECT $1, $2, $3, t.x, t.y, t.classes, t.counts, $8
			FROM unnest($4::int[], $5::int[], $6::bytea[], $7::bytea[]) AS t(x, y, classes, counts)
			ON CONFLICT DO NOTHING
		`
		_, err := s.db.ExecContext(ctx, query,
			int64(group.Seed), group.Algorithm, group.Version,
			pq.Array(xs), pq.Array(ys), pq.Array(classes), pq.Array(counts),
			time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to store %d chunks: %w", len(coords), err)
		}
	}
	return nil
}

// Purge deletes chunks written by other generator versions.
func (s *PostgresChunkCache) Purge(ctx context.Context, keepVersion int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM generated_chunks WHERE generator_version <> $1`, keepVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to purge chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}
	return n, nil
}

// Clear deletes every cached chunk. They are regenerated on the next request.
func (s *PostgresChunkCache) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM generated_chunks`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read clear result: %w", err)
	}
	return n, nil
}

// groupKeys splits keys by everything except the coordinate.
func groupKeys(keys []ChunkKey) map[ChunkKey][][2]int32 {
	groups := make(map[ChunkKey][][2]int32)
	for _, key := range keys {
		group := key
		group.X, group.Y = 0, 0
		groups[group] = append(groups[group], [2]int32{key.X, key.Y})
	}
	return groups
}

func chunkFromColumns(x, y int32, classes, counts []byte) (minegen.Chunk, error) {
	chunk := minegen.Chunk{X: x, Y: y}
	if len(classes) != minegen.ChunkCells || len(counts) != minegen.ChunkCells {
		return chunk, fmt.Errorf("stored chunk %d,%d has %d/%d bytes, expected %d",
			x, y, len(classes), len(counts), minegen.ChunkCells)
	}
	for i := range classes {
		class := minegen.Classification(classes[i])
		if !class.Valid() || counts[i] > 8 {
			return chunk, fmt.Errorf("stored chunk %d,%d has invalid cell %d", x, y, i)
		}
		chunk.Classes[i] = class
		chunk.Counts[i] = counts[i]
	}
	return chunk, nil
}
