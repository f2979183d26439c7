package api

import (
	"github.com/sweepworld/server/internal/compression"
	"github.com/sweepworld/server/internal/minegen"
)

// Chunk response formats.
const (
	FormatJSON       = "json"
	FormatBinary     = "binary"
	FormatText       = "text"
	FormatCompressed = "compressed"
)

// MaxBatchChunks is the hard ceiling on chunks per batch request.
const MaxBatchChunks = 256

// ChunkStats counts cells by classification.
type ChunkStats struct {
	Open     int `json:"open"`
	Revealed int `json:"revealed"`
	Hazard   int `json:"hazard"`
}

// ChunkResponse is the JSON form of a generated chunk. Classes and Counts
// are row-major, 16 cells per row.
type ChunkResponse struct {
	ID         string                       `json:"id"` // Format: "x_y"
	X          int32                        `json:"x"`
	Y          int32                        `json:"y"`
	Seed       uint32                       `json:"seed"`
	Classes    []int                        `json:"classes,omitempty"`
	Counts     []int                        `json:"counts,omitempty"`
	Stats      *ChunkStats                  `json:"stats,omitempty"`
	Compressed *compression.CompressedChunk `json:"compressed,omitempty"`
}

// BatchChunkCoord is one requested chunk. Coordinates are int64 so values
// outside int32 produce a validation error instead of a decode error.
type BatchChunkCoord struct {
	X *int64 `json:"x" validate:"required"`
	Y *int64 `json:"y" validate:"required"`
}

// BatchChunkRequest is the body of POST /api/chunks/batch.
type BatchChunkRequest struct {
	Chunks []BatchChunkCoord `json:"chunks" validate:"required,min=1,max=256,dive"`
	Format string            `json:"format" validate:"omitempty,oneof=json compressed"`
}

// BatchChunkResponse holds chunks in request order.
type BatchChunkResponse struct {
	Chunks []ChunkResponse `json:"chunks"`
}

func newChunkResponse(seed uint32, chunk *minegen.Chunk) ChunkResponse {
	classes := make([]int, minegen.ChunkCells)
	counts := make([]int, minegen.ChunkCells)
	for i := range minegen.ChunkCells {
		classes[i] = int(chunk.Classes[i])
		counts[i] = int(chunk.Counts[i])
	}
	open, revealed, hazard := chunk.Stats()
	return ChunkResponse{
		ID:      chunkID(chunk),
		X:       chunk.X,
		Y:       chunk.Y,
		Seed:    seed,
		Classes: classes,
		Counts:  counts,
		Stats:   &ChunkStats{Open: open, Revealed: revealed, Hazard: hazard},
	}
}

func newCompressedChunkResponse(seed uint32, chunk *minegen.Chunk) (ChunkResponse, error) {
	compressed, err := compression.CompressAndFormatChunk(seed, chunk)
	if err != nil {
		return ChunkResponse{}, err
	}
	return ChunkResponse{
		ID:         chunkID(chunk),
		X:          chunk.X,
		Y:          chunk.Y,
		Seed:       seed,
		Compressed: compressed,
	}, nil
}
