package minegen

import (
	"math"
)

const (
	// ChunkSize is the side length of a chunk in cells.
	ChunkSize = 16
	// ChunkCells is the number of cells in a chunk.
	ChunkCells = ChunkSize * ChunkSize

	paddedSize = ChunkSize + 2
)

// GeneratorVersion identifies the output of this generator. Anything that
// stores generated chunks must key on it.
const GeneratorVersion = 1

// NoiseScale is applied to cell coordinates before sampling noise. Gradient
// noise is zero on integer lattice points, so the scale is irrational.
const NoiseScale = math.Pi / 50

// AlgorithmCustom names fields passed to NewWithNoise.
const AlgorithmCustom = "custom"

// Generator produces chunks for one seed. It holds no mutable state and is
// safe for concurrent use.
type Generator struct {
	seed      uint32
	algorithm string
	noise     NoiseField
}

// New creates a generator backed by Perlin noise.
func New(seed uint32) *Generator {
	return &Generator{
		seed:      seed,
		algorithm: AlgorithmPerlin,
		noise:     NewPerlinField(seed),
	}
}

// NewWithAlgorithm creates a generator backed by the named noise algorithm.
func NewWithAlgorithm(seed uint32, algorithm string) (*Generator, error) {
	field, err := NewNoiseField(algorithm, seed)
	if err != nil {
		return nil, err
	}
	if algorithm == "" {
		algorithm = AlgorithmPerlin
	}
	return &Generator{seed: seed, algorithm: algorithm, noise: field}, nil
}

// NewWithNoise creates a generator over an arbitrary noise field.
func NewWithNoise(seed uint32, field NoiseField) *Generator {
	return &Generator{seed: seed, algorithm: AlgorithmCustom, noise: field}
}

// Seed returns the world seed.
func (g *Generator) Seed() uint32 {
	return g.seed
}

// Algorithm returns the name of the noise algorithm in use.
func (g *Generator) Algorithm() string {
	return g.algorithm
}

// Density returns |noise| at the scaled cell coordinate.
func (g *Generator) Density(x, y int64) float64 {
	return math.Abs(g.noise.Sample2D(float64(x)*NoiseScale, float64(y)*NoiseScale))
}

// Classify returns the raw classification of an absolute cell. It does not
// apply the Open-to-Revealed upgrade that Generate performs.
func (g *Generator) Classify(x, y int64) Classification {
	return ClassifyDensity(g.Density(x, y), CellFraction(x, y))
}

// NeighborCount counts hazards among the eight neighbours of a cell by
// classifying each one directly.
func (g *Generator) NeighborCount(x, y int64) uint8 {
	var n uint8
	for dy := int64(-1); dy <= 1; dy++ {
		for dx := int64(-1); dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if g.Classify(x+dx, y+dy) == Hazard {
				n++
			}
		}
	}
	return n
}

// Cell returns the final classification and count of one absolute cell,
// matching what Generate reports for it.
func (g *Generator) Cell(x, y int64) (Classification, uint8) {
	class := g.Classify(x, y)
	count := g.NeighborCount(x, y)
	if class == Open && count > 0 {
		class = Revealed
	}
	return class, count
}

// ChunkOrigin returns the absolute coordinate of a chunk's top-left cell.
func ChunkOrigin(chunkX, chunkY int32) (int64, int64) {
	return int64(chunkX) * ChunkSize, int64(chunkY) * ChunkSize
}

type paddedGrid [paddedSize][paddedSize]Classification

// padded classifies the chunk plus a one-cell border. Index [0][0] is the
// cell at (origin-1, origin-1).
func (g *Generator) padded(chunkX, chunkY int32) *paddedGrid {
	ox, oy := ChunkOrigin(chunkX, chunkY)
	var grid paddedGrid
	for py := 0; py < paddedSize; py++ {
		for px := 0; px < paddedSize; px++ {
			grid[py][px] = g.Classify(ox-1+int64(px), oy-1+int64(py))
		}
	}
	return &grid
}

// Generate produces the chunk at (chunkX, chunkY).
//
// The padded border of the outermost chunks reaches cells outside int32.
// Those cells reuse the random fraction of the cell 2^32 away (see CellKey),
// the same on every path, so stitching still agrees.
func (g *Generator) Generate(chunkX, chunkY int32) Chunk {
	grid := g.padded(chunkX, chunkY)

	chunk := Chunk{X: chunkX, Y: chunkY}
	for y := 0; y < ChunkSize; y++ {
		for x := 0; x < ChunkSize; x++ {
			class := grid[y+1][x+1]

			var count uint8
			for dy := 0; dy <= 2; dy++ {
				for dx := 0; dx <= 2; dx++ {
					if dx == 1 && dy == 1 {
						continue
					}
					if grid[y+dy][x+dx] == Hazard {
						count++
					}
				}
			}

			// Open promises zero adjacent hazards.
			if class == Open && count > 0 {
				class = Revealed
			}

			i := y*ChunkSize + x
			chunk.Classes[i] = class
			chunk.Counts[i] = count
		}
	}
	return chunk
}
