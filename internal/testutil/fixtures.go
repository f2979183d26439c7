package testutil

import (
	"math/rand/v2"

	"github.com/sweepworld/server/internal/gridmap"
)

// Fixtures produces reproducible test inputs from a fixed seed.
type Fixtures struct {
	rng *rand.Rand
}

// NewFixtures creates a fixture source. Equal seeds give equal sequences.
func NewFixtures(seed uint64) *Fixtures {
	return &Fixtures{rng: rand.New(rand.NewPCG(seed, 0))}
}

// Seed returns a world seed.
func (f *Fixtures) Seed() uint32 {
	return f.rng.Uint32()
}

// ChunkCoord returns a chunk coordinate within +/-radius of the origin.
func (f *Fixtures) ChunkCoord(radius int32) gridmap.ChunkCoord {
	span := int(2*radius + 1)
	return gridmap.ChunkCoord{
		X: int32(f.rng.IntN(span)) - radius,
		Y: int32(f.rng.IntN(span)) - radius,
	}
}

// ChunkCoords returns n distinct chunk coordinates within +/-radius.
// n must not exceed the number of chunks in that square.
func (f *Fixtures) ChunkCoords(n int, radius int32) []gridmap.ChunkCoord {
	seen := make(map[gridmap.ChunkCoord]struct{}, n)
	coords := make([]gridmap.ChunkCoord, 0, n)
	for len(coords) < n {
		c := f.ChunkCoord(radius)
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		coords = append(coords, c)
	}
	return coords
}

// Viewport returns a viewport of the given size in cells anchored at a random
// cell within +/-radius chunks.
func (f *Fixtures) Viewport(width, height float64, radius int32) gridmap.Rect {
	origin := f.ChunkCoord(radius)
	x, y := origin.Origin()
	return gridmap.Rect{X1: float64(x), Y1: float64(y), X2: float64(x) + width, Y2: float64(y) + height}
}
