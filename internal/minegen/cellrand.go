package minegen

import (
	"math"
	"math/rand/v2"
)

// cellStream selects the PCG stream used for per-cell draws.
const cellStream uint64 = 0x784df1818e1dd6c8

// CellKey packs a cell coordinate into the 64-bit PCG seed: x in the high
// word, y in the low word. Coordinates wider than 32 bits wrap.
func CellKey(x, y int64) uint64 {
	return uint64(uint32(x))<<32 | uint64(uint32(y))
}

// CellFraction returns the deterministic random fraction for a cell.
// It depends only on the coordinate, never on call order or generator state.
func CellFraction(x, y int64) float64 {
	var pcg rand.PCG
	pcg.Seed(CellKey(x, y), cellStream)
	// Same draw as rand.New(pcg).Uint32() without the allocation.
	return float64(uint32(pcg.Uint64()>>32)) / math.MaxUint32
}
