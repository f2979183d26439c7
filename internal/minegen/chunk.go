package minegen

import (
	"strings"
)

// Chunk is one generated 16x16 block. Both arrays are row-major with y as
// the outer index.
type Chunk struct {
	X, Y    int32
	Classes [ChunkCells]Classification
	Counts  [ChunkCells]uint8
}

// At returns the classification and count at a local offset.
func (c *Chunk) At(lx, ly int) (Classification, uint8) {
	i := ly*ChunkSize + lx
	return c.Classes[i], c.Counts[i]
}

// ClassBytes returns a copy of the classifications as raw bytes.
func (c *Chunk) ClassBytes() []byte {
	out := make([]byte, ChunkCells)
	for i, class := range c.Classes {
		out[i] = byte(class)
	}
	return out
}

// CountBytes returns a copy of the neighbour counts.
func (c *Chunk) CountBytes() []byte {
	out := make([]byte, ChunkCells)
	copy(out, c.Counts[:])
	return out
}

// Stats tallies each classification in the chunk.
func (c *Chunk) Stats() (open, revealed, hazard int) {
	for _, class := range c.Classes {
		switch class {
		case Open:
			open++
		case Revealed:
			revealed++
		case Hazard:
			hazard++
		}
	}
	return open, revealed, hazard
}

// String renders the chunk with Dump.
func (c Chunk) String() string {
	return Dump(c)
}

// Dump renders a chunk as text for manual inspection: '.' for Open, '!' for
// Hazard and the neighbour count for Revealed. The format is not stable.
func Dump(c Chunk) string {
	var b strings.Builder
	b.Grow(ChunkSize * (ChunkSize + 1))
	for y := 0; y < ChunkSize; y++ {
		for x := 0; x < ChunkSize; x++ {
			class, count := c.At(x, y)
			switch class {
			case Open:
				b.WriteByte('.')
			case Hazard:
				b.WriteByte('!')
			default:
				b.WriteByte('0' + count)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// CheckInvariants returns the local offsets of Open cells with a non-zero
// count. A correct chunk returns nil.
func CheckInvariants(c Chunk) [][2]int {
	var bad [][2]int
	for i, class := range c.Classes {
		if class == Open && c.Counts[i] != 0 {
			bad = append(bad, [2]int{i % ChunkSize, i / ChunkSize})
		}
	}
	return bad
}
