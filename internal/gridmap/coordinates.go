package gridmap

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sweepworld/server/internal/minegen"
)

// ChunkCoord identifies a chunk on the unbounded lattice.
type ChunkCoord struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// ID returns the string key for a chunk, e.g. "3_-2".
func (c ChunkCoord) ID() string {
	return fmt.Sprintf("%d_%d", c.X, c.Y)
}

// String implements fmt.Stringer
func (c ChunkCoord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Origin returns the absolute coordinate of the chunk's top-left cell.
func (c ChunkCoord) Origin() (int64, int64) {
	return minegen.ChunkOrigin(c.X, c.Y)
}

// ParseChunkID parses an ID produced by ChunkCoord.ID.
func ParseChunkID(id string) (ChunkCoord, error) {
	xs, ys, ok := strings.Cut(id, "_")
	if !ok {
		return ChunkCoord{}, fmt.Errorf("invalid chunk ID format: %s", id)
	}
	x, err := strconv.ParseInt(xs, 10, 32)
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("invalid chunk x in %s: %w", id, err)
	}
	y, err := strconv.ParseInt(ys, 10, 32)
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("invalid chunk y in %s: %w", id, err)
	}
	return ChunkCoord{X: int32(x), Y: int32(y)}, nil
}

// ValidateChunkCoord narrows a chunk coordinate to int32, rejecting values
// that do not fit.
func ValidateChunkCoord(x, y int64) (ChunkCoord, error) {
	if x < math.MinInt32 || x > math.MaxInt32 {
		return ChunkCoord{}, fmt.Errorf("chunk x %d is outside the int32 range", x)
	}
	if y < math.MinInt32 || y > math.MaxInt32 {
		return ChunkCoord{}, fmt.Errorf("chunk y %d is outside the int32 range", y)
	}
	return ChunkCoord{X: int32(x), Y: int32(y)}, nil
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FloorMod returns the non-negative remainder of a / b for b > 0.
func FloorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// CellToChunk returns the chunk holding an absolute cell and the cell's
// local offset inside it. Cells outside the chunk lattice are rejected.
func CellToChunk(x, y int64) (ChunkCoord, int, int, error) {
	coord, err := ValidateChunkCoord(FloorDiv(x, minegen.ChunkSize), FloorDiv(y, minegen.ChunkSize))
	if err != nil {
		return ChunkCoord{}, 0, 0, err
	}
	return coord, int(FloorMod(x, minegen.ChunkSize)), int(FloorMod(y, minegen.ChunkSize)), nil
}

// ChebyshevDistance returns the chunk distance between a and b allowing
// diagonal steps.
func ChebyshevDistance(a, b ChunkCoord) int64 {
	dx := int64(a.X) - int64(b.X)
	dy := int64(a.Y) - int64(b.Y)
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return max(dx, dy)
}
