package gridmap

import (
	"errors"
	"math"

	"github.com/sweepworld/server/internal/minegen"
)

// ErrEmptyRect is returned for a rectangle with no area.
var ErrEmptyRect = errors.New("rectangle is empty")

// maxCellCoord bounds rectangle coordinates to the cells of int32 chunks.
const maxCellCoord = (math.MaxInt32 + 1) * minegen.ChunkSize

// Rect is an axis-aligned rectangle in cell units. X2 and Y2 are exclusive.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Validate checks that the rectangle is finite and has positive area.
func (r Rect) Validate() error {
	for _, v := range []float64{r.X1, r.Y1, r.X2, r.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("rectangle coordinates must be finite")
		}
		if math.Abs(v) > maxCellCoord {
			return errors.New("rectangle coordinates are outside the world")
		}
	}
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return ErrEmptyRect
	}
	return nil
}

// Bounds is a half-open range of chunks: X1 <= x < X2, Y1 <= y < Y2.
type Bounds struct {
	X1, Y1, X2, Y2 int64
}

// WorldRectToChunkBounds returns the chunks that overlap a cell rectangle.
func WorldRectToChunkBounds(r Rect) Bounds {
	return Bounds{
		X1: int64(math.Floor(r.X1 / minegen.ChunkSize)),
		Y1: int64(math.Floor(r.Y1 / minegen.ChunkSize)),
		X2: int64(math.Ceil(r.X2 / minegen.ChunkSize)),
		Y2: int64(math.Ceil(r.Y2 / minegen.ChunkSize)),
	}
}

// Expand grows the bounds by margin chunks on every side.
func (b Bounds) Expand(margin int64) Bounds {
	return Bounds{X1: b.X1 - margin, Y1: b.Y1 - margin, X2: b.X2 + margin, Y2: b.Y2 + margin}
}

// Clamp limits the bounds to chunk coordinates representable as int32.
func (b Bounds) Clamp() Bounds {
	clamp := func(v int64) int64 {
		return max(math.MinInt32, min(math.MaxInt32+1, v))
	}
	return Bounds{X1: clamp(b.X1), Y1: clamp(b.Y1), X2: clamp(b.X2), Y2: clamp(b.Y2)}
}

// Count returns the number of chunks in the bounds, saturating at
// math.MaxInt64.
func (b Bounds) Count() int64 {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	w, h := b.X2-b.X1, b.Y2-b.Y1
	if w > math.MaxInt64/h {
		return math.MaxInt64
	}
	return w * h
}

// Contains reports whether c lies inside the bounds.
func (b Bounds) Contains(c ChunkCoord) bool {
	x, y := int64(c.X), int64(c.Y)
	return x >= b.X1 && x < b.X2 && y >= b.Y1 && y < b.Y2
}

// Coords lists the chunks in row-major order. Callers should check Count
// first; bounds must already be clamped.
func (b Bounds) Coords() []ChunkCoord {
	coords := make([]ChunkCoord, 0, b.Count())
	for y := b.Y1; y < b.Y2; y++ {
		for x := b.X1; x < b.X2; x++ {
			coords = append(coords, ChunkCoord{X: int32(x), Y: int32(y)})
		}
	}
	return coords
}
