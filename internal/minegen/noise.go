package minegen

import (
	"errors"
	"fmt"
	"math"

	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"
)

// Noise algorithm names accepted by NewNoiseField.
const (
	AlgorithmPerlin      = "perlin"
	AlgorithmOpenSimplex = "opensimplex"
)

// ErrUnknownNoiseAlgorithm is returned for an unsupported algorithm name.
var ErrUnknownNoiseAlgorithm = errors.New("unknown noise algorithm")

// NoiseField is a seeded coherent 2D noise source with output in [-1, 1].
// Implementations must be deterministic for a given seed and safe for
// concurrent reads.
type NoiseField interface {
	Sample2D(x, y float64) float64
}

// PerlinField samples single-octave Perlin noise.
type PerlinField struct {
	noise *perlin.Perlin
}

// NewPerlinField creates a Perlin field seeded from seed.
func NewPerlinField(seed uint32) *PerlinField {
	// alpha and beta only matter for n > 1
	return &PerlinField{noise: perlin.NewPerlin(2, 2, 1, int64(seed))}
}

// Sample2D returns the noise value at (x, y). A single octave of
// gradient noise peaks at about 1/sqrt(2), so the output is stretched to
// cover the full range.
func (f *PerlinField) Sample2D(x, y float64) float64 {
	return clampUnit(f.noise.Noise2D(x, y) * math.Sqrt2)
}

// SimplexField samples OpenSimplex noise.
type SimplexField struct {
	noise opensimplex.Noise
}

// NewSimplexField creates an OpenSimplex field seeded from seed.
func NewSimplexField(seed uint32) *SimplexField {
	return &SimplexField{noise: opensimplex.New(int64(seed))}
}

// Sample2D returns the noise value at (x, y).
func (f *SimplexField) Sample2D(x, y float64) float64 {
	return clampUnit(f.noise.Eval2(x, y))
}

// NewNoiseField builds the named noise field. An empty name selects Perlin.
func NewNoiseField(algorithm string, seed uint32) (NoiseField, error) {
	switch algorithm {
	case "", AlgorithmPerlin:
		return NewPerlinField(seed), nil
	case AlgorithmOpenSimplex:
		return NewSimplexField(seed), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNoiseAlgorithm, algorithm)
	}
}

// ValidAlgorithm reports whether NewNoiseField accepts the name.
func ValidAlgorithm(algorithm string) bool {
	switch algorithm {
	case "", AlgorithmPerlin, AlgorithmOpenSimplex:
		return true
	}
	return false
}

func clampUnit(v float64) float64 {
	return max(-1, min(1, v))
}
