// Package minegen generates the cells of an infinite minesweeper grid.
//
// The grid is split into 16x16 chunks. Each chunk is derived from the world
// seed and its coordinate alone, so any chunk can be produced in isolation
// and in any order while still agreeing with its neighbours at the edges.
package minegen

import "fmt"

// Classification is the one-byte state of a generated cell.
type Classification uint8

const (
	// Open cells have no adjacent hazards.
	Open Classification = 0
	// Revealed cells are safe and carry an adjacent-hazard count.
	Revealed Classification = 1
	// Hazard cells hold a mine.
	Hazard Classification = 2
)

// Density band boundaries. These are tuned for gameplay and must not change
// without bumping GeneratorVersion.
const (
	openBelow       = 0.15
	hazardBandStart = 0.40
	hazardBandEnd   = 0.53
	hazardBandOdds  = 0.6
	rampStart       = 0.60
	rampCap         = 0.4
)

// String returns the lowercase name of the classification.
func (c Classification) String() string {
	switch c {
	case Open:
		return "open"
	case Revealed:
		return "revealed"
	case Hazard:
		return "hazard"
	default:
		return "unknown"
	}
}

// Valid reports whether c is one of the three defined classifications.
func (c Classification) Valid() bool {
	return c <= Hazard
}

// MarshalText encodes the classification by name.
func (c Classification) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid classification %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (c *Classification) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*c = Open
	case "revealed":
		*c = Revealed
	case "hazard":
		*c = Hazard
	default:
		return fmt.Errorf("unknown classification %q", text)
	}
	return nil
}

// ClassifyDensity maps a noise density and a per-cell fraction r in [0, 1)
// onto a classification. Bands are checked in order and the first match wins.
func ClassifyDensity(density, r float64) Classification {
	if density < openBelow {
		return Open
	}

	if density >= hazardBandStart && density < hazardBandEnd {
		if r < hazardBandOdds {
			return Hazard
		}
		return Revealed
	}

	if density > rampStart {
		p := min(rampCap, (density-rampStart)/(1-rampStart))
		if r < p {
			return Hazard
		}
		return Revealed
	}

	return Revealed
}
