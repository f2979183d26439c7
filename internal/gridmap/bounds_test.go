package gridmap

import (
	"errors"
	"math"
	"testing"
)

func TestWorldRectToChunkBounds(t *testing.T) {
	tests := []struct {
		name     string
		rect     Rect
		expected Bounds
	}{
		{"single chunk", Rect{0, 0, 16, 16}, Bounds{0, 0, 1, 1}},
		{"partial cells", Rect{0.5, 1, 16.5, 15}, Bounds{0, 0, 2, 1}},
		{"negative", Rect{-20, -1, -3, 4}, Bounds{-2, -1, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WorldRectToChunkBounds(tt.rect); got != tt.expected {
				t.Errorf("WorldRectToChunkBounds(%+v) = %+v, expected %+v", tt.rect, got, tt.expected)
			}
		})
	}
}

func TestRectValidate(t *testing.T) {
	if err := (Rect{0, 0, 10, 10}).Validate(); err != nil {
		t.Errorf("Expected valid rect, got %v", err)
	}
	if err := (Rect{0, 0, 0, 10}).Validate(); !errors.Is(err, ErrEmptyRect) {
		t.Errorf("Expected ErrEmptyRect, got %v", err)
	}
	if err := (Rect{math.NaN(), 0, 1, 1}).Validate(); err == nil {
		t.Error("Expected error for NaN coordinate")
	}
	if err := (Rect{0, 0, 1e15, 1}).Validate(); err == nil {
		t.Error("Expected error for coordinate outside the world")
	}
}

func TestBoundsCoords(t *testing.T) {
	b := Bounds{X1: -1, Y1: 0, X2: 1, Y2: 2}
	if b.Count() != 4 {
		t.Fatalf("Expected 4 chunks, got %d", b.Count())
	}
	expected := []ChunkCoord{{-1, 0}, {0, 0}, {-1, 1}, {0, 1}}
	got := b.Coords()
	if len(got) != len(expected) {
		t.Fatalf("Expected %d coords, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("coord %d: expected %v, got %v", i, expected[i], got[i])
		}
		if !b.Contains(got[i]) {
			t.Errorf("Expected bounds to contain %v", got[i])
		}
	}
	if b.Contains(ChunkCoord{1, 0}) {
		t.Error("Expected upper bound to be exclusive")
	}
}

func TestBoundsExpandAndClamp(t *testing.T) {
	b := Bounds{0, 0, 1, 1}.Expand(2)
	if b != (Bounds{-2, -2, 3, 3}) {
		t.Errorf("Unexpected expanded bounds %+v", b)
	}
	if b.Count() != 25 {
		t.Errorf("Expected 25 chunks, got %d", b.Count())
	}

	edge := Bounds{math.MaxInt32, math.MinInt32, math.MaxInt32 + 1, math.MinInt32 + 1}.Expand(1).Clamp()
	if edge != (Bounds{math.MaxInt32 - 1, math.MinInt32, math.MaxInt32 + 1, math.MinInt32 + 2}) {
		t.Errorf("Unexpected clamped bounds %+v", edge)
	}
	if (Bounds{2, 2, 1, 1}).Count() != 0 {
		t.Error("Expected inverted bounds to be empty")
	}
}

func TestBoundsCountSaturates(t *testing.T) {
	world := Bounds{math.MinInt32, math.MinInt32, math.MaxInt32 + 1, math.MaxInt32 + 1}
	if n := world.Count(); n != math.MaxInt64 {
		t.Errorf("Expected whole-world count to saturate, got %d", n)
	}
	wide := Bounds{math.MinInt32, 0, math.MaxInt32 + 1, 1}
	if n := wide.Count(); n != 1<<32 {
		t.Errorf("Expected 2^32 chunks in one row, got %d", n)
	}
}
