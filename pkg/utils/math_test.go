package utils

import (
	"math"
	"testing"
)

func TestNormalizedCopy(t *testing.T) {
	in := []float32{3, 4}
	out := NormalizedCopy(in)
	if in[0] != 3 || in[1] != 4 {
		t.Errorf("input mutated: %v", in)
	}
	if math.Abs(float64(out[0])-0.6) > 1e-6 || math.Abs(float64(out[1])-0.8) > 1e-6 {
		t.Errorf("got %v", out)
	}
	zero := NormalizedCopy([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should stay zero, got %v", zero)
	}
}
