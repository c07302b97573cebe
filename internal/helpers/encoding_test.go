package helpers

import (
	"math"
	"testing"
)

func TestEuclideanDistance(t *testing.T) {
	d := EuclideanDistance([]float64{0, 0}, []float64{3, 4})
	if d != 5 {
		t.Fatalf("expected distance 5, got %v", d)
	}

	if d := EuclideanDistance([]float64{1, 2}, []float64{1, 2}); d != 0 {
		t.Fatalf("expected distance 0 for identical vectors, got %v", d)
	}
}

func TestEuclideanDistanceMismatchedLengths(t *testing.T) {
	if d := EuclideanDistance([]float64{1}, []float64{1, 2}); !math.IsInf(d, 1) {
		t.Fatalf("expected +Inf for mismatched lengths, got %v", d)
	}
	if d := EuclideanDistance(nil, nil); !math.IsInf(d, 1) {
		t.Fatalf("expected +Inf for empty vectors, got %v", d)
	}
}

func TestEncodeDecodeFloats(t *testing.T) {
	in := []float64{0.125, -3.5, 0, math.Pi}
	out, err := DecodeFloats(EncodeFloats(in))
	if err != nil {
		t.Fatalf("DecodeFloats error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d values, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("value %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

func TestDecodeFloatsBadLength(t *testing.T) {
	if _, err := DecodeFloats(make([]byte, 7)); err == nil {
		t.Fatal("expected error for blob length not a multiple of 8")
	}
}
