package embeddings

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want []float32
	}{
		{"3-4-5", []float32{3, 4}, []float32{0.6, 0.8}},
		{"already unit", []float32{0, 1, 0}, []float32{0, 1, 0}},
		{"negative", []float32{-2, 0}, []float32{-1, 0}},
		{"zero vector", []float32{0, 0, 0}, []float32{0, 0, 0}},
		{"empty", []float32{}, []float32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := append([]float32(nil), tt.in...)
			Normalize(v)
			if !vectorsClose(v, tt.want) {
				t.Errorf("Normalize(%v) = %v, want %v", tt.in, v, tt.want)
			}
		})
	}
}

func TestNorm(t *testing.T) {
	if n := Norm([]float32{3, 4}); math.Abs(float64(n)-5) > 1e-6 {
		t.Errorf("Norm([3 4]) = %f, want 5", n)
	}
	if n := Norm(nil); n != 0 {
		t.Errorf("Norm(nil) = %f, want 0", n)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %f, want %f", got, tt.want)
			}
		})
	}
}
