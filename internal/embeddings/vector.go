package embeddings

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

func vec32(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Inc: 1, Data: v}
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return blas32.Nrm2(vec32(v))
}

// Normalize scales v in place to unit length. Zero vectors are left as is.
func Normalize(v []float32) {
	n := Norm(v)
	if n == 0 {
		return
	}
	blas32.Scal(1/n, vec32(v))
}

// CosineSimilarity returns the cosine of the angle between a and b,
// or 0 if either is a zero vector or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	dot := blas32.Dot(vec32(a), vec32(b))
	sim := float64(dot) / (float64(na) * float64(nb))
	return math.Max(-1, math.Min(1, sim))
}
