package semantic

import (
	"fmt"
	"math"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// Dot returns the inner product of a and b over their common length.
func Dot(a, b domain.Vector) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v domain.Vector) float64 {
	return math.Sqrt(Dot(v, v))
}

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1].
// It is 0 when either vector has zero length or the dimensions differ.
func Cosine(a, b domain.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	c := Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, c))
}

// Normalize returns v scaled to unit length. Empty vectors, NaN or infinite
// components, and zero vectors are rejected with ErrDegenerateVector.
func Normalize(v []float32) (domain.Vector, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty", domain.ErrDegenerateVector)
	}
	var sum float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: component %d is %v", domain.ErrDegenerateVector, i, x)
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: zero vector", domain.ErrDegenerateVector)
	}
	n := math.Sqrt(sum)
	out := make(domain.Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// CheckDims returns ErrDimensionMismatch unless len(v) == want.
func CheckDims(v domain.Vector, want int) error {
	if len(v) != want {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(v), want)
	}
	return nil
}
