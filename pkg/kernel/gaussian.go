package kernel

import (
	"fmt"
	"math"
)

// weightGrid keeps weights and their pairwise products exact in a float64.
const weightGrid = 1 << 16

// Gaussian creates a size×size Gaussian kernel. The matrix holds the
// unnormalised weights and the scalar is 1/sum, so the scaled kernel sums to 1.
// The 1D weights are rounded to multiples of 2^-16, so every entry is an
// exact product of two weights and elimination against the centre row
// cancels the other rows to exactly zero.
func Gaussian(size int) (Kernel, error) {
	if size < 1 {
		return Kernel{}, fmt.Errorf("gaussian size %d: %w", size, ErrMalformedKernel)
	}

	// Sigma should be proportional to size, but not too large
	// Common formula: sigma = radius / 3, where radius = size / 2
	sigma := float64(size) / 3.0
	center := size / 2

	weights := make([]float64, size)
	for i := range weights {
		x := float64(i - center)
		weights[i] = math.Round(math.Exp(-(x*x)/(2*sigma*sigma))*weightGrid) / weightGrid
	}

	sum := 0.0
	m := make(Matrix, size)
	for i := 0; i < size; i++ {
		m[i] = make([]float64, size)
		for j := 0; j < size; j++ {
			m[i][j] = weights[i] * weights[j]
			sum += m[i][j]
		}
	}

	return New(m, 1/sum)
}
