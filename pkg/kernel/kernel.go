package kernel

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMalformedKernel is returned for empty, ragged, non-square or
	// non-finite kernel data.
	ErrMalformedKernel = errors.New("kernel: malformed kernel")

	// ErrIO wraps failures to open or read a kernel file.
	ErrIO = errors.New("kernel: io failure")
)

// Matrix is a rectangular grid of real numbers stored row by row.
type Matrix [][]float64

// Rows returns the number of rows.
func (m Matrix) Rows() int { return len(m) }

// Cols returns the length of the first row, or 0 for an empty matrix.
func (m Matrix) Cols() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Clone returns a deep copy of the matrix.
func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Validate checks that the matrix is non-empty, square and holds only finite
// values.
func (m Matrix) Validate() error {
	if len(m) == 0 || len(m[0]) == 0 {
		return fmt.Errorf("empty matrix: %w", ErrMalformedKernel)
	}
	cols := len(m[0])
	for i, row := range m {
		if len(row) != cols {
			return fmt.Errorf("row %d has %d values, want %d: %w", i, len(row), cols, ErrMalformedKernel)
		}
	}
	if cols > len(m) {
		return fmt.Errorf("%d columns greater than %d rows: %w", cols, len(m), ErrMalformedKernel)
	}
	if cols != len(m) {
		return fmt.Errorf("non-square %dx%d matrix: %w", len(m), cols, ErrMalformedKernel)
	}
	for i, row := range m {
		for j, v := range row {
			if !isFinite(v) {
				return fmt.Errorf("entry (%d,%d) is %v: %w", i, j, v, ErrMalformedKernel)
			}
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Kernel is an N×N convolution matrix plus a scalar multiplier that applies
// uniformly to every entry.
type Kernel struct {
	source Matrix
	matrix Matrix
	Scalar float64
	scaled bool
}

// New validates m and builds a Kernel. The matrix is copied.
func New(m Matrix, scalar float64) (Kernel, error) {
	if err := m.Validate(); err != nil {
		return Kernel{}, err
	}
	if !isFinite(scalar) {
		return Kernel{}, fmt.Errorf("scalar is %v: %w", scalar, ErrMalformedKernel)
	}
	return Kernel{source: m.Clone(), matrix: m.Clone(), Scalar: scalar}, nil
}

// Clone returns a Kernel that shares no storage with k.
func (k Kernel) Clone() Kernel {
	return Kernel{source: k.source.Clone(), matrix: k.matrix.Clone(), Scalar: k.Scalar, scaled: k.scaled}
}

// Size returns N.
func (k Kernel) Size() int { return len(k.source) }

// Source returns a copy of the matrix as it was before the scalar was applied.
func (k Kernel) Source() Matrix { return k.source.Clone() }

// Scaled returns a copy of the matrix with the scalar multiplied into every
// entry, regardless of whether ApplyScalar has run.
func (k Kernel) Scaled() Matrix {
	if k.scaled {
		return k.matrix.Clone()
	}
	out := k.source.Clone()
	for _, row := range out {
		for j := range row {
			row[j] *= k.Scalar
		}
	}
	return out
}

// ApplyScalar multiplies the scalar into the working matrix in place. It is a
// no-op after the first call.
func (k *Kernel) ApplyScalar() {
	if k.scaled {
		return
	}
	for _, row := range k.matrix {
		for j := range row {
			row[j] *= k.Scalar
		}
	}
	k.scaled = true
}

// Matrix returns the working matrix (scaled once ApplyScalar has run).
func (k Kernel) Matrix() Matrix { return k.matrix.Clone() }

// IsScaled reports whether ApplyScalar has run.
func (k Kernel) IsScaled() bool { return k.scaled }
