// Package separable decides whether a square kernel has rank 1 and, if so,
// splits it into a row factor and a column factor whose outer product is the
// scaled kernel.
//
// The rank test is Gaussian elimination with partial pivoting on a private
// copy of the kernel, followed by an exact-zero check of every row below the
// first. No tolerance is applied, so round-off from the elimination itself
// can turn a mathematically rank-1 kernel into a non-separable verdict.
package separable

import (
	"errors"
	"fmt"
	"math"

	"go-sepconv/pkg/kernel"
)

// zeroPivot marks a column with no usable pivot.
const zeroPivot = 0.0

var (
	// ErrNonSeparable is returned when elimination leaves more than one
	// non-zero row, or none at all.
	ErrNonSeparable = errors.New("separable: kernel is not separable")

	// ErrDegenerateFactor is returned when the column factor would divide by
	// a zero entry of the row factor.
	ErrDegenerateFactor = errors.New("separable: zero leading factor")
)

// RankError carries the number of non-zero rows elimination left behind.
// Under PivotSearch this is the rank of the kernel.
type RankError struct {
	Rank int
	Size int
}

func (e *RankError) Error() string {
	return fmt.Sprintf("%v: elimination of %dx%d kernel left %d non-zero rows", ErrNonSeparable, e.Size, e.Size, e.Rank)
}

func (e *RankError) Unwrap() error { return ErrNonSeparable }

// Analyze reports whether m has rank exactly 1. On success it returns row 0
// of the reduced matrix, which spans every row of m. m is not modified.
func Analyze(m kernel.Matrix, opts ...Option) ([]float64, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	o := gatherOptions(opts)

	work := m.Clone()
	switch o.pivot {
	case PivotSearch:
		eliminateSearch(work)
	default:
		eliminateSkip(work)
	}

	rank := nonZeroRows(work)
	if rank != 1 || !nonZero(work[0]) {
		return nil, &RankError{Rank: rank, Size: len(work)}
	}
	return append([]float64(nil), work[0]...), nil
}

// eliminateSkip pivots on the diagonal. A zero pivot leaves the rows below
// untouched for that column.
func eliminateSkip(work kernel.Matrix) {
	n := len(work)
	for c := 0; c < n; c++ {
		pivotRow := pivotCandidate(work, c, c)
		work[c], work[pivotRow] = work[pivotRow], work[c]

		pivot := work[c][c]
		for r := c + 1; r < n; r++ {
			if pivot == zeroPivot {
				continue
			}
			eliminate(work[r], work[c], c, pivot)
		}
	}
}

// eliminateSearch reduces work to row-echelon form. The next pivot row only
// advances when a non-zero pivot is found.
func eliminateSearch(work kernel.Matrix) {
	n := len(work)
	pr := 0
	for c := 0; c < n && pr < n; c++ {
		pivotRow := pivotCandidate(work, pr, c)
		if work[pivotRow][c] == zeroPivot {
			continue
		}
		work[pr], work[pivotRow] = work[pivotRow], work[pr]

		pivot := work[pr][c]
		for r := pr + 1; r < n; r++ {
			eliminate(work[r], work[pr], c, pivot)
		}
		pr++
	}
}

// pivotCandidate returns the row in [from, n) with the largest |entry| in
// column c. Ties keep the earliest row.
func pivotCandidate(work kernel.Matrix, from, c int) int {
	best := from
	maxValue := math.Abs(work[from][c])
	for r := from + 1; r < len(work); r++ {
		if v := math.Abs(work[r][c]); v > maxValue {
			maxValue = v
			best = r
		}
	}
	return best
}

// eliminate zeroes row[c] using pivotRow and updates the columns after c.
func eliminate(row, pivotRow []float64, c int, pivot float64) {
	factor := -row[c] / pivot
	row[c] = 0
	for col := c + 1; col < len(row); col++ {
		// explicit conversion keeps the product rounded before the add (no FMA)
		row[col] += float64(factor * pivotRow[col])
	}
}

func nonZeroRows(work kernel.Matrix) int {
	count := 0
	for _, row := range work {
		if nonZero(row) {
			count++
		}
	}
	return count
}

func nonZero(row []float64) bool {
	for _, v := range row {
		if v != 0.0 {
			return true
		}
	}
	return false
}
