// Package verify compares the direct and separable convolution outputs cell
// by cell.
package verify

import (
	"errors"
	"fmt"
	"math"

	"go-sepconv/pkg/grid"
)

// ErrShapeMismatch is returned when the two grids differ in size.
var ErrShapeMismatch = errors.New("verify: grids differ in shape")

// Mismatch is one differing cell.
type Mismatch struct {
	Row       int
	Col       int
	Direct    float64
	Separable float64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("[%d][%d]=%v\n%v", m.Row, m.Col, m.Direct, m.Separable)
}

// Report is the outcome of Compare. Equal is false iff Mismatches is non-empty.
type Report struct {
	Equal      bool
	Tolerance  float64
	Cells      int
	Mismatches []Mismatch
	MaxAbsDiff float64
}

// Compare walks both grids in row-major order. With tolerance 0 the test is
// exact floating equality.
func Compare(direct, separable grid.Grid, tolerance float64) (Report, error) {
	if !direct.SameShape(separable) {
		return Report{}, fmt.Errorf("%dx%d vs %dx%d: %w",
			direct.Width, direct.Height, separable.Width, separable.Height, ErrShapeMismatch)
	}

	report := Report{Tolerance: tolerance, Cells: direct.Pixels()}
	for i := 0; i < direct.Height; i++ {
		a, b := direct.Row(i), separable.Row(i)
		for j := range a {
			if a[j] == b[j] {
				continue
			}
			diff := math.Abs(a[j] - b[j])
			if diff > report.MaxAbsDiff || math.IsNaN(diff) {
				report.MaxAbsDiff = diff
			}
			if diff <= tolerance {
				continue
			}
			report.Mismatches = append(report.Mismatches, Mismatch{Row: i, Col: j, Direct: a[j], Separable: b[j]})
		}
	}
	report.Equal = len(report.Mismatches) == 0
	return report, nil
}
