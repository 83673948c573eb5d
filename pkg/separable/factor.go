package separable

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"go-sepconv/pkg/kernel"
)

// Factors is a rank-1 split of a kernel: Row runs along image rows (columns
// of the kernel) and Col runs along image columns (rows of the kernel).
type Factors struct {
	Row []float64
	Col []float64
}

// Factorize runs Analyze on the kernel's unscaled source matrix and derives
// the column factor from that original matrix and the reduced row. The
// scalar is folded into Col only, so Row is the reduced row as returned.
func Factorize(k kernel.Kernel, opts ...Option) (Factors, error) {
	o := gatherOptions(opts)
	src := k.Source()

	row, err := Analyze(src, opts...)
	if err != nil {
		return Factors{}, err
	}

	n := len(row)
	col := make([]float64, n)
	switch o.factor {
	case FactorFromPivotColumn:
		p := firstNonZero(row)
		for i := 0; i < n; i++ {
			col[i] = src[i][p] * k.Scalar / row[p]
		}
	default:
		if row[0] == zeroPivot {
			return Factors{}, fmt.Errorf("row factor %v: %w", row, ErrDegenerateFactor)
		}
		for i := 0; i < n; i++ {
			col[i] = src[0][i] * k.Scalar / row[0]
		}
	}

	return Factors{Row: row, Col: col}, nil
}

// Reconstruct returns the outer product Col ⊗ Row.
func (f Factors) Reconstruct() *mat.Dense {
	out := mat.NewDense(len(f.Col), len(f.Row), nil)
	out.Outer(1, mat.NewVecDense(len(f.Col), f.Col), mat.NewVecDense(len(f.Row), f.Row))
	return out
}

// MaxDeviation returns the largest absolute difference between the outer
// product of the factors and the scaled kernel.
func (f Factors) MaxDeviation(k kernel.Kernel) float64 {
	scaled := k.Scaled()
	n := scaled.Rows()
	want := mat.NewDense(n, n, nil)
	for i, row := range scaled {
		want.SetRow(i, row)
	}

	var diff mat.Dense
	diff.Sub(f.Reconstruct(), want)

	worst := 0.0
	for _, v := range diff.RawMatrix().Data {
		worst = math.Max(worst, math.Abs(v))
	}
	return worst
}

func firstNonZero(row []float64) int {
	for i, v := range row {
		if v != 0.0 {
			return i
		}
	}
	return 0
}
