package convolve_test

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-sepconv/pkg/convolve"
	"go-sepconv/pkg/grid"
	"go-sepconv/pkg/kernel"
	"go-sepconv/pkg/stats"
)

func mustGrid(t *testing.T, rows [][]float64) grid.Grid {
	t.Helper()
	g, err := grid.FromRows(rows)
	require.NoError(t, err)
	return g
}

func outer(col, row []float64) kernel.Matrix {
	m := make(kernel.Matrix, len(col))
	for i := range col {
		m[i] = make([]float64, len(row))
		for j := range row {
			m[i][j] = col[i] * row[j]
		}
	}
	return m
}

func randomGrid(rng *rand.Rand, w, h int) grid.Grid {
	g, _ := grid.New(w, h)
	for i := range g.Data {
		g.Data[i] = float64(rng.Intn(256))
	}
	return g
}

func TestClamp(t *testing.T) {
	for _, tc := range []struct {
		in    float64
		upper float64
		both  float64
	}{
		{-15, -15, 0},
		{0, 0, 0},
		{128.5, 128.5, 128.5},
		{255, 255, 255},
		{300, 255, 255},
	} {
		assert.Equal(t, tc.upper, convolve.Clamp(tc.in, convolve.ClampUpper), "upper(%v)", tc.in)
		assert.Equal(t, tc.both, convolve.Clamp(tc.in, convolve.ClampBoth), "both(%v)", tc.in)
	}
}

func TestBoxKernelOnFlatImage(t *testing.T) {
	src, err := grid.Filled(4, 4, 100)
	require.NoError(t, err)
	box := kernel.Matrix{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}
	third := 1.0 / 9.0
	for _, row := range box {
		for j := range row {
			row[j] *= third
		}
	}

	direct, drec := convolve.Direct(src, box)
	sep, srec := convolve.Separable(src, []float64{1, 1, 1}, []float64{third, third, third})

	for _, g := range []grid.Grid{direct, sep} {
		for i := 1; i <= 2; i++ {
			for j := 1; j <= 2; j++ {
				assert.InDelta(t, 100.0, g.At(i, j), 1e-9)
			}
		}
		// corners only see a 2x2 footprint
		assert.InDelta(t, 400.0/9.0, g.At(0, 0), 1e-9)
	}
	assert.Empty(t, cmp.Diff(direct.Data, sep.Data, cmpopts.EquateApprox(0, 1e-9)))

	// 4 positions per axis see 2,3,3,2 kernel taps
	assert.Equal(t, 100, drec.Multiplies)
	assert.Equal(t, 80, srec.Multiplies)
	assert.Equal(t, 16, drec.Pixels)
	assert.Equal(t, convolve.MethodDirect, drec.Method)
	assert.Equal(t, convolve.MethodSeparable, srec.Method)
}

func TestSingleCellKernelScalesAndClamps(t *testing.T) {
	src := mustGrid(t, [][]float64{{0, 10, 60, -3}})

	direct, _ := convolve.Direct(src, kernel.Matrix{{5}})
	sep, rec := convolve.Separable(src, []float64{5}, []float64{1})
	assert.Equal(t, []float64{0, 50, 255, -15}, direct.Data)
	assert.Equal(t, direct.Data, sep.Data)
	assert.Equal(t, 8, rec.Multiplies)

	direct, _ = convolve.Direct(src, kernel.Matrix{{5}}, convolve.WithClamp(convolve.ClampBoth))
	assert.Equal(t, []float64{0, 50, 255, 0}, direct.Data)
}

func TestEvenKernelUsesFloorOffset(t *testing.T) {
	src := mustGrid(t, [][]float64{{1, 2, 3, 4, 5}})
	row := []float64{1, 2, 4, 8}

	// out[j] = sum_k src[j+k-2] * row[k]
	want := []float64{20, 34, 49, 64, 31}

	sep, rec := convolve.Separable(src, row, []float64{1})
	assert.Equal(t, want, sep.Data)
	assert.Equal(t, 16+5, rec.Multiplies)

	direct, drec := convolve.Direct(src, kernel.Matrix{row})
	assert.Equal(t, want, direct.Data)
	assert.Equal(t, 16, drec.Multiplies)
}

func TestEvenColumnKernel(t *testing.T) {
	src := mustGrid(t, [][]float64{{1}, {2}, {3}, {4}, {5}})
	sep, _ := convolve.Separable(src, []float64{1}, []float64{1, 2, 4, 8})
	assert.Equal(t, []float64{20, 34, 49, 64, 31}, sep.Data)
}

func TestDirectMatchesSeparable(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 40; trial++ {
		n := 1 + rng.Intn(7)
		row := make([]float64, n)
		col := make([]float64, n)
		for i := 0; i < n; i++ {
			row[i] = rng.Float64()*2 - 1
			col[i] = rng.Float64()*2 - 1
		}
		src := randomGrid(rng, 1+rng.Intn(12), 1+rng.Intn(12))

		for _, mode := range []convolve.ClampMode{convolve.ClampUpper, convolve.ClampBoth} {
			direct, _ := convolve.Direct(src, outer(col, row), convolve.WithClamp(mode))
			sep, _ := convolve.Separable(src, row, col, convolve.WithClamp(mode))
			if diff := cmp.Diff(direct.Data, sep.Data, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Fatalf("trial %d (%s): direct vs separable (-direct +separable):\n%s", trial, mode, diff)
			}
		}
	}
}

func TestClampModesOnNegativeKernel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	src := randomGrid(rng, 8, 8)
	row := []float64{-1, 2, -1}
	col := []float64{1, 4, 1}

	upper, _ := convolve.Separable(src, row, col)
	both, _ := convolve.Separable(src, row, col, convolve.WithClamp(convolve.ClampBoth))

	negatives := 0
	for i, v := range upper.Data {
		assert.LessOrEqual(t, v, 255.0)
		if v < 0 {
			negatives++
			assert.Equal(t, 0.0, both.Data[i])
		}
	}
	assert.Positive(t, negatives, "upper-only clamp lets negative sums through")
	for _, v := range both.Data {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 255.0)
	}
}

func TestSourceIsNotModified(t *testing.T) {
	src := mustGrid(t, [][]float64{{1, 2}, {3, 4}})
	before := src.Clone()
	convolve.Direct(src, kernel.Matrix{{0, 1, 0}, {1, 1, 1}, {0, 1, 0}})
	convolve.Separable(src, []float64{1, 1}, []float64{1, 1})
	assert.Equal(t, before, src)
}

func TestSinkReceivesRecords(t *testing.T) {
	var c stats.Collector
	src := mustGrid(t, [][]float64{{1, 2}, {3, 4}})

	convolve.Direct(src, kernel.Matrix{{1}}, convolve.WithSink(&c))
	convolve.Separable(src, []float64{1}, []float64{1}, convolve.WithSink(&c))

	recs := c.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, convolve.MethodDirect, recs[0].Method)
	assert.Equal(t, 4, recs[0].Multiplies)
	assert.Equal(t, convolve.MethodSeparable, recs[1].Method)
	assert.Equal(t, 8, recs[1].Multiplies)
	assert.Equal(t, 2, recs[1].Rows)
}

func TestParseClampMode(t *testing.T) {
	for _, m := range []convolve.ClampMode{convolve.ClampUpper, convolve.ClampBoth} {
		got, ok := convolve.ParseClampMode(m.String())
		require.True(t, ok)
		assert.Equal(t, m, got)
	}
	_, ok := convolve.ParseClampMode("lower")
	assert.False(t, ok)
}
