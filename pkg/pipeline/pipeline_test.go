package pipeline_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-sepconv/pkg/convolve"
	"go-sepconv/pkg/grid"
	"go-sepconv/pkg/kernel"
	"go-sepconv/pkg/pipeline"
	"go-sepconv/pkg/separable"
	"go-sepconv/pkg/stats"
)

func mustKernel(t *testing.T, m kernel.Matrix, scalar float64) kernel.Kernel {
	t.Helper()
	k, err := kernel.New(m, scalar)
	require.NoError(t, err)
	return k
}

func TestRunBoxScenario(t *testing.T) {
	k := mustKernel(t, kernel.Matrix{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}, 1.0/9.0)
	src, err := grid.Filled(4, 4, 100)
	require.NoError(t, err)

	var c stats.Collector
	res, err := pipeline.Run(k, src, pipeline.Config{Tolerance: 1e-9, Sink: &c})
	require.NoError(t, err)

	assert.True(t, res.Report.Equal)
	assert.False(t, res.Drifted())
	for i := 1; i <= 2; i++ {
		for j := 1; j <= 2; j++ {
			assert.InDelta(t, 100, res.Output.At(i, j), 1e-9)
			assert.InDelta(t, 100, res.Separable.At(i, j), 1e-9)
		}
	}
	assert.Equal(t, res.Direct, res.Output)

	require.Len(t, c.Records(), 2)
	assert.Equal(t, 100, c.Records()[0].Multiplies)
	assert.Equal(t, 80, c.Records()[1].Multiplies)
	require.Len(t, c.Verdicts(), 1)
	assert.True(t, c.Verdicts()[0].Separable)
	require.Len(t, c.Equivalences(), 1)

	// caller's kernel keeps its unscaled matrix
	assert.Equal(t, kernel.Matrix{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}, k.Matrix())
	assert.False(t, k.IsScaled())
}

func TestRunSingleCell(t *testing.T) {
	k := mustKernel(t, kernel.Matrix{{5}}, 1)
	src, err := grid.FromRows([][]float64{{1, 20}, {60, -2}})
	require.NoError(t, err)

	res, err := pipeline.Run(k, src, pipeline.Config{})
	require.NoError(t, err)

	assert.Equal(t, []float64{5}, res.Factors.Row)
	assert.Equal(t, []float64{5, 100, 255, -10}, res.Output.Data)
	assert.True(t, res.Report.Equal)

	res, err = pipeline.Run(k, src, pipeline.Config{Clamp: convolve.ClampBoth})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 100, 255, 0}, res.Output.Data)
}

func TestRunNonSeparableIsFatal(t *testing.T) {
	k := mustKernel(t, kernel.Matrix{{1, 0}, {0, 1}}, 1)
	src, err := grid.Filled(3, 3, 10)
	require.NoError(t, err)

	var c stats.Collector
	res, err := pipeline.Run(k, src, pipeline.Config{Sink: &c})
	require.ErrorIs(t, err, separable.ErrNonSeparable)
	assert.Nil(t, res)

	assert.Empty(t, c.Records(), "no convolution after a failed rank test")
	require.Len(t, c.Verdicts(), 1)
	assert.False(t, c.Verdicts()[0].Separable)
	assert.Equal(t, 2, c.Verdicts()[0].Rank)
}

func TestRunMalformedKernel(t *testing.T) {
	src, err := grid.Filled(2, 2, 1)
	require.NoError(t, err)

	_, err = pipeline.Run(kernel.Kernel{}, src, pipeline.Config{})
	require.ErrorIs(t, err, kernel.ErrMalformedKernel)
}

func TestRunAsymmetricKernelDrift(t *testing.T) {
	sobelX := mustKernel(t, kernel.Matrix{{1, 0, -1}, {2, 0, -2}, {1, 0, -1}}, 1)
	rng := rand.New(rand.NewSource(5))
	src, err := grid.New(6, 5)
	require.NoError(t, err)
	for i := range src.Data {
		src.Data[i] = float64(rng.Intn(256))
	}

	t.Run("first row factor drifts", func(t *testing.T) {
		res, err := pipeline.Run(sobelX, src, pipeline.Config{})
		require.NoError(t, err, "drift is not an error")
		assert.True(t, res.Drifted())
		assert.NotEmpty(t, res.Report.Mismatches)
		assert.Greater(t, res.Deviation, 0.0)
	})

	t.Run("pivot column factor agrees", func(t *testing.T) {
		res, err := pipeline.Run(sobelX, src, pipeline.Config{
			Factor:    separable.FactorFromPivotColumn,
			Tolerance: 1e-9,
		})
		require.NoError(t, err)
		assert.False(t, res.Drifted())
		assert.Equal(t, 0.0, res.Deviation)
	})
}

func TestRunGaussian(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	src, err := grid.New(9, 7)
	require.NoError(t, err)
	for i := range src.Data {
		src.Data[i] = float64(rng.Intn(256))
	}

	for size := 1; size <= 15; size++ {
		for _, pivot := range []separable.PivotPolicy{separable.PivotSkip, separable.PivotSearch} {
			t.Run(fmt.Sprintf("%d/%v", size, pivot), func(t *testing.T) {
				k, err := kernel.Gaussian(size)
				require.NoError(t, err)

				res, err := pipeline.Run(k, src, pipeline.Config{
					Pivot:     pivot,
					Tolerance: 1e-9,
				})
				require.NoError(t, err)
				assert.False(t, res.Drifted())
				assert.Less(t, res.Deviation, 1e-12)
			})
		}
	}
}
