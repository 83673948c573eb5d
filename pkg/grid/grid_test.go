package grid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-sepconv/pkg/grid"
)

func TestNewRejectsEmpty(t *testing.T) {
	for _, dims := range [][2]int{{0, 1}, {1, 0}, {-1, 3}} {
		_, err := grid.New(dims[0], dims[1])
		require.ErrorIs(t, err, grid.ErrBadShape)
	}
}

func TestFromRows(t *testing.T) {
	g, err := grid.FromRows([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)

	assert.Equal(t, 3, g.Width)
	assert.Equal(t, 2, g.Height)
	assert.Equal(t, 6.0, g.At(1, 2))
	assert.Equal(t, []float64{4, 5, 6}, g.Row(1))
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, g.Rows())

	_, err = grid.FromRows([][]float64{{1, 2}, {3}})
	require.ErrorIs(t, err, grid.ErrBadShape)
	_, err = grid.FromRows(nil)
	require.ErrorIs(t, err, grid.ErrBadShape)
}

func TestCloneIsIndependent(t *testing.T) {
	g, err := grid.Filled(2, 2, 7)
	require.NoError(t, err)

	c := g.Clone()
	c.Set(0, 0, 1)
	assert.Equal(t, 7.0, g.At(0, 0))
	assert.True(t, g.SameShape(c))
	assert.Equal(t, 4, c.Pixels())
}
