// Package grid holds the single-channel, row-major sample grid the
// convolution engine reads and writes.
package grid

import (
	"errors"
	"fmt"
)

// ErrBadShape is returned for non-positive dimensions or inconsistent rows.
var ErrBadShape = errors.New("grid: invalid shape")

// Grid is a Height×Width array of samples stored row by row in Data.
type Grid struct {
	Width  int
	Height int
	Data   []float64
}

// New allocates a zeroed grid.
func New(width, height int) (Grid, error) {
	if width < 1 || height < 1 {
		return Grid{}, fmt.Errorf("%dx%d: %w", width, height, ErrBadShape)
	}
	return Grid{Width: width, Height: height, Data: make([]float64, width*height)}, nil
}

// FromRows copies a [row][col] slice into a grid.
func FromRows(rows [][]float64) (Grid, error) {
	if len(rows) == 0 {
		return Grid{}, fmt.Errorf("no rows: %w", ErrBadShape)
	}
	g, err := New(len(rows[0]), len(rows))
	if err != nil {
		return Grid{}, err
	}
	for i, row := range rows {
		if len(row) != g.Width {
			return Grid{}, fmt.Errorf("row %d has %d values, want %d: %w", i, len(row), g.Width, ErrBadShape)
		}
		copy(g.Row(i), row)
	}
	return g, nil
}

// Filled returns a grid with every sample set to v.
func Filled(width, height int, v float64) (Grid, error) {
	g, err := New(width, height)
	if err != nil {
		return Grid{}, err
	}
	for i := range g.Data {
		g.Data[i] = v
	}
	return g, nil
}

// At returns the sample at row i, column j.
func (g Grid) At(i, j int) float64 { return g.Data[i*g.Width+j] }

// Set stores v at row i, column j.
func (g Grid) Set(i, j int, v float64) { g.Data[i*g.Width+j] = v }

// Row returns the backing slice of row i; writes go through to the grid.
func (g Grid) Row(i int) []float64 { return g.Data[i*g.Width : (i+1)*g.Width] }

// Pixels returns Width*Height.
func (g Grid) Pixels() int { return g.Width * g.Height }

// SameShape reports whether g and o have identical dimensions.
func (g Grid) SameShape(o Grid) bool { return g.Width == o.Width && g.Height == o.Height }

// Clone returns a deep copy.
func (g Grid) Clone() Grid {
	return Grid{Width: g.Width, Height: g.Height, Data: append([]float64(nil), g.Data...)}
}

// Rows returns a [row][col] copy of the grid.
func (g Grid) Rows() [][]float64 {
	out := make([][]float64, g.Height)
	for i := range out {
		out[i] = append([]float64(nil), g.Row(i)...)
	}
	return out
}
