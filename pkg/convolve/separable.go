package convolve

import (
	"time"

	"go-sepconv/pkg/grid"
	"go-sepconv/pkg/stats"
)

// Separable convolves every row of src with row, then every column of the
// intermediate result with col. The intermediate grid is not clamped.
func Separable(src grid.Grid, row, col []float64, opts ...Option) (grid.Grid, stats.Record) {
	o := gatherOptions(opts)
	startTime := time.Now()

	height, width := src.Height, src.Width
	mults := 0

	// row filter
	tmp := grid.Grid{Width: width, Height: height, Data: make([]float64, len(src.Data))}
	rowOff := len(row) / 2
	for i := 0; i < height; i++ {
		srcRow, tmpRow := src.Row(i), tmp.Row(i)
		for j := 0; j < width; j++ {
			sum := 0.0
			for k := range row {
				n := j + k - rowOff
				if n < 0 || n >= width {
					continue
				}
				sum += float64(srcRow[n] * row[k])
				mults++
			}
			tmpRow[j] = sum
		}
	}

	// col filter
	out := grid.Grid{Width: width, Height: height, Data: make([]float64, len(src.Data))}
	colOff := len(col) / 2
	for i := 0; i < height; i++ {
		outRow := out.Row(i)
		for j := 0; j < width; j++ {
			sum := 0.0
			for k := range col {
				m := i + k - colOff
				if m < 0 || m >= height {
					continue
				}
				sum += float64(tmp.At(m, j) * col[k])
				mults++
			}
			outRow[j] = Clamp(sum, o.clamp)
		}
	}

	rec := stats.Record{
		Method:     MethodSeparable,
		Rows:       height,
		Cols:       width,
		Pixels:     src.Pixels(),
		Multiplies: mults,
		Duration:   time.Since(startTime),
	}
	o.sink.Convolution(rec)
	return out, rec
}
