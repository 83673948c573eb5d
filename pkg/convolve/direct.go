package convolve

import (
	"time"

	"go-sepconv/pkg/grid"
	"go-sepconv/pkg/kernel"
	"go-sepconv/pkg/stats"
)

// Direct convolves src with the full kernel k, which must already carry its
// scalar. Kernel cell (k, l) reads source cell (i+k-N/2, j+l-M/2); cells
// outside the image contribute nothing.
func Direct(src grid.Grid, k kernel.Matrix, opts ...Option) (grid.Grid, stats.Record) {
	o := gatherOptions(opts)
	startTime := time.Now()

	out := grid.Grid{Width: src.Width, Height: src.Height, Data: make([]float64, len(src.Data))}
	kRows, kCols := k.Rows(), k.Cols()
	offR, offC := kRows/2, kCols/2
	mults := 0

	for i := 0; i < src.Height; i++ {
		outRow := out.Row(i)
		for j := 0; j < src.Width; j++ {
			sum := 0.0
			for ki := 0; ki < kRows; ki++ {
				m := i + ki - offR
				if m < 0 || m >= src.Height {
					continue
				}
				srcRow, kRow := src.Row(m), k[ki]
				for l := 0; l < kCols; l++ {
					n := j + l - offC
					if n < 0 || n >= src.Width {
						continue
					}
					sum += float64(srcRow[n] * kRow[l])
					mults++
				}
			}
			outRow[j] = Clamp(sum, o.clamp)
		}
	}

	rec := stats.Record{
		Method:     MethodDirect,
		Rows:       src.Height,
		Cols:       src.Width,
		Pixels:     src.Pixels(),
		Multiplies: mults,
		Duration:   time.Since(startTime),
	}
	o.sink.Convolution(rec)
	return out, rec
}
