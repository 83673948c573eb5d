// Package imageio moves images in and out of grid.Grid. Decoding reduces
// every pixel to one 8-bit gray sample; encoding writes the grid back as a
// gray image in the source format.
package imageio

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"go-sepconv/pkg/grid"
)

// ErrIO wraps failures to open, decode, create or encode an image file.
var ErrIO = errors.New("imageio: io failure")

// Image is a decoded single-channel image. Format is what Save needs to
// write the result back in the same file format. ColorModel names the
// source's color model for logging only: output is always 8-bit gray.
type Image struct {
	Grid       grid.Grid
	Format     string
	ColorModel string
}

// Load opens and decodes an image file.
func Load(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %v: %w", path, err, ErrIO)
	}
	defer file.Close()

	img, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode reads any registered format (png, jpeg, gif, bmp, tiff).
func Decode(r io.Reader) (*Image, error) {
	// decode gives us an image object that can be accessed by pixels
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v: %w", err, ErrIO)
	}

	bounds := img.Bounds()
	g, err := grid.New(bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, fmt.Errorf("empty image: %v: %w", err, ErrIO)
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := g.Row(y - bounds.Min.Y)
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			row[x-bounds.Min.X] = float64(gray.Y)
		}
	}

	return &Image{Grid: g, Format: format, ColorModel: modelName(img.ColorModel())}, nil
}

// ToGray converts a grid to an 8-bit gray image. Samples are truncated
// toward zero and limited to 0..255 so the encoder never wraps.
func ToGray(g grid.Grid) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	for i := 0; i < g.Height; i++ {
		row := g.Row(i)
		for j, v := range row {
			out.SetGray(j, i, color.Gray{Y: toByte(v)})
		}
	}
	return out
}

func toByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// Save writes g to path in format. An empty or unknown format falls back
// to the file extension and then to png.
func Save(path string, g grid.Grid, format string) error {
	outFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %v: %w", path, err, ErrIO)
	}
	defer outFile.Close()

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	if err := Encode(outFile, g, format); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Encode writes g in format. Unknown formats are written as png.
func Encode(w io.Writer, g grid.Grid, format string) error {
	img := ToGray(g)

	var err error
	switch format {
	case "jpeg", "jpg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case "gif":
		err = gif.Encode(w, img, nil)
	case "bmp":
		err = bmp.Encode(w, img)
	case "tiff", "tif":
		err = tiff.Encode(w, img, nil)
	default:
		err = png.Encode(w, img)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v: %w", format, err, ErrIO)
	}
	return nil
}

// WriteASCII dumps g as text, one row per line, values separated by spaces.
func WriteASCII(w io.Writer, g grid.Grid) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < g.Height; i++ {
		for j, v := range g.Row(i) {
			if j > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write pixel dump: %v: %w", err, ErrIO)
	}
	return nil
}

// SaveASCII writes the text dump of g to path.
func SaveASCII(path string, g grid.Grid) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create pixel dump %s: %v: %w", path, err, ErrIO)
	}
	defer file.Close()
	return WriteASCII(file, g)
}

func modelName(m color.Model) string {
	switch m {
	case color.GrayModel:
		return "gray"
	case color.Gray16Model:
		return "gray16"
	case color.RGBAModel:
		return "rgba"
	case color.RGBA64Model:
		return "rgba64"
	case color.NRGBAModel:
		return "nrgba"
	case color.NRGBA64Model:
		return "nrgba64"
	case color.YCbCrModel:
		return "ycbcr"
	case color.CMYKModel:
		return "cmyk"
	}
	if _, ok := m.(color.Palette); ok {
		return "paletted"
	}
	return "unknown"
}
