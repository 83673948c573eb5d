package kernel

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
)

// Load opens a kernel description file and parses it.
func Load(path string) (Kernel, error) {
	file, err := os.Open(path)
	if err != nil {
		return Kernel{}, fmt.Errorf("failed to open %s: %v: %w", path, err, ErrIO)
	}
	defer file.Close()

	k, err := Parse(file)
	if err != nil {
		return Kernel{}, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}

// Parse reads a kernel description. The first non-blank line holds the
// scalar, written either as a fraction ("1/9") or a decimal ("0.5"). Every
// following non-blank line is one row of whitespace-separated values.
func Parse(r io.Reader) (Kernel, error) {
	scanner := bufio.NewScanner(r)

	var (
		scalar    float64
		scalarSet bool
		rows      Matrix
		lineNo    int
	)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !scalarSet {
			v, err := parseScalar(line)
			if err != nil {
				return Kernel{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			scalar = v
			scalarSet = true
			continue
		}

		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Kernel{}, fmt.Errorf("line %d: bad value %q: %w", lineNo, f, ErrMalformedKernel)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return Kernel{}, fmt.Errorf("failed to read kernel: %v: %w", err, ErrIO)
	}

	if len(rows) == 0 {
		return Kernel{}, fmt.Errorf("not enough data found: %w", ErrMalformedKernel)
	}
	return New(rows, scalar)
}

// parseScalar accepts anything big.Rat understands: "1/9", "0.25", "3", "1e-2".
func parseScalar(s string) (float64, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, fmt.Errorf("bad scalar %q: %w", s, ErrMalformedKernel)
	}
	v, _ := r.Float64()
	return v, nil
}
