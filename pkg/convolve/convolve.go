// Package convolve implements the two convolution engines: the direct 2D
// sum over the full kernel footprint, and the separable row pass followed by
// a column pass. Both skip source samples that fall outside the image and
// clamp only the final value.
package convolve

import (
	"go-sepconv/pkg/stats"
)

const (
	minSample = 0.0
	maxSample = 255.0
)

// Method names carried in stats.Record.
const (
	MethodDirect    = "direct"
	MethodSeparable = "separable"
)

// ClampMode selects how final sums are brought into sample range.
type ClampMode int

const (
	// ClampUpper caps values above 255 and lets negative values through
	// unchanged.
	ClampUpper ClampMode = iota

	// ClampBoth constrains values to [0, 255].
	ClampBoth
)

func (m ClampMode) String() string {
	if m == ClampBoth {
		return "both"
	}
	return "upper"
}

// ParseClampMode maps "upper" and "both" to a ClampMode.
func ParseClampMode(s string) (ClampMode, bool) {
	switch s {
	case "upper":
		return ClampUpper, true
	case "both":
		return ClampBoth, true
	}
	return ClampUpper, false
}

// Clamp applies mode to v.
func Clamp(v float64, mode ClampMode) float64 {
	switch {
	case v < minSample:
		if mode == ClampBoth {
			return minSample
		}
		return v
	case v > maxSample:
		return maxSample
	}
	return v
}

type options struct {
	clamp ClampMode
	sink  stats.Sink
}

// Option configures Direct and Separable.
type Option func(*options)

// WithClamp selects the clamp policy. Default: ClampUpper.
func WithClamp(m ClampMode) Option {
	return func(o *options) { o.clamp = m }
}

// WithSink sends one stats.Record per call to s.
func WithSink(s stats.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
		}
	}
}

func gatherOptions(opts []Option) options {
	o := options{clamp: ClampUpper, sink: stats.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
