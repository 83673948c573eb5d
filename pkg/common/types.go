package common

import (
	"fmt"
	"time"

	"go-sepconv/pkg/convolve"
	"go-sepconv/pkg/kernel"
	"go-sepconv/pkg/pipeline"
	"go-sepconv/pkg/separable"
)

const (
	JobTypeConvolve = "convolve"
)

// ConvolveJob carries everything a worker needs to run one image through
// the pipeline. The pixel data itself lives in the grid store under GridKey.
type ConvolveJob struct {
	ImageID   int         `json:"image_id"`
	GridKey   string      `json:"grid_key"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Kernel    [][]float64 `json:"kernel"`
	Scalar    float64     `json:"scalar"`
	Pivot     string      `json:"pivot"`
	Factor    string      `json:"factor"`
	Clamp     string      `json:"clamp"`
	Tolerance float64     `json:"tolerance"`
}

// NewConvolveJob describes k and cfg in wire form.
func NewConvolveJob(imageID int, gridKey string, width, height int, k kernel.Kernel, cfg pipeline.Config) *ConvolveJob {
	return &ConvolveJob{
		ImageID:   imageID,
		GridKey:   gridKey,
		Width:     width,
		Height:    height,
		Kernel:    k.Source(),
		Scalar:    k.Scalar,
		Pivot:     cfg.Pivot.String(),
		Factor:    cfg.Factor.String(),
		Clamp:     cfg.Clamp.String(),
		Tolerance: cfg.Tolerance,
	}
}

// KernelValue rebuilds the kernel.
func (j *ConvolveJob) KernelValue() (kernel.Kernel, error) {
	return kernel.New(j.Kernel, j.Scalar)
}

// Config rebuilds the pipeline settings. The sink is left unset.
func (j *ConvolveJob) Config() (pipeline.Config, error) {
	pivot, ok := separable.ParsePivotPolicy(j.Pivot)
	if !ok {
		return pipeline.Config{}, fmt.Errorf("unknown pivot policy %q", j.Pivot)
	}
	factor, ok := separable.ParseFactorPolicy(j.Factor)
	if !ok {
		return pipeline.Config{}, fmt.Errorf("unknown factor policy %q", j.Factor)
	}
	clamp, ok := convolve.ParseClampMode(j.Clamp)
	if !ok {
		return pipeline.Config{}, fmt.Errorf("unknown clamp mode %q", j.Clamp)
	}
	return pipeline.Config{
		Pivot:     pivot,
		Factor:    factor,
		Clamp:     clamp,
		Tolerance: j.Tolerance,
	}, nil
}

// ConvolveResult is the outcome of one job. Error is set, and OutputKey is
// empty, when the kernel was rejected.
type ConvolveResult struct {
	ImageID    int       `json:"image_id"`
	OutputKey  string    `json:"output_key,omitempty"`
	Separable  bool      `json:"separable"`
	Row        []float64 `json:"row,omitempty"`
	Col        []float64 `json:"col,omitempty"`
	Equal      bool      `json:"equal"`
	Mismatches int       `json:"mismatches"`
	MaxAbsDiff float64   `json:"max_abs_diff"`
	Deviation  float64   `json:"deviation"`
	Cached     bool      `json:"cached"`
	Error      string    `json:"error,omitempty"`
}

// Failed reports whether the worker rejected the job.
func (r *ConvolveResult) Failed() bool { return r.Error != "" }

type ImageInfo struct {
	ID         int       `json:"id"`
	InputPath  string    `json:"input_path"`
	OutputPath string    `json:"output_path"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Format     string    `json:"format"`
	LoadTime   time.Time `json:"load_time"`
	StartTime  time.Time `json:"start_time"`
}

type JobMessage struct {
	Type string       `json:"type"`
	Job  *ConvolveJob `json:"job,omitempty"`
}

type ResultMessage struct {
	Result      *ConvolveResult `json:"result"`
	WorkerID    string          `json:"worker_id"`
	ProcessTime float64         `json:"process_time"`
}
