package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go-sepconv/pkg/verify"
)

// Record describes one convolution call.
type Record struct {
	Method     string
	Rows       int
	Cols       int
	Pixels     int
	Multiplies int
	Duration   time.Duration
}

// Verdict is the outcome of the separability test.
type Verdict struct {
	Separable bool
	Size      int
	Row       []float64
	Col       []float64
	Rank      int
	Deviation float64
	Err       error
}

// Sink receives diagnostics. No pipeline behaviour depends on it.
type Sink interface {
	Convolution(Record)
	Separability(Verdict)
	Equivalence(verify.Report)
}

// PerformanceData holds timing and metadata for one pipeline run
type PerformanceData struct {
	InputPath  string
	OutputPath string
	KernelPath string
	KernelSize int
	Timestamp  time.Time
	TotalTime  float64

	Verdict     Verdict
	Convolution []Record

	// Equivalence results
	Equal      bool
	Mismatches int
	MaxAbsDiff float64
}

// WritePerformanceResults writes a single combined results file under dir
func WritePerformanceResults(dir string, results []PerformanceData) (string, error) {
	return WritePerformanceResultsWithPrefix(dir, results, "sepconv_")
}

// WritePerformanceResultsWithPrefix writes results file with custom prefix
func WritePerformanceResultsWithPrefix(dir string, results []PerformanceData, prefix string) (string, error) {
	if len(results) == 0 {
		return "", nil
	}

	// Ensure logs directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	// Use timestamp from first result
	timestamp := results[0].Timestamp.Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(dir, fmt.Sprintf("%s%s.txt", prefix, timestamp))

	file, err := os.Create(resultsFile)
	if err != nil {
		return "", fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	fmt.Fprintf(file, "=== Separable Convolution Results ===\n")
	fmt.Fprintf(file, "Timestamp: %s\n\n", results[0].Timestamp.Format("2006-01-02 15:04:05"))

	for i, result := range results {
		fmt.Fprintf(file, "=== Run %d ===\n", i+1)
		fmt.Fprintf(file, "Input: %s\n", result.InputPath)
		if result.OutputPath != "" {
			fmt.Fprintf(file, "Output: %s\n", result.OutputPath)
		}
		if result.KernelPath != "" {
			fmt.Fprintf(file, "Kernel file: %s\n", result.KernelPath)
		}
		fmt.Fprintf(file, "Kernel size: %d\n", result.KernelSize)

		if result.Verdict.Separable {
			fmt.Fprintf(file, "Separable: yes\n")
			fmt.Fprintf(file, "Row factor: %v\n", result.Verdict.Row)
			fmt.Fprintf(file, "Column factor: %v\n", result.Verdict.Col)
			fmt.Fprintf(file, "Reconstruction deviation: %g\n", result.Verdict.Deviation)
		} else {
			fmt.Fprintf(file, "Separable: no (%v)\n", result.Verdict.Err)
		}

		for _, rec := range result.Convolution {
			fmt.Fprintf(file, "\n%s convolution\n", rec.Method)
			fmt.Fprintf(file, "  Image Dimensions: Row=%d Col=%d\n", rec.Rows, rec.Cols)
			fmt.Fprintf(file, "  Total Pixels: %d\n", rec.Pixels)
			fmt.Fprintf(file, "  Total Multipliers: %d\n", rec.Multiplies)
			fmt.Fprintf(file, "  Time: %.4fs\n", rec.Duration.Seconds())
		}

		if len(result.Convolution) > 0 {
			if result.Equal {
				fmt.Fprintf(file, "\nSeparable convolution matches original convolution\n")
			} else {
				fmt.Fprintf(file, "\nSeparable convolution not equal to original convolution: %d cells, max diff %g\n",
					result.Mismatches, result.MaxAbsDiff)
			}
		}

		fmt.Fprintf(file, "Total execution time: %.2fs\n\n", result.TotalTime)
	}

	return resultsFile, nil
}
