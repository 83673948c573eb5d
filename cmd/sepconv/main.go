package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"

	"go-sepconv/pkg/convolve"
	"go-sepconv/pkg/coordinator"
	"go-sepconv/pkg/imageio"
	"go-sepconv/pkg/kernel"
	"go-sepconv/pkg/pipeline"
	"go-sepconv/pkg/separable"
	"go-sepconv/pkg/stats"
)

type settings struct {
	inputPath     string
	kernelPath    string
	gaussianSize  int
	outputPath    string
	dumpPath      string
	resultsDir    string
	clampLow      bool
	pivot         string
	factor        string
	tolerance     float64
	maxMismatches int
}

func main() {
	var s settings
	flag.StringVar(&s.inputPath, "input", "", "Input image path")
	flag.StringVar(&s.kernelPath, "kernel", "", "Kernel file: scalar on the first line, then one matrix row per line")
	flag.IntVar(&s.gaussianSize, "gaussian", 0, "Use a generated Gaussian kernel of this size instead of -kernel")
	flag.StringVar(&s.outputPath, "output", "", "Output image path (default: <input>_sepconv.<ext> next to the input)")
	flag.StringVar(&s.dumpPath, "dump", "", "Write the output samples as text to this path")
	flag.StringVar(&s.resultsDir, "results", "", "Write a results summary file into this directory")
	flag.BoolVar(&s.clampLow, "clamp-low", false, "Clamp negative sums to 0 as well as capping at 255")
	flag.StringVar(&s.pivot, "pivot", "skip", "Zero-pivot policy: skip or search")
	flag.StringVar(&s.factor, "factor", "row", "Column factor policy: row or column")
	flag.Float64Var(&s.tolerance, "tolerance", 0, "Largest difference treated as equal when comparing outputs")
	flag.IntVar(&s.maxMismatches, "max-mismatches", 20, "Differing cells to log individually (0 logs all)")
	flag.Parse()
	defer glog.Flush()

	if err := run(s); err != nil {
		glog.Exitf("%v", err)
	}
}

func run(s settings) error {
	startTime := time.Now()

	if s.inputPath == "" {
		return fmt.Errorf("-input is required")
	}
	k, err := loadKernel(s)
	if err != nil {
		return err
	}
	cfg, err := pipelineConfig(s)
	if err != nil {
		return err
	}

	img, err := imageio.Load(s.inputPath)
	if err != nil {
		return err
	}
	glog.Infof("Loaded %s: %dx%d %s (%s)", s.inputPath, img.Grid.Width, img.Grid.Height, img.Format, img.ColorModel)

	collector := &stats.Collector{}
	cfg.Sink = stats.Tee(stats.LogSink{MaxMismatches: s.maxMismatches}, collector)

	res, err := pipeline.Run(k, img.Grid, cfg)
	if err != nil {
		writeResults(s, k, startTime, collector)
		return err
	}

	outputPath := s.outputPath
	if outputPath == "" {
		outputPath = coordinator.OutputPath(filepath.Dir(s.inputPath), s.inputPath)
	}
	if err := imageio.Save(outputPath, res.Output, img.Format); err != nil {
		return err
	}
	glog.Infof("Wrote %s", outputPath)

	if s.dumpPath != "" {
		if err := imageio.SaveASCII(s.dumpPath, res.Output); err != nil {
			return err
		}
		glog.Infof("Wrote pixel dump %s", s.dumpPath)
	}

	s.outputPath = outputPath
	writeResults(s, k, startTime, collector)

	glog.Infof("Total execution time: %.2fs", time.Since(startTime).Seconds())
	return nil
}

func loadKernel(s settings) (kernel.Kernel, error) {
	switch {
	case s.kernelPath != "" && s.gaussianSize > 0:
		return kernel.Kernel{}, fmt.Errorf("-kernel and -gaussian are mutually exclusive")
	case s.kernelPath != "":
		return kernel.Load(s.kernelPath)
	case s.gaussianSize > 0:
		return kernel.Gaussian(s.gaussianSize)
	}
	return kernel.Kernel{}, fmt.Errorf("one of -kernel or -gaussian is required")
}

func pipelineConfig(s settings) (pipeline.Config, error) {
	pivot, ok := separable.ParsePivotPolicy(s.pivot)
	if !ok {
		return pipeline.Config{}, fmt.Errorf("invalid -pivot %q: use skip or search", s.pivot)
	}
	factor, ok := separable.ParseFactorPolicy(s.factor)
	if !ok {
		return pipeline.Config{}, fmt.Errorf("invalid -factor %q: use row or column", s.factor)
	}
	if s.tolerance < 0 {
		return pipeline.Config{}, fmt.Errorf("invalid -tolerance %g", s.tolerance)
	}

	clamp := convolve.ClampUpper
	if s.clampLow {
		clamp = convolve.ClampBoth
	}
	return pipeline.Config{Pivot: pivot, Factor: factor, Clamp: clamp, Tolerance: s.tolerance}, nil
}

func writeResults(s settings, k kernel.Kernel, startTime time.Time, c *stats.Collector) {
	if s.resultsDir == "" {
		return
	}

	data := stats.PerformanceData{
		InputPath:   s.inputPath,
		OutputPath:  s.outputPath,
		KernelPath:  s.kernelPath,
		KernelSize:  k.Size(),
		Timestamp:   startTime,
		TotalTime:   time.Since(startTime).Seconds(),
		Convolution: c.Records(),
	}
	if v := c.Verdicts(); len(v) > 0 {
		data.Verdict = v[0]
	}
	if eq := c.Equivalences(); len(eq) > 0 {
		data.Equal = eq[0].Equal
		data.Mismatches = len(eq[0].Mismatches)
		data.MaxAbsDiff = eq[0].MaxAbsDiff
	}

	path, err := stats.WritePerformanceResults(s.resultsDir, []stats.PerformanceData{data})
	if err != nil {
		glog.Warningf("Failed to write results: %v", err)
		return
	}
	glog.Infof("Results written to %s", path)
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -input IMAGE (-kernel FILE | -gaussian N) [flags]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
