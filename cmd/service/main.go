package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"

	"go-sepconv/pkg/assembler"
	"go-sepconv/pkg/convolve"
	"go-sepconv/pkg/coordinator"
	"go-sepconv/pkg/kernel"
	"go-sepconv/pkg/pipeline"
	"go-sepconv/pkg/processor"
	"go-sepconv/pkg/queue"
	"go-sepconv/pkg/separable"
	"go-sepconv/pkg/stats"
)

func main() {
	var (
		redisAddr    = flag.String("redis", "localhost:6379", "Redis address")
		inputDir     = flag.String("input", "/data/input", "Input directory")
		outputDir    = flag.String("output", "/data/output", "Output directory")
		kernelPath   = flag.String("kernel", "", "Kernel file (coordinator)")
		gaussianSize = flag.Int("gaussian", 0, "Generated Gaussian kernel size, instead of -kernel (coordinator)")
		pivot        = flag.String("pivot", "skip", "Zero-pivot policy: skip or search")
		factor       = flag.String("factor", "row", "Column factor policy: row or column")
		clampLow     = flag.Bool("clamp-low", false, "Clamp negative sums to 0")
		tolerance    = flag.Float64("tolerance", 0, "Largest difference treated as equal")
		numWorkers   = flag.Int("workers", 10, "Number of worker goroutines")
		resultsDir   = flag.String("results", "logs", "Directory for the results summary (assembler)")
		mode         = flag.String("mode", "all", "Mode: coordinator, worker, assembler, or all")
	)
	flag.Parse()
	defer glog.Flush()

	hostname, _ := os.Hostname()
	serviceID := fmt.Sprintf("%s-%d", hostname, time.Now().Unix())

	glog.Infof("Starting separable convolution service")
	glog.Infof("Mode: %s, Service ID: %s", *mode, serviceID)
	glog.Infof("Redis: %s, Workers: %d", *redisAddr, *numWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := queue.NewRedisClient(ctx, *redisAddr)
	if err != nil {
		glog.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	if err := redisClient.EnsureGroups(ctx); err != nil {
		glog.Fatalf("Failed to ensure Redis groups: %v", err)
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		glog.Fatalf("Failed to create output directory: %v", err)
	}

	newCoordinator := func() *coordinator.Coordinator {
		k, err := loadKernel(*kernelPath, *gaussianSize)
		if err != nil {
			glog.Fatalf("Failed to load kernel: %v", err)
		}
		cfg, err := pipelineConfig(*pivot, *factor, *clampLow, *tolerance)
		if err != nil {
			glog.Fatalf("%v", err)
		}
		return coordinator.NewCoordinator(redisClient, k, cfg)
	}

	var wg sync.WaitGroup

	switch *mode {
	case "coordinator":
		runCoordinator(ctx, newCoordinator(), *inputDir, *outputDir, false)

	case "worker":
		workerPool := processor.NewWorkerPool(ctx, redisClient, *numWorkers, serviceID, nil)

		wg.Add(1)
		go func() {
			defer wg.Done()
			workerPool.Start()
		}()

		<-ctx.Done()
		workerPool.Stop()

	case "assembler":
		imageAssembler := assembler.NewAssembler(ctx, redisClient, serviceID)

		wg.Add(1)
		go func() {
			defer wg.Done()
			imageAssembler.Start()
		}()

		<-ctx.Done()
		imageAssembler.Stop()
		wg.Wait()
		writeSummary(*resultsDir, imageAssembler)

	case "all":
		coord := newCoordinator()

		workerPool := processor.NewWorkerPool(ctx, redisClient, *numWorkers, serviceID, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerPool.Start()
		}()

		imageAssembler := assembler.NewAssembler(ctx, redisClient, serviceID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			imageAssembler.Start()
		}()

		runCoordinator(ctx, coord, *inputDir, *outputDir, true)

		glog.Infof("Shutting down all components...")
		workerPool.Stop()
		imageAssembler.Stop()
		wg.Wait()
		writeSummary(*resultsDir, imageAssembler)
		glog.Infof("Processed %d jobs, %d rejected", workerPool.Processed(), workerPool.Rejected())

	default:
		glog.Exitf("Invalid mode: %s. Use coordinator, worker, assembler, or all", *mode)
	}

	wg.Wait()
	glog.Infof("Service shutdown complete")
}

// runCoordinator queues every image in inputDir. With wait set it blocks
// until the assembler has finished all of them or ctx is cancelled.
func runCoordinator(ctx context.Context, coord *coordinator.Coordinator, inputDir, outputDir string, wait bool) {
	imagePaths := coordinator.FindImages(inputDir)
	if len(imagePaths) == 0 {
		glog.Warningf("No images found in %s", inputDir)
		return
	}

	glog.Infof("Coordinator: Processing %d images", len(imagePaths))

	startTime := time.Now()
	ids, err := coord.ProcessImages(ctx, imagePaths, outputDir)
	if err != nil {
		glog.Errorf("Coordinator failed: %v", err)
	} else {
		glog.Infof("Coordinator: All images queued in %.2fs", time.Since(startTime).Seconds())
	}

	if !wait {
		return
	}
	if err := coord.WaitForImages(ctx, ids, time.Second); err != nil {
		glog.Warningf("Coordinator: %v", err)
		return
	}
	glog.Infof("Coordinator: All images completed in %.2fs", time.Since(startTime).Seconds())
}

func writeSummary(dir string, a *assembler.Assembler) {
	path, err := stats.WritePerformanceResults(dir, a.Summary())
	if err != nil {
		glog.Warningf("Failed to write results: %v", err)
		return
	}
	if path != "" {
		glog.Infof("Results written to %s", path)
	}
}

func loadKernel(path string, gaussianSize int) (kernel.Kernel, error) {
	switch {
	case path != "" && gaussianSize > 0:
		return kernel.Kernel{}, fmt.Errorf("-kernel and -gaussian are mutually exclusive")
	case path != "":
		return kernel.Load(path)
	case gaussianSize > 0:
		return kernel.Gaussian(gaussianSize)
	}
	return kernel.Kernel{}, fmt.Errorf("one of -kernel or -gaussian is required")
}

func pipelineConfig(pivot, factor string, clampLow bool, tolerance float64) (pipeline.Config, error) {
	p, ok := separable.ParsePivotPolicy(pivot)
	if !ok {
		return pipeline.Config{}, fmt.Errorf("invalid -pivot %q: use skip or search", pivot)
	}
	f, ok := separable.ParseFactorPolicy(factor)
	if !ok {
		return pipeline.Config{}, fmt.Errorf("invalid -factor %q: use row or column", factor)
	}

	clamp := convolve.ClampUpper
	if clampLow {
		clamp = convolve.ClampBoth
	}
	return pipeline.Config{Pivot: p, Factor: f, Clamp: clamp, Tolerance: tolerance}, nil
}
