package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"go-sepconv/pkg/common"
	"go-sepconv/pkg/imageio"
	"go-sepconv/pkg/kernel"
	"go-sepconv/pkg/pipeline"
	"go-sepconv/pkg/queue"
)

// OutputSuffix is appended to the input file name to form the output name.
const OutputSuffix = "_sepconv"

type Coordinator struct {
	redisClient *queue.RedisClient
	kernel      kernel.Kernel
	config      pipeline.Config
}

func NewCoordinator(redisClient *queue.RedisClient, k kernel.Kernel, cfg pipeline.Config) *Coordinator {
	return &Coordinator{
		redisClient: redisClient,
		kernel:      k,
		config:      cfg,
	}
}

// ProcessImage loads one image, stores its grid and metadata and queues a
// single convolution job for it.
func (c *Coordinator) ProcessImage(ctx context.Context, imageID int, inputPath, outputPath string) error {
	glog.Infof("Coordinator: Processing image %d from %s", imageID, inputPath)
	startTime := time.Now()

	img, err := imageio.Load(inputPath)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	loadTime := time.Now()

	gridKey, err := c.redisClient.PutGrid(ctx, img.Grid)
	if err != nil {
		return fmt.Errorf("failed to store grid: %w", err)
	}

	imageInfo := &common.ImageInfo{
		ID:         imageID,
		InputPath:  inputPath,
		OutputPath: outputPath,
		Width:      img.Grid.Width,
		Height:     img.Grid.Height,
		Format:     img.Format,
		LoadTime:   loadTime,
		StartTime:  startTime,
	}

	if err := c.redisClient.StoreImageInfo(ctx, imageInfo); err != nil {
		return fmt.Errorf("failed to store image info: %w", err)
	}

	if err := c.redisClient.ResetImageStatus(ctx, imageID); err != nil {
		return fmt.Errorf("failed to reset image %d status: %w", imageID, err)
	}

	job := &common.JobMessage{
		Type: common.JobTypeConvolve,
		Job:  common.NewConvolveJob(imageID, gridKey, img.Grid.Width, img.Grid.Height, c.kernel, c.config),
	}
	if _, err := c.redisClient.AddJob(ctx, job); err != nil {
		return fmt.Errorf("failed to queue image %d: %w", imageID, err)
	}

	glog.Infof("Coordinator: Image %d (%dx%d %s, %s) queued in %.2fs",
		imageID, img.Grid.Width, img.Grid.Height, img.Format, img.ColorModel, time.Since(startTime).Seconds())

	return nil
}

// ProcessImages queues every path concurrently and returns the ids used,
// in path order.
func (c *Coordinator) ProcessImages(ctx context.Context, imagePaths []string, outputDir string) ([]int, error) {
	var wg sync.WaitGroup
	errors := make(chan error, len(imagePaths))

	ids := make([]int, len(imagePaths))
	for i, inputPath := range imagePaths {
		ids[i] = i
		wg.Add(1)
		go func(id int, path string) {
			defer wg.Done()

			if err := c.ProcessImage(ctx, id, path, OutputPath(outputDir, path)); err != nil {
				errors <- fmt.Errorf("image %d: %w", id, err)
			}
		}(i, inputPath)
	}

	wg.Wait()
	close(errors)

	var allErrors []error
	for err := range errors {
		glog.Errorf("Coordinator: %v", err)
		allErrors = append(allErrors, err)
	}

	if len(allErrors) > 0 {
		return ids, fmt.Errorf("failed to process %d images: %w", len(allErrors), allErrors[0])
	}

	return ids, nil
}

// WaitForImages polls until every id is marked completed or ctx is done.
func (c *Coordinator) WaitForImages(ctx context.Context, ids []int, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	pending := append([]int(nil), ids...)
	for {
		remaining := pending[:0]
		for _, id := range pending {
			done, err := c.redisClient.IsImageCompleted(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to check image %d: %w", id, err)
			}
			if !done {
				remaining = append(remaining, id)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%d images still pending: %w", len(pending), ctx.Err())
		case <-ticker.C:
		}
	}
}

// OutputPath names the output for inputPath inside outputDir, keeping the
// input's extension.
func OutputPath(outputDir, inputPath string) string {
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	return filepath.Join(outputDir, strings.TrimSuffix(base, ext)+OutputSuffix+ext)
}

// FindImages lists the decodable images in dir, skipping earlier outputs.
func FindImages(dir string) []string {
	var images []string

	patterns := []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.bmp", "*.tif", "*.tiff"}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err == nil {
			images = append(images, matches...)
		}
	}

	kept := images[:0]
	for _, path := range images {
		if !strings.Contains(filepath.Base(path), OutputSuffix) {
			kept = append(kept, path)
		}
	}

	return kept
}
