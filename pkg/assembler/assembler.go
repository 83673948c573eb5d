package assembler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"go-sepconv/pkg/common"
	"go-sepconv/pkg/imageio"
	"go-sepconv/pkg/queue"
	"go-sepconv/pkg/stats"
)

const (
	readBlock          = 5 * time.Second
	checkpointInterval = 10 * time.Second
	retryInterval      = 30 * time.Second
	staleAfter         = 30 * time.Second
	claimBatch         = 50
)

type Assembler struct {
	redisClient *queue.RedisClient
	assemblerID string
	imageMap    map[int]*ImageAssembly
	mutex       sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// ImageAssembly tracks what happened to one image.
type ImageAssembly struct {
	info      *common.ImageInfo
	result    *common.ConvolveResult
	workerID  string
	completed bool
	mutex     sync.Mutex
}

func NewAssembler(ctx context.Context, redisClient *queue.RedisClient, assemblerID string) *Assembler {
	ctx, cancel := context.WithCancel(ctx)

	return &Assembler{
		redisClient: redisClient,
		assemblerID: assemblerID,
		imageMap:    make(map[int]*ImageAssembly),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (a *Assembler) Start() {
	var wg sync.WaitGroup

	wg.Add(1)
	go a.resultProcessor(&wg)

	wg.Add(1)
	go a.checkpointMonitor(&wg)

	wg.Add(1)
	go a.retryMonitor(&wg)

	glog.Infof("Assembler %s started", a.assemblerID)
	wg.Wait()
}

func (a *Assembler) Stop() {
	glog.Infof("Assembler: Shutting down...")
	a.cancel()
}

func (a *Assembler) resultProcessor(wg *sync.WaitGroup) {
	defer wg.Done()

	consumer := fmt.Sprintf("assembler-%s", a.assemblerID)

	for {
		select {
		case <-a.ctx.Done():
			return
		default:
			if _, err := a.poll(a.ctx, consumer, readBlock); err != nil && a.ctx.Err() == nil {
				glog.Warningf("Assembler: %v", err)
			}
		}
	}
}

// poll reads at most one result and handles it. It reports whether a
// result was read. A result that could not be saved stays unacked until the
// retry monitor claims it.
func (a *Assembler) poll(ctx context.Context, consumer string, block time.Duration) (bool, error) {
	msgID, msg, err := a.redisClient.ReadResult(ctx, consumer, block)
	if err != nil {
		if msgID != "" {
			_ = a.redisClient.AckResult(ctx, msgID)
		}
		return msgID != "", fmt.Errorf("read error: %w", err)
	}
	if msg == nil {
		return false, nil
	}
	if msg.Result == nil {
		return true, a.redisClient.AckResult(ctx, msgID)
	}

	if err := a.processResult(ctx, msg); err != nil {
		return true, fmt.Errorf("failed to process result for image %d: %w", msg.Result.ImageID, err)
	}
	return true, a.redisClient.AckResult(ctx, msgID)
}

func (a *Assembler) processResult(ctx context.Context, msg *common.ResultMessage) error {
	res := msg.Result
	assembly, err := a.getOrCreateAssembly(ctx, res.ImageID)
	if err != nil {
		return fmt.Errorf("failed to get assembly: %w", err)
	}

	assembly.mutex.Lock()
	defer assembly.mutex.Unlock()

	if assembly.completed {
		glog.V(1).Infof("Image %d already assembled (idempotent)", res.ImageID)
		return nil
	}

	if res.Failed() {
		glog.Errorf("Image %d failed on worker %s: %s", res.ImageID, msg.WorkerID, res.Error)
	} else {
		out, err := a.redisClient.GetGrid(ctx, res.OutputKey)
		if err != nil {
			return fmt.Errorf("failed to fetch output: %w", err)
		}
		if err := imageio.Save(assembly.info.OutputPath, out, assembly.info.Format); err != nil {
			return fmt.Errorf("failed to save image: %w", err)
		}
		if !res.Equal {
			glog.Warningf("Image %d: separable convolution not equal to original convolution (%d cells, max diff %g)",
				res.ImageID, res.Mismatches, res.MaxAbsDiff)
		}
	}

	assembly.result = res
	assembly.workerID = msg.WorkerID
	assembly.completed = true

	if err := a.redisClient.MarkImageCompleted(ctx, res.ImageID); err != nil {
		glog.Warningf("Warning: failed to mark image %d as completed in Redis: %v", res.ImageID, err)
	}

	duration := time.Since(assembly.info.StartTime).Seconds()
	glog.Infof("Image %d assembled to %s in %.2fs (worker %.2fs, cached=%v)",
		res.ImageID, assembly.info.OutputPath, duration, msg.ProcessTime, res.Cached)

	return nil
}

// getOrCreateAssembly returns the assembly for the image's current run. An
// image id reused by a later coordinator run gets a fresh assembly.
func (a *Assembler) getOrCreateAssembly(ctx context.Context, imageID int) (*ImageAssembly, error) {
	info, err := a.redisClient.GetImageInfo(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get image info: %w", err)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if assembly, exists := a.imageMap[imageID]; exists && assembly.info.StartTime.Equal(info.StartTime) {
		return assembly, nil
	}

	assembly := &ImageAssembly{info: info}
	a.imageMap[imageID] = assembly

	glog.V(1).Infof("Created assembly for image %d (%dx%d %s)",
		imageID, info.Width, info.Height, info.Format)

	return assembly, nil
}

// Summary returns one entry per completed image, ordered by image id, in
// the form written by stats.WritePerformanceResults.
func (a *Assembler) Summary() []stats.PerformanceData {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	ids := make([]int, 0, len(a.imageMap))
	for id := range a.imageMap {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var out []stats.PerformanceData
	for _, id := range ids {
		assembly := a.imageMap[id]
		assembly.mutex.Lock()
		if assembly.completed {
			out = append(out, performanceData(assembly))
		}
		assembly.mutex.Unlock()
	}
	return out
}

func performanceData(assembly *ImageAssembly) stats.PerformanceData {
	res := assembly.result
	data := stats.PerformanceData{
		InputPath:  assembly.info.InputPath,
		Timestamp:  assembly.info.StartTime,
		TotalTime:  time.Since(assembly.info.StartTime).Seconds(),
		Equal:      res.Equal,
		Mismatches: res.Mismatches,
		MaxAbsDiff: res.MaxAbsDiff,
		KernelSize: len(res.Row),
	}
	if res.Failed() {
		data.Verdict = stats.Verdict{Err: errors.New(res.Error)}
		return data
	}
	data.OutputPath = assembly.info.OutputPath
	data.Verdict = stats.Verdict{
		Separable: res.Separable,
		Size:      len(res.Row),
		Row:       res.Row,
		Col:       res.Col,
		Rank:      1,
		Deviation: res.Deviation,
	}
	return data
}

func (a *Assembler) checkpointMonitor(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.mutex.RLock()
			activeImages := len(a.imageMap)
			var incompleteCount int
			for _, assembly := range a.imageMap {
				assembly.mutex.Lock()
				if !assembly.completed {
					incompleteCount++
				}
				assembly.mutex.Unlock()
			}
			a.mutex.RUnlock()

			if activeImages > 0 {
				glog.Infof("Assembler status: %d active images, %d incomplete",
					activeImages, incompleteCount)
			}
		}
	}
}

func (a *Assembler) retryMonitor(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	consumer := fmt.Sprintf("assembler-%s-retry-monitor", a.assemblerID)

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.retryStale(a.ctx, consumer, staleAfter)
		}
	}
}

// retryStale claims results left pending by a failed save or a crashed
// assembler and handles them again. It returns the number assembled.
func (a *Assembler) retryStale(ctx context.Context, consumer string, minIdle time.Duration) int {
	claimed, err := a.redisClient.ClaimStaleResults(ctx, consumer, minIdle, claimBatch)
	if err != nil {
		glog.Warningf("Failed to claim stale results: %v", err)
		return 0
	}

	if len(claimed) > 0 {
		glog.Infof("Claimed %d stale results for retry", len(claimed))
	}

	assembled := 0
	for _, c := range claimed {
		if c.Result == nil || c.Result.Result == nil {
			_ = a.redisClient.AckResult(ctx, c.ID)
			continue
		}
		if err := a.processResult(ctx, c.Result); err != nil {
			glog.Warningf("Retry of image %d failed: %v", c.Result.Result.ImageID, err)
			continue
		}
		if err := a.redisClient.AckResult(ctx, c.ID); err != nil {
			glog.Warningf("Failed to ack result %s: %v", c.ID, err)
			continue
		}
		assembled++
	}
	return assembled
}
