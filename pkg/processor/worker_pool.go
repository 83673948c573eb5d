package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"go-sepconv/pkg/common"
	"go-sepconv/pkg/grid"
	"go-sepconv/pkg/pipeline"
	"go-sepconv/pkg/queue"
	"go-sepconv/pkg/stats"
)

const (
	readBlock     = 5 * time.Second
	retryInterval = 30 * time.Second
	staleAfter    = 30 * time.Second
	claimBatch    = 50
)

type WorkerPool struct {
	redisClient   *queue.RedisClient
	numWorkers    int
	workerID      string
	sink          stats.Sink
	jobsProcessed atomic.Int64
	jobsRejected  atomic.Int64
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorkerPool builds a pool of numWorkers consumers. sink receives the
// diagnostics of every pipeline run; nil discards them.
func NewWorkerPool(ctx context.Context, redisClient *queue.RedisClient, numWorkers int, workerID string, sink stats.Sink) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)
	if sink == nil {
		sink = stats.Nop{}
	}

	return &WorkerPool{
		redisClient: redisClient,
		numWorkers:  numWorkers,
		workerID:    workerID,
		sink:        sink,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start runs the workers and the retry monitor until Stop is called.
func (wp *WorkerPool) Start() {
	var wg sync.WaitGroup

	for i := 0; i < wp.numWorkers; i++ {
		wg.Add(1)
		go wp.worker(i, &wg)
	}

	wg.Add(1)
	go wp.retryMonitor(&wg)

	glog.Infof("WorkerPool: Started %d workers", wp.numWorkers)
	wg.Wait()
}

func (wp *WorkerPool) Stop() {
	glog.Infof("WorkerPool: Shutting down...")
	wp.cancel()
}

// Processed returns the number of jobs that produced a result message.
func (wp *WorkerPool) Processed() int64 { return wp.jobsProcessed.Load() }

// Rejected returns the number of jobs whose kernel was refused.
func (wp *WorkerPool) Rejected() int64 { return wp.jobsRejected.Load() }

func (wp *WorkerPool) worker(id int, wg *sync.WaitGroup) {
	defer wg.Done()

	consumer := fmt.Sprintf("%s-worker-%d", wp.workerID, id)
	glog.Infof("Worker %d started as consumer %s", id, consumer)

	for {
		select {
		case <-wp.ctx.Done():
			glog.Infof("Worker %d shutting down", id)
			return
		default:
			if _, err := wp.poll(wp.ctx, consumer, readBlock); err != nil && wp.ctx.Err() == nil {
				glog.Warningf("Worker %d: %v", id, err)
			}
		}
	}
}

// poll reads at most one job and handles it. It reports whether a job was
// read.
func (wp *WorkerPool) poll(ctx context.Context, consumer string, block time.Duration) (bool, error) {
	msgID, job, err := wp.redisClient.ReadJob(ctx, consumer, block)
	if err != nil {
		if msgID != "" {
			// undecodable, retrying will not help
			_ = wp.redisClient.AckJob(ctx, msgID)
		}
		return msgID != "", fmt.Errorf("read error: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, wp.handle(ctx, msgID, job)
}

func (wp *WorkerPool) handle(ctx context.Context, msgID string, job *common.JobMessage) error {
	if job.Type != common.JobTypeConvolve || job.Job == nil {
		glog.Warningf("Job %s: invalid job type %q", msgID, job.Type)
		return wp.redisClient.AckJob(ctx, msgID)
	}

	if err := wp.processJob(ctx, job.Job); err != nil {
		// not acked, the retry monitor reclaims it
		return fmt.Errorf("failed to process image %d: %w", job.Job.ImageID, err)
	}

	if err := wp.redisClient.AckJob(ctx, msgID); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", msgID, err)
	}
	if count := wp.jobsProcessed.Add(1); count%100 == 0 {
		glog.Infof("WorkerPool: Processed %d jobs total", count)
	}
	return nil
}

// processJob returns an error only for transport failures. A rejected
// kernel is published as a failed result.
func (wp *WorkerPool) processJob(ctx context.Context, job *common.ConvolveJob) error {
	startTime := time.Now()

	cached, err := wp.redisClient.CachedResult(ctx, job)
	if err != nil {
		glog.Warningf("Image %d: cache lookup failed: %v", job.ImageID, err)
	}
	if cached != nil {
		glog.V(1).Infof("Image %d: cache hit", job.ImageID)
		cached.ImageID = job.ImageID
		cached.Cached = true
		return wp.publish(ctx, cached, startTime)
	}

	src, err := wp.redisClient.GetGrid(ctx, job.GridKey)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) || errors.Is(err, queue.ErrCorruptGrid) {
			return wp.reject(ctx, job, err, startTime)
		}
		return fmt.Errorf("failed to fetch grid: %w", err)
	}

	res, output, err := wp.run(job, src)
	if err != nil {
		return wp.reject(ctx, job, err, startTime)
	}

	res.OutputKey, err = wp.redisClient.PutGrid(ctx, output)
	if err != nil {
		return fmt.Errorf("failed to store output: %w", err)
	}
	if err := wp.redisClient.CacheResult(ctx, job, res); err != nil {
		glog.Warningf("Image %d: failed to cache result: %v", job.ImageID, err)
	}
	return wp.publish(ctx, res, startTime)
}

func (wp *WorkerPool) run(job *common.ConvolveJob, src grid.Grid) (*common.ConvolveResult, grid.Grid, error) {
	k, err := job.KernelValue()
	if err != nil {
		return nil, grid.Grid{}, err
	}
	cfg, err := job.Config()
	if err != nil {
		return nil, grid.Grid{}, err
	}
	cfg.Sink = wp.sink

	out, err := pipeline.Run(k, src, cfg)
	if err != nil {
		return nil, grid.Grid{}, err
	}
	if out.Drifted() {
		glog.Warningf("Image %d: separable output differs in %d of %d cells (max diff %g)",
			job.ImageID, len(out.Report.Mismatches), out.Report.Cells, out.Report.MaxAbsDiff)
	}

	return &common.ConvolveResult{
		ImageID:    job.ImageID,
		Separable:  true,
		Row:        out.Factors.Row,
		Col:        out.Factors.Col,
		Equal:      out.Report.Equal,
		Mismatches: len(out.Report.Mismatches),
		MaxAbsDiff: out.Report.MaxAbsDiff,
		Deviation:  out.Deviation,
	}, out.Output, nil
}

func (wp *WorkerPool) reject(ctx context.Context, job *common.ConvolveJob, cause error, startTime time.Time) error {
	glog.Errorf("Image %d rejected: %v", job.ImageID, cause)
	wp.jobsRejected.Add(1)
	return wp.publish(ctx, &common.ConvolveResult{ImageID: job.ImageID, Error: cause.Error()}, startTime)
}

func (wp *WorkerPool) publish(ctx context.Context, res *common.ConvolveResult, startTime time.Time) error {
	result := &common.ResultMessage{
		Result:      res,
		WorkerID:    wp.workerID,
		ProcessTime: time.Since(startTime).Seconds(),
	}

	if _, err := wp.redisClient.AddResult(ctx, result); err != nil {
		return fmt.Errorf("failed to add result: %w", err)
	}

	return nil
}

func (wp *WorkerPool) retryMonitor(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	consumer := fmt.Sprintf("%s-retry-monitor", wp.workerID)

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			wp.retryStale(wp.ctx, consumer, staleAfter)
		}
	}
}

// retryStale claims jobs left pending by crashed or failing consumers and
// runs them again. It returns the number of jobs claimed.
func (wp *WorkerPool) retryStale(ctx context.Context, consumer string, minIdle time.Duration) int {
	claimed, err := wp.redisClient.ClaimStaleJobs(ctx, consumer, minIdle, claimBatch)
	if err != nil {
		glog.Warningf("Failed to claim stale jobs: %v", err)
		return 0
	}

	if len(claimed) > 0 {
		glog.Infof("Claimed %d stale jobs for retry", len(claimed))
	}

	for _, c := range claimed {
		if c.Job == nil {
			_ = wp.redisClient.AckJob(ctx, c.ID)
			continue
		}
		if err := wp.handle(ctx, c.ID, c.Job); err != nil {
			glog.Warningf("Retry of job %s failed: %v", c.ID, err)
		}
	}
	return len(claimed)
}
