package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"go-sepconv/pkg/common"
	"go-sepconv/pkg/grid"
)

// ErrNotFound is returned when a key has expired or was never written.
var ErrNotFound = errors.New("queue: not found")

const (
	workersGroup    = "workers"
	assemblersGroup = "assemblers"
	entryTTL        = 24 * time.Hour
)

type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(ctx context.Context, addr string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{client: client}, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) jobsStream() string {
	return "sepconv:jobs"
}

func (r *RedisClient) resultsStream() string {
	return "sepconv:results"
}

func (r *RedisClient) imageInfoKey(imageID int) string {
	return fmt.Sprintf("sepconv:image:%d:info", imageID)
}

func (r *RedisClient) imageStatusKey(imageID int) string {
	return fmt.Sprintf("sepconv:image:%d:status", imageID)
}

func (r *RedisClient) gridKey(digest uint64) string {
	return fmt.Sprintf("sepconv:grid:%016x", digest)
}

func (r *RedisClient) cacheKey(digest uint64) string {
	return fmt.Sprintf("sepconv:cache:%016x", digest)
}

// EnsureGroups creates both streams and their consumer groups. A group that
// already exists is not an error.
func (r *RedisClient) EnsureGroups(ctx context.Context) error {
	for stream, group := range map[string]string{
		r.jobsStream():    workersGroup,
		r.resultsStream(): assemblersGroup,
	} {
		err := r.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("failed to create group %s on %s: %w", group, stream, err)
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func (r *RedisClient) add(ctx context.Context, stream string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	result := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": b},
	})

	return result.Val(), result.Err()
}

// read returns an empty id and a nil error when nothing arrived within block.
func (r *RedisClient) read(ctx context.Context, stream, group, consumer string, block time.Duration, v any) (string, error) {
	result, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(result) == 0 || len(result[0].Messages) == 0 {
		return "", nil
	}

	msg := result[0].Messages[0]
	if err := json.Unmarshal(r.bytesFromInterface(msg.Values["data"]), v); err != nil {
		return msg.ID, fmt.Errorf("failed to decode message %s: %w", msg.ID, err)
	}
	return msg.ID, nil
}

func (r *RedisClient) AddJob(ctx context.Context, job *common.JobMessage) (string, error) {
	return r.add(ctx, r.jobsStream(), job)
}

func (r *RedisClient) AddResult(ctx context.Context, res *common.ResultMessage) (string, error) {
	return r.add(ctx, r.resultsStream(), res)
}

// ReadJob returns a nil job when the block timeout expires. A message that
// fails to decode is returned with its id so the caller can ack it.
func (r *RedisClient) ReadJob(ctx context.Context, consumer string, block time.Duration) (string, *common.JobMessage, error) {
	var job common.JobMessage
	id, err := r.read(ctx, r.jobsStream(), workersGroup, consumer, block, &job)
	if err != nil || id == "" {
		return id, nil, err
	}
	return id, &job, nil
}

func (r *RedisClient) AckJob(ctx context.Context, id string) error {
	return r.client.XAck(ctx, r.jobsStream(), workersGroup, id).Err()
}

// ReadResult behaves like ReadJob on the results stream.
func (r *RedisClient) ReadResult(ctx context.Context, consumer string, block time.Duration) (string, *common.ResultMessage, error) {
	var res common.ResultMessage
	id, err := r.read(ctx, r.resultsStream(), assemblersGroup, consumer, block, &res)
	if err != nil || id == "" {
		return id, nil, err
	}
	return id, &res, nil
}

func (r *RedisClient) AckResult(ctx context.Context, id string) error {
	return r.client.XAck(ctx, r.resultsStream(), assemblersGroup, id).Err()
}

func (r *RedisClient) StoreImageInfo(ctx context.Context, info *common.ImageInfo) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.imageInfoKey(info.ID), b, entryTTL).Err()
}

func (r *RedisClient) GetImageInfo(ctx context.Context, imageID int) (*common.ImageInfo, error) {
	data, err := r.client.Get(ctx, r.imageInfoKey(imageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("image %d info: %w", imageID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var info common.ImageInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

func (r *RedisClient) MarkImageCompleted(ctx context.Context, imageID int) error {
	return r.client.Set(ctx, r.imageStatusKey(imageID), "completed", entryTTL).Err()
}

// ResetImageStatus forgets a completion left by an earlier run that used the
// same image id.
func (r *RedisClient) ResetImageStatus(ctx context.Context, imageID int) error {
	return r.client.Del(ctx, r.imageStatusKey(imageID)).Err()
}

func (r *RedisClient) IsImageCompleted(ctx context.Context, imageID int) (bool, error) {
	result, err := r.client.Get(ctx, r.imageStatusKey(imageID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result == "completed", nil
}

// PutGrid stores g compressed under a key derived from its content and
// returns the key. Storing the same grid twice writes the same key.
func (r *RedisClient) PutGrid(ctx context.Context, g grid.Grid) (string, error) {
	raw := encodeGrid(g)
	blob, err := compressZstd(raw)
	if err != nil {
		return "", fmt.Errorf("failed to compress grid: %w", err)
	}

	key := r.gridKey(GridDigest(g))
	if err := r.client.Set(ctx, key, blob, entryTTL).Err(); err != nil {
		return "", err
	}
	return key, nil
}

func (r *RedisClient) GetGrid(ctx context.Context, key string) (grid.Grid, error) {
	blob, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return grid.Grid{}, fmt.Errorf("grid %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return grid.Grid{}, err
	}

	raw, err := decompressZstd(blob)
	if err != nil {
		return grid.Grid{}, fmt.Errorf("grid %s: %v: %w", key, err, ErrCorruptGrid)
	}
	return decodeGrid(raw)
}

// CacheResult remembers res for job. Only successful results are cached.
func (r *RedisClient) CacheResult(ctx context.Context, job *common.ConvolveJob, res *common.ConvolveResult) error {
	if res.Failed() {
		return nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.cacheKey(CacheDigest(job)), b, entryTTL).Err()
}

// CachedResult returns the result stored for an identical job, or nil.
func (r *RedisClient) CachedResult(ctx context.Context, job *common.ConvolveJob) (*common.ConvolveResult, error) {
	data, err := r.client.Get(ctx, r.cacheKey(CacheDigest(job))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var res common.ConvolveResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ClaimedJob is a pending job taken over from an idle consumer.
type ClaimedJob struct {
	ID  string
	Job *common.JobMessage
}

// ClaimedResult is a pending result taken over from an idle consumer.
type ClaimedResult struct {
	ID     string
	Result *common.ResultMessage
}

// ClaimStaleJobs moves up to count jobs idle for at least minIdle to
// consumer and returns them decoded. A job that fails to decode comes back
// with a nil Job.
func (r *RedisClient) ClaimStaleJobs(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]ClaimedJob, error) {
	claimed, err := r.claim(ctx, r.jobsStream(), workersGroup, consumer, minIdle, count)
	if err != nil {
		return nil, err
	}

	jobs := make([]ClaimedJob, 0, len(claimed))
	for _, c := range claimed {
		var job common.JobMessage
		if err := json.Unmarshal(r.bytesFromInterface(c.Values["data"]), &job); err != nil {
			jobs = append(jobs, ClaimedJob{ID: c.ID})
			continue
		}
		jobs = append(jobs, ClaimedJob{ID: c.ID, Job: &job})
	}

	return jobs, nil
}

// ClaimStaleResults is ClaimStaleJobs for the results stream.
func (r *RedisClient) ClaimStaleResults(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]ClaimedResult, error) {
	claimed, err := r.claim(ctx, r.resultsStream(), assemblersGroup, consumer, minIdle, count)
	if err != nil {
		return nil, err
	}

	results := make([]ClaimedResult, 0, len(claimed))
	for _, c := range claimed {
		var res common.ResultMessage
		if err := json.Unmarshal(r.bytesFromInterface(c.Values["data"]), &res); err != nil {
			results = append(results, ClaimedResult{ID: c.ID})
			continue
		}
		results = append(results, ClaimedResult{ID: c.ID, Result: &res})
	}

	return results, nil
}

func (r *RedisClient) claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]redis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Count:  int64(count),
		Start:  "-",
		End:    "+",
	}).Result()

	if err != nil || len(pending) == 0 {
		return nil, err
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	return r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

func (r *RedisClient) bytesFromInterface(v interface{}) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	default:
		b, _ := json.Marshal(t)
		return b
	}
}
