package coordinator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-sepconv/pkg/convolve"
	"go-sepconv/pkg/coordinator"
	"go-sepconv/pkg/grid"
	"go-sepconv/pkg/imageio"
	"go-sepconv/pkg/kernel"
	"go-sepconv/pkg/pipeline"
	"go-sepconv/pkg/queue"
	"go-sepconv/pkg/separable"
)

const noBlock = -1

func setup(t *testing.T) (context.Context, *queue.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := queue.NewRedisClient(ctx, mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.EnsureGroups(ctx))
	return ctx, client
}

func writeImage(t *testing.T, dir, name string, rows [][]float64) string {
	t.Helper()
	g, err := grid.FromRows(rows)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, imageio.Save(path, g, ""))
	return path
}

func TestProcessImageQueuesOneJob(t *testing.T) {
	ctx, client := setup(t)
	dir := t.TempDir()
	in := writeImage(t, dir, "flat.tiff", [][]float64{{10, 20}, {30, 40}})

	k, err := kernel.New(kernel.Matrix{{1, 2, 1}, {2, 4, 2}, {1, 2, 1}}, 1.0/16.0)
	require.NoError(t, err)
	cfg := pipeline.Config{
		Pivot:     separable.PivotSearch,
		Factor:    separable.FactorFromPivotColumn,
		Clamp:     convolve.ClampBoth,
		Tolerance: 1e-6,
	}
	c := coordinator.NewCoordinator(client, k, cfg)

	out := filepath.Join(dir, "flat_sepconv.tiff")
	require.NoError(t, c.ProcessImage(ctx, 4, in, out))

	info, err := client.GetImageInfo(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, in, info.InputPath)
	assert.Equal(t, out, info.OutputPath)
	assert.Equal(t, "tiff", info.Format)
	assert.Equal(t, 2, info.Width)
	assert.Equal(t, 2, info.Height)

	_, msg, err := client.ReadJob(ctx, "w", noBlock)
	require.NoError(t, err)
	require.NotNil(t, msg)
	job := msg.Job
	require.NotNil(t, job)
	assert.Equal(t, 4, job.ImageID)
	assert.Equal(t, [][]float64{{1, 2, 1}, {2, 4, 2}, {1, 2, 1}}, job.Kernel)
	assert.Equal(t, 1.0/16.0, job.Scalar)

	gotCfg, err := job.Config()
	require.NoError(t, err)
	assert.Equal(t, cfg, gotCfg)

	src, err := client.GetGrid(ctx, job.GridKey)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40}, src.Data)
}

func TestProcessImagesAndWait(t *testing.T) {
	ctx, client := setup(t)
	inDir := t.TempDir()
	outDir := t.TempDir()
	a := writeImage(t, inDir, "a.png", [][]float64{{1}})
	b := writeImage(t, inDir, "b.bmp", [][]float64{{2, 3}})

	k, err := kernel.New(kernel.Matrix{{1}}, 1)
	require.NoError(t, err)
	c := coordinator.NewCoordinator(client, k, pipeline.Config{})

	ids, err := c.ProcessImages(ctx, []string{a, b}, outDir)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ids)

	info, err := client.GetImageInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "b_sepconv.bmp"), info.OutputPath)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.WaitForImages(short, ids, 5*time.Millisecond), context.DeadlineExceeded)

	for _, id := range ids {
		require.NoError(t, client.MarkImageCompleted(ctx, id))
	}
	require.NoError(t, c.WaitForImages(ctx, ids, 5*time.Millisecond))
}

func TestRequeuedImageIsNotCompleted(t *testing.T) {
	ctx, client := setup(t)
	dir := t.TempDir()
	in := writeImage(t, dir, "again.png", [][]float64{{5}})

	k, err := kernel.New(kernel.Matrix{{1}}, 1)
	require.NoError(t, err)
	c := coordinator.NewCoordinator(client, k, pipeline.Config{})

	// completion left over from an earlier run with the same ids
	require.NoError(t, client.MarkImageCompleted(ctx, 0))

	ids, err := c.ProcessImages(ctx, []string{in}, dir)
	require.NoError(t, err)
	require.Equal(t, []int{0}, ids)

	done, err := client.IsImageCompleted(ctx, 0)
	require.NoError(t, err)
	assert.False(t, done)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.WaitForImages(short, ids, 5*time.Millisecond), context.DeadlineExceeded)
}

func TestProcessImagesReportsBadInput(t *testing.T) {
	ctx, client := setup(t)
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))

	k, err := kernel.New(kernel.Matrix{{1}}, 1)
	require.NoError(t, err)
	c := coordinator.NewCoordinator(client, k, pipeline.Config{})

	_, err = c.ProcessImages(ctx, []string{bad}, dir)
	require.ErrorIs(t, err, imageio.ErrIO)
}

func TestFindImagesSkipsOutputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.jpg", "c.tiff", "a_sepconv.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	got := coordinator.FindImages(dir)
	want := []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "c.tiff"),
	}
	assert.ElementsMatch(t, want, got)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "cat_sepconv.jpeg"), coordinator.OutputPath("out", "/in/cat.jpeg"))
	assert.Equal(t, filepath.Join("out", "raw_sepconv"), coordinator.OutputPath("out", "raw"))
}
