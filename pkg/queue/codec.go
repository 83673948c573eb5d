package queue

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"go-sepconv/pkg/common"
	"go-sepconv/pkg/grid"
)

// ErrCorruptGrid is returned when a stored grid blob cannot be decoded.
var ErrCorruptGrid = errors.New("queue: corrupt grid blob")

const gridHeaderSize = 8

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil)
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	},
}

func compressZstd(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc := zstdEncPool.Get().(*zstd.Encoder)
	enc.Reset(&buf)

	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		zstdEncPool.Put(enc)
		return nil, err
	}
	if err := enc.Close(); err != nil {
		zstdEncPool.Put(enc)
		return nil, err
	}

	zstdEncPool.Put(enc)
	return buf.Bytes(), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec := zstdDecPool.Get().(*zstd.Decoder)
	defer zstdDecPool.Put(dec)

	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if _, err := out.ReadFrom(dec); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// encodeGrid lays out width and height as uint32 followed by every sample as
// little-endian float64 bits.
func encodeGrid(g grid.Grid) []byte {
	raw := make([]byte, gridHeaderSize+8*len(g.Data))
	binary.LittleEndian.PutUint32(raw[0:], uint32(g.Width))
	binary.LittleEndian.PutUint32(raw[4:], uint32(g.Height))
	for i, v := range g.Data {
		binary.LittleEndian.PutUint64(raw[gridHeaderSize+8*i:], math.Float64bits(v))
	}
	return raw
}

func decodeGrid(raw []byte) (grid.Grid, error) {
	if len(raw) < gridHeaderSize {
		return grid.Grid{}, fmt.Errorf("short header (%d bytes): %w", len(raw), ErrCorruptGrid)
	}
	width := int(binary.LittleEndian.Uint32(raw[0:]))
	height := int(binary.LittleEndian.Uint32(raw[4:]))
	if len(raw)-gridHeaderSize != 8*width*height {
		return grid.Grid{}, fmt.Errorf("%dx%d grid with %d payload bytes: %w",
			width, height, len(raw)-gridHeaderSize, ErrCorruptGrid)
	}

	g, err := grid.New(width, height)
	if err != nil {
		return grid.Grid{}, fmt.Errorf("%v: %w", err, ErrCorruptGrid)
	}
	for i := range g.Data {
		g.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[gridHeaderSize+8*i:]))
	}
	return g, nil
}

// GridDigest is the content hash used as the grid's storage key.
func GridDigest(g grid.Grid) uint64 {
	return xxhash.Sum64(encodeGrid(g))
}

// CacheDigest hashes everything that determines a job's output: the
// unscaled kernel, its scalar, the input grid and the numeric policies.
func CacheDigest(job *common.ConvolveJob) uint64 {
	d := xxhash.New()
	var b [8]byte
	writeFloat := func(v float64) {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		_, _ = d.Write(b[:])
	}

	for _, row := range job.Kernel {
		binary.LittleEndian.PutUint64(b[:], uint64(len(row)))
		_, _ = d.Write(b[:])
		for _, v := range row {
			writeFloat(v)
		}
	}
	writeFloat(job.Scalar)
	writeFloat(job.Tolerance)
	_, _ = d.WriteString(job.GridKey)
	_, _ = d.WriteString("|" + job.Pivot + "|" + job.Factor + "|" + job.Clamp)
	return d.Sum64()
}
