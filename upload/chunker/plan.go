// Package chunker partitions a file into fixed-size byte ranges and uploads
// them to the storage boundary with bounded parallelism and per-chunk retry.
package chunker

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// Plan describes how a file is split into contiguous fixed-size chunks.
// The last chunk carries the remainder.
type Plan struct {
	FileSize      int64
	ChunkSize     int64
	NumChunks     int
	LastChunkSize int64
}

// NewPlan computes the chunk layout for a file: ceil(fileSize/chunkSize)
// chunks of chunkSize bytes each, except the last.
func NewPlan(fileSize, chunkSize int64) (Plan, error) {
	if fileSize <= 0 {
		return Plan{}, fmt.Errorf("file size must be positive, got %d", fileSize)
	}
	if chunkSize <= 0 {
		return Plan{}, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	numChunks := int((fileSize + chunkSize - 1) / chunkSize)
	lastChunkSize := fileSize - int64(numChunks-1)*chunkSize

	return Plan{
		FileSize:      fileSize,
		ChunkSize:     chunkSize,
		NumChunks:     numChunks,
		LastChunkSize: lastChunkSize,
	}, nil
}

// Size returns the byte size of the chunk at the given index.
func (p Plan) Size(index int) int64 {
	if index == p.NumChunks-1 {
		return p.LastChunkSize
	}
	return p.ChunkSize
}

// Offset returns the byte offset of the chunk at the given index.
func (p Plan) Offset(index int) int64 {
	return int64(index) * p.ChunkSize
}

// Provider provides chunk data for upload. GetChunk may be called multiple
// times for the same index: every upload attempt gets a fresh reader.
type Provider interface {
	NumChunks() int
	ChunkSize(index int) int64
	GetChunk(index int) (io.ReadSeeker, error)
}

// ReaderProvider reads chunks from a seekable source according to a Plan.
// Reads are serialized, so parallel chunk uploads can share one source.
type ReaderProvider struct {
	src  io.ReadSeeker
	plan Plan
	mu   sync.Mutex
}

// NewReaderProvider creates a Provider over a seekable source.
func NewReaderProvider(src io.ReadSeeker, plan Plan) *ReaderProvider {
	return &ReaderProvider{src: src, plan: plan}
}

// NumChunks implements Provider.
func (p *ReaderProvider) NumChunks() int {
	return p.plan.NumChunks
}

// ChunkSize implements Provider.
func (p *ReaderProvider) ChunkSize(index int) int64 {
	return p.plan.Size(index)
}

// GetChunk implements Provider. The chunk is read into memory so the
// returned reader survives retries without touching the source again.
func (p *ReaderProvider) GetChunk(index int) (io.ReadSeeker, error) {
	if index < 0 || index >= p.plan.NumChunks {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, p.plan.NumChunks)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.src.Seek(p.plan.Offset(index), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to chunk %d: %w", index+1, err)
	}

	buf := make([]byte, p.plan.Size(index))
	if _, err := io.ReadFull(p.src, buf); err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", index+1, err)
	}
	return bytes.NewReader(buf), nil
}
