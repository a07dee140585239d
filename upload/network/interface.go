// Package network talks to the remote storage boundary: uploading whole
// objects, uploading chunks of a batch, and asking the boundary to assemble
// a finished batch into one durable resource.
package network

import (
	"context"
	"io"
)

// BatchInfo describes a chunked upload about to start.
type BatchInfo struct {
	TargetName  string
	Folder      string
	FileSize    int64
	ChunkSize   int64
	ChunkCount  int
	ContentType string
}

// ChunkInfo identifies one chunk of a batch. Chunk uploads are idempotent
// per (BatchID, Index): repeating the same pair must not duplicate storage.
type ChunkInfo struct {
	BatchID     string
	TargetName  string
	Index       int
	TotalChunks int
	Size        int64
	Folder      string
}

// ObjectInfo describes a whole-file upload.
type ObjectInfo struct {
	Name        string
	Folder      string
	Size        int64
	ContentType string
}

// FinalizeInfo asks the boundary to assemble all chunks of a batch.
// The boundary verifies that exactly TotalChunks chunks tagged with BatchID
// exist before assembling.
type FinalizeInfo struct {
	BatchID     string
	TargetName  string
	TotalChunks int
	Folder      string
}

// Client is the outbound contract to the remote storage boundary.
type Client interface {
	// CreateBatch registers a chunked upload and returns its batch identifier.
	CreateBatch(ctx context.Context, info BatchInfo) (string, error)

	// UploadChunk uploads one chunk and returns the boundary's chunk reference.
	UploadChunk(ctx context.Context, info ChunkInfo, body io.ReadSeeker) (string, error)

	// UploadWhole uploads an entire object in one request and returns its URL.
	UploadWhole(ctx context.Context, info ObjectInfo, body io.ReadSeeker) (string, error)

	// FinalizeBatch assembles a complete batch into one durable resource and
	// returns its URL.
	FinalizeBatch(ctx context.Context, info FinalizeInfo) (string, error)
}
