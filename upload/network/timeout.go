package network

import (
	"context"
	"io"
	"time"
)

// timeoutClient bounds every boundary call with a per-request deadline.
type timeoutClient struct {
	client  Client
	timeout time.Duration
}

// NewTimeoutClient wraps a Client so that no single call can outlive the
// given timeout. A non-positive timeout returns the client unchanged.
func NewTimeoutClient(client Client, timeout time.Duration) Client {
	if timeout <= 0 {
		return client
	}
	return &timeoutClient{client: client, timeout: timeout}
}

func (c *timeoutClient) CreateBatch(ctx context.Context, info BatchInfo) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.CreateBatch(ctx, info)
}

func (c *timeoutClient) UploadChunk(ctx context.Context, info ChunkInfo, body io.ReadSeeker) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.UploadChunk(ctx, info, body)
}

func (c *timeoutClient) UploadWhole(ctx context.Context, info ObjectInfo, body io.ReadSeeker) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.UploadWhole(ctx, info, body)
}

func (c *timeoutClient) FinalizeBatch(ctx context.Context, info FinalizeInfo) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.FinalizeBatch(ctx, info)
}
