package chunker

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/mixwave/go-uploadutils/retrypolicy"
	"github.com/mixwave/go-uploadutils/upload/network"
)

// Config holds the chunk upload settings.
type Config struct {
	// Concurrency is the maximum number of chunk uploads in flight at once.
	Concurrency int

	// Policy is applied to every chunk independently.
	Policy retrypolicy.Policy
}

// Events are per-chunk callbacks invoked during an upload run.
type Events struct {
	// OnUploaded is called once per chunk after the boundary confirmed it.
	// Chunk completion order is unspecified.
	OnUploaded func(index int, ref string)

	// OnRetry is called after every failed attempt of any chunk.
	OnRetry func(index int, err error)
}

// Uploader uploads the chunks of one batch with bounded parallelism.
type Uploader struct {
	client network.Client
	config Config
	logger log.Logger
}

// New creates an Uploader on top of a boundary client.
func New(client network.Client, config Config, logger log.Logger) *Uploader {
	return &Uploader{
		client: client,
		config: config,
		logger: logger,
	}
}

type chunkResult struct {
	index int
	err   error
}

// Upload transfers every chunk of the provider that is not in skip, tagging
// each with the shared batch identifier and its own index. It returns once
// all chunks are confirmed, or on the first chunk whose retry budget is
// exhausted (remaining in-flight chunks are cancelled). skip carries the
// indexes already confirmed in a previous attempt, so a resumed upload only
// transfers what is missing.
func (u *Uploader) Upload(ctx context.Context, provider Provider, batch network.BatchInfo, batchID string, skip map[int]bool, events Events) error {
	pending := make([]int, 0, provider.NumChunks())
	for i := 0; i < provider.NumChunks(); i++ {
		if !skip[i] {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultChan := make(chan chunkResult, len(pending))
	semaphore := make(chan struct{}, u.config.Concurrency)

	for _, index := range pending {
		go func(index int) {
			select {
			case semaphore <- struct{}{}:
			case <-uploadCtx.Done():
				resultChan <- chunkResult{index: index, err: uploadCtx.Err()}
				return
			}
			defer func() { <-semaphore }()

			err := u.uploadChunkWithRetry(uploadCtx, provider, batch, batchID, index, events)
			resultChan <- chunkResult{index: index, err: err}
		}(index)
	}

	for completed := 0; completed < len(pending); completed++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("upload cancelled while waiting for chunks: %w", ctx.Err())
		case result := <-resultChan:
			if result.err != nil {
				cancel()
				return fmt.Errorf("chunk %d failed after %d attempts: %w",
					result.index+1, u.config.Policy.MaxAttempts, result.err)
			}
		}
	}
	return nil
}

func (u *Uploader) uploadChunkWithRetry(ctx context.Context, provider Provider, batch network.BatchInfo, batchID string, index int, events Events) error {
	totalChunks := provider.NumChunks()

	policy := u.config.Policy
	policy.Retryable = network.IsRetryable
	policy.OnRetry = func(attempt int, err error) {
		u.logger.Warnf("Chunk %d/%d attempt %d failed: %s", index+1, totalChunks, attempt, err)
		if events.OnRetry != nil {
			events.OnRetry(index, err)
		}
	}

	var ref string
	err := policy.Do(ctx, func(ctx context.Context) error {
		body, err := provider.GetChunk(index)
		if err != nil {
			return err
		}

		ref, err = u.client.UploadChunk(ctx, network.ChunkInfo{
			BatchID:     batchID,
			TargetName:  batch.TargetName,
			Index:       index,
			TotalChunks: totalChunks,
			Size:        provider.ChunkSize(index),
			Folder:      batch.Folder,
		}, body)
		return err
	})
	if err != nil {
		return err
	}

	u.logger.Debugf("Chunk %d/%d uploaded, ref: %s", index+1, totalChunks, ref)
	if events.OnUploaded != nil {
		events.OnUploaded(index, ref)
	}
	return nil
}
