package upload

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mixwave/go-uploadutils/upload/network"
)

// fakeChecker serves scripted probe responses, then a fallback value.
type fakeChecker struct {
	mu        sync.Mutex
	responses []bool
	fallback  bool
}

func (c *fakeChecker) IsOnline(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responses) > 0 {
		next := c.responses[0]
		c.responses = c.responses[1:]
		return next
	}
	return c.fallback
}

// fakeBoundary is a programmable stand-in for the remote storage boundary.
// It counts every call so tests can assert exact network behavior.
type fakeBoundary struct {
	mu sync.Mutex

	createBatchCalls int
	batchIDs         []string

	chunkAttempts  map[int]int
	chunkFailLeft  map[int]int
	chunkDelay     time.Duration
	chunkTotalSeen int

	wholeCalls    int
	wholeFailLeft int
	wholeErr      error

	finalizeCalls    int
	finalizeInfos    []network.FinalizeInfo
	finalizeFailLeft int
	finalizeErr      error
}

func newFakeBoundary() *fakeBoundary {
	return &fakeBoundary{
		chunkAttempts: map[int]int{},
		chunkFailLeft: map[int]int{},
	}
}

func (f *fakeBoundary) attempts(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunkAttempts[index]
}

func (f *fakeBoundary) chunksSeen() (distinct, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunkAttempts), f.chunkTotalSeen
}

func (f *fakeBoundary) counts() (createBatch, whole, finalize int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createBatchCalls, f.wholeCalls, f.finalizeCalls
}

func (f *fakeBoundary) finalized() []network.FinalizeInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]network.FinalizeInfo(nil), f.finalizeInfos...)
}

func (f *fakeBoundary) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.createBatchCalls + f.wholeCalls + f.finalizeCalls
	for _, attempts := range f.chunkAttempts {
		calls += attempts
	}
	return calls
}

func (f *fakeBoundary) CreateBatch(ctx context.Context, info network.BatchInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createBatchCalls++
	id := fmt.Sprintf("batch-%d", f.createBatchCalls)
	f.batchIDs = append(f.batchIDs, id)
	return id, nil
}

func (f *fakeBoundary) UploadChunk(ctx context.Context, info network.ChunkInfo, body io.ReadSeeker) (string, error) {
	f.mu.Lock()
	f.chunkAttempts[info.Index]++
	f.chunkTotalSeen = info.TotalChunks
	fail := f.chunkFailLeft[info.Index] > 0
	if fail {
		f.chunkFailLeft[info.Index]--
	}
	delay := f.chunkDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", &network.StatusError{StatusCode: 500, Body: "transient chunk failure"}
	}
	return fmt.Sprintf("ref-%d", info.Index), nil
}

func (f *fakeBoundary) UploadWhole(ctx context.Context, info network.ObjectInfo, body io.ReadSeeker) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.wholeCalls++
	if f.wholeFailLeft > 0 {
		f.wholeFailLeft--
		if f.wholeErr != nil {
			return "", f.wholeErr
		}
		return "", &network.StatusError{StatusCode: 500, Body: "transient whole-file failure"}
	}
	return fmt.Sprintf("https://store.example.com/%s/%s", info.Folder, info.Name), nil
}

func (f *fakeBoundary) FinalizeBatch(ctx context.Context, info network.FinalizeInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeCalls++
	f.finalizeInfos = append(f.finalizeInfos, info)
	if f.finalizeFailLeft > 0 {
		f.finalizeFailLeft--
		if f.finalizeErr != nil {
			return "", f.finalizeErr
		}
		return "", &network.StatusError{StatusCode: 500, Body: "assembly failed"}
	}
	return fmt.Sprintf("https://store.example.com/%s/%s", info.Folder, info.TargetName), nil
}
