// Package upload implements a resilient large-file upload pipeline: files
// are de-duplicated by fingerprint, transferred either whole or as a batch
// of chunks assembled by the remote boundary, retried with exponential
// backoff, and resumable after a network loss within the same process.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/mixwave/go-uploadutils/connectivity"
	"github.com/mixwave/go-uploadutils/retrypolicy"
	"github.com/mixwave/go-uploadutils/upload/chunker"
	"github.com/mixwave/go-uploadutils/upload/fingerprint"
	"github.com/mixwave/go-uploadutils/upload/network"
	"github.com/mixwave/go-uploadutils/upload/taskstore"
)

// Manager is the upload orchestrator. It owns method selection, retry
// handling and the task lifecycle; the task store is the only shared state
// it mutates.
type Manager struct {
	config  Config
	client  network.Client
	checker connectivity.Checker
	store   *taskstore.Store
	logger  log.Logger
}

// NewManager creates an orchestrator. Every boundary call made through it is
// bounded by the configured request timeout.
func NewManager(config Config, client network.Client, checker connectivity.Checker, store *taskstore.Store, logger log.Logger) *Manager {
	return &Manager{
		config:  config,
		client:  network.NewTimeoutClient(client, config.RequestTimeout),
		checker: checker,
		store:   store,
		logger:  logger,
	}
}

// Option customizes a single Upload call.
type Option func(*callOptions)

type callOptions struct {
	onProgress func(percent int)
	identity   string
}

// WithProgressFunc subscribes the caller to 0..100 progress updates.
func WithProgressFunc(fn func(percent int)) Option {
	return func(o *callOptions) { o.onProgress = fn }
}

// WithIdentity namespaces the final storage path with the caller's identity.
func WithIdentity(identity string) Option {
	return func(o *callOptions) { o.identity = identity }
}

// Fingerprint returns the de-duplication key of a source.
func Fingerprint(src Source) string {
	return fingerprint.Key(src.Name, src.Size, src.ModTime)
}

// Upload delivers the source to durable storage and returns its URL.
//
// Repeated calls for the same fingerprint are idempotent: a completed task
// returns its cached URL without any network traffic, an in-flight task is
// attached to instead of starting a duplicate transfer, a paused task is
// resumed re-uploading only unconfirmed chunks, and a failed task is started
// fresh.
func (m *Manager) Upload(ctx context.Context, src Source, folder string, opts ...Option) (string, error) {
	if err := src.Validate(); err != nil {
		return "", fmt.Errorf("invalid source: %w", err)
	}

	options := callOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.identity != "" {
		folder = path.Join(folder, options.identity)
	}

	key := Fingerprint(src)

	task, claimed := m.store.Claim(key, src.Size)
	if !claimed {
		if task.Status == taskstore.StatusCompleted {
			m.logger.Debugf("Upload %s already completed, returning cached URL", shortKey(key))
			report(options, 100)
			return task.URL, nil
		}
		m.logger.Debugf("Upload %s already in flight, attaching", shortKey(key))
		return m.attach(ctx, key, options)
	}

	url, err := m.transfer(ctx, key, src, folder, task, options)
	if err != nil {
		return "", err
	}
	report(options, 100)
	return url, nil
}

// Progress returns the current progress of the task for the fingerprint
// without blocking.
func (m *Manager) Progress(key string) (int, bool) {
	return m.store.Progress(key)
}

// Watch returns a stream of progress percentages for the fingerprint,
// decoupled from any Upload call. The cancel function releases the stream.
func (m *Manager) Watch(key string) (<-chan int, func()) {
	tasks, cancelWatch := m.store.Watch(key)
	progress := make(chan int, 16)
	done := make(chan struct{})

	go func() {
		defer close(progress)
		for {
			select {
			case <-done:
				return
			case task := <-tasks:
				select {
				case progress <- task.Progress:
				default:
					// Slow consumer, drop the update.
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelWatch()
			close(done)
		})
	}
	return progress, cancel
}

func (m *Manager) transfer(ctx context.Context, key string, src Source, folder string, task taskstore.Task, options callOptions) (string, error) {
	if !m.checker.IsOnline(ctx) {
		m.store.Update(key, func(t *taskstore.Task) {
			t.Status = taskstore.StatusError
			t.Err = ErrOffline.Error()
		})
		return "", ErrOffline
	}

	method := task.Method // a resumed task keeps its method
	if method == "" {
		method = taskstore.MethodChunked
		if src.Size < m.config.DirectUploadThreshold || src.IsImage() {
			method = taskstore.MethodDirect
		}
	}

	m.store.Update(key, func(t *taskstore.Task) {
		t.Status = taskstore.StatusUploading
		t.Method = method
	})
	m.logger.Infof("Uploading %s (%s) via %s path",
		src.Name, units.HumanSizeWithPrecision(float64(src.Size), 3), method)

	var url string
	var err error
	switch method {
	case taskstore.MethodDirect:
		url, err = m.transferDirect(ctx, key, src, folder, options)
	default:
		url, err = m.transferChunked(ctx, key, src, folder, options)
	}
	if err != nil {
		return "", m.failOrPause(ctx, key, err)
	}

	m.store.Update(key, func(t *taskstore.Task) {
		t.Status = taskstore.StatusCompleted
		t.URL = url
		t.Progress = 100
	})
	m.logger.Donef("Upload finished: %s", url)
	return url, nil
}

// failOrPause records the terminal outcome of a failed transfer. A transient
// failure with the network gone is a pause, not an error: chunk records stay
// in place and a later call resumes the task.
func (m *Manager) failOrPause(ctx context.Context, key string, err error) error {
	wentOffline := errors.Is(err, errWentOffline) ||
		(network.IsRetryable(err) && !m.checker.IsOnline(ctx))
	if wentOffline {
		m.store.Update(key, func(t *taskstore.Task) {
			t.Status = taskstore.StatusPaused
		})
		m.logger.Warnf("Upload %s paused: network went offline", shortKey(key))
		return fmt.Errorf("upload interrupted, please check your connection: %w", ErrOffline)
	}

	m.store.Update(key, func(t *taskstore.Task) {
		t.Status = taskstore.StatusError
		t.Err = err.Error()
	})
	return err
}

func (m *Manager) transferDirect(ctx context.Context, key string, src Source, folder string, options callOptions) (string, error) {
	objectName := m.objectName(key, src)

	policy := m.policy()
	policy.Retryable = func(err error) bool {
		if errors.Is(err, errWentOffline) {
			return false
		}
		return network.IsRetryable(err)
	}
	policy.OnRetry = func(attempt int, err error) {
		m.logger.Warnf("Direct upload attempt %d failed: %s", attempt, err)
		m.countRetry(key)
	}

	attempt := 0
	var url string
	err := policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && !m.checker.IsOnline(ctx) {
			return errWentOffline
		}

		file, err := src.Open()
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		defer func() {
			if err := file.Close(); err != nil {
				m.logger.Debugf("close source: %s", err)
			}
		}()

		body := newProgressReader(file, src.Size, func(percent int) {
			m.setProgress(key, percent, options)
		})
		url, err = m.client.UploadWhole(ctx, network.ObjectInfo{
			Name:        objectName,
			Folder:      folder,
			Size:        src.Size,
			ContentType: src.ContentType,
		}, body)
		return err
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

func (m *Manager) transferChunked(ctx context.Context, key string, src Source, folder string, options callOptions) (string, error) {
	plan, err := chunker.NewPlan(src.Size, m.config.ChunkSize)
	if err != nil {
		return "", err
	}

	batch := network.BatchInfo{
		TargetName:  m.objectName(key, src),
		Folder:      folder,
		FileSize:    src.Size,
		ChunkSize:   m.config.ChunkSize,
		ChunkCount:  plan.NumChunks,
		ContentType: src.ContentType,
	}

	task, _ := m.store.Get(key)
	batchID := task.BatchID
	skip := map[int]bool{}
	if batchID != "" && len(task.Chunks) == plan.NumChunks {
		for _, chunk := range task.Chunks {
			if chunk.Uploaded {
				skip[chunk.Index] = true
			}
		}
		m.logger.Infof("Resuming upload: %d/%d chunks already confirmed", len(skip), plan.NumChunks)
	} else {
		batchID, err = m.createBatch(ctx, key, batch)
		if err != nil {
			return "", err
		}

		records := make([]taskstore.ChunkRecord, plan.NumChunks)
		for i := range records {
			records[i] = taskstore.ChunkRecord{Index: i}
		}
		m.store.Update(key, func(t *taskstore.Task) {
			t.BatchID = batchID
			t.Chunks = records
		})
		m.logger.Debugf("Batch %s created: %d chunks of %s", batchID, plan.NumChunks,
			units.HumanSizeWithPrecision(float64(plan.ChunkSize), 3))
	}

	file, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			m.logger.Debugf("close source: %s", err)
		}
	}()

	uploader := chunker.New(m.client, chunker.Config{
		Concurrency: m.config.Concurrency,
		Policy:      m.policy(),
	}, m.logger)

	err = uploader.Upload(ctx, chunker.NewReaderProvider(file, plan), batch, batchID, skip, chunker.Events{
		OnUploaded: func(index int, ref string) {
			snapshot, ok := m.store.Update(key, func(t *taskstore.Task) {
				t.Chunks[index].Uploaded = true
				t.Chunks[index].Ref = ref
				t.Progress = chunkedProgress(t.UploadedChunks(), plan.NumChunks)
			})
			if ok {
				report(options, snapshot.Progress)
			}
		},
		OnRetry: func(index int, err error) {
			m.countRetry(key)
		},
	})
	if err != nil {
		return "", err
	}

	// Every chunk is confirmed; only now may the boundary assemble them.
	task, _ = m.store.Get(key)
	if !task.AllChunksUploaded() {
		return "", fmt.Errorf("internal: finalize requested with %d/%d chunks confirmed",
			task.UploadedChunks(), plan.NumChunks)
	}
	return m.finalize(ctx, batchID, batch)
}

func (m *Manager) createBatch(ctx context.Context, key string, batch network.BatchInfo) (string, error) {
	policy := m.policy()
	policy.Retryable = network.IsRetryable
	policy.OnRetry = func(attempt int, err error) {
		m.logger.Warnf("Create batch attempt %d failed: %s", attempt, err)
		m.countRetry(key)
	}

	var batchID string
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		batchID, err = m.client.CreateBatch(ctx, batch)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}
	return batchID, nil
}

func (m *Manager) finalize(ctx context.Context, batchID string, batch network.BatchInfo) (string, error) {
	policy := retrypolicy.Policy{
		// A failed assembly is worth exactly one more try; an incomplete
		// batch is not retryable at all without re-uploading chunks.
		MaxAttempts: 2,
		BaseDelay:   m.config.RetryBaseDelay,
		Jitter:      m.config.RetryJitter,
		MaxDelay:    m.config.RetryMaxDelay,
		Retryable:   network.IsRetryable,
		OnRetry: func(attempt int, err error) {
			m.logger.Warnf("Finalize attempt %d failed: %s", attempt, err)
		},
	}

	var url string
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		url, err = m.client.FinalizeBatch(ctx, network.FinalizeInfo{
			BatchID:     batchID,
			TargetName:  batch.TargetName,
			TotalChunks: batch.ChunkCount,
			Folder:      batch.Folder,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, network.ErrIncompleteBatch) {
			return "", fmt.Errorf("chunks are uploaded but the resource is not assembled: %w", err)
		}
		return "", fmt.Errorf("finalize batch: %w", err)
	}
	return url, nil
}

// attach waits for the in-flight transfer owned by another caller, relaying
// its progress, with capped exponential backoff and a hard iteration ceiling.
func (m *Manager) attach(ctx context.Context, key string, options callOptions) (string, error) {
	delay := m.config.AttachPollBaseDelay
	for i := 0; i < m.config.AttachPollMaxIterations; i++ {
		task, ok := m.store.Get(key)
		if !ok {
			return "", fmt.Errorf("upload task for this file disappeared while waiting")
		}
		report(options, task.Progress)

		switch task.Status {
		case taskstore.StatusCompleted:
			return task.URL, nil
		case taskstore.StatusError:
			return "", fmt.Errorf("upload failed: %s", task.Err)
		case taskstore.StatusPaused:
			return "", fmt.Errorf("upload paused, re-invoke to resume: %w", ErrOffline)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > m.config.AttachPollMaxDelay {
			delay = m.config.AttachPollMaxDelay
		}
	}
	return "", fmt.Errorf("gave up waiting for the in-flight upload of the same file")
}

// objectName returns the generated, collision-resistant storage name of the
// task, creating and recording it on first use so retries and resumed
// transfers target the same object.
func (m *Manager) objectName(key string, src Source) string {
	if task, ok := m.store.Get(key); ok && task.ObjectName != "" {
		return task.ObjectName
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(src.Name))
	m.store.Update(key, func(t *taskstore.Task) {
		t.ObjectName = name
	})
	return name
}

func (m *Manager) policy() retrypolicy.Policy {
	return retrypolicy.Policy{
		MaxAttempts: m.config.MaxRetries,
		BaseDelay:   m.config.RetryBaseDelay,
		Jitter:      m.config.RetryJitter,
		MaxDelay:    m.config.RetryMaxDelay,
	}
}

func (m *Manager) setProgress(key string, percent int, options callOptions) {
	snapshot, ok := m.store.Update(key, func(t *taskstore.Task) {
		t.Progress = percent
	})
	if ok {
		report(options, snapshot.Progress)
	}
}

func (m *Manager) countRetry(key string) {
	m.store.Update(key, func(t *taskstore.Task) {
		if t.Retries < m.config.MaxRetries {
			t.Retries++
		}
	})
}

func report(options callOptions, percent int) {
	if options.onProgress != nil {
		options.onProgress(percent)
	}
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
