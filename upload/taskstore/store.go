// Package taskstore holds the in-memory state of every upload known to the
// process, keyed by file fingerprint. It is the single source of truth for
// de-duplication, resumption and progress queries. State is process-scoped:
// a restart loses in-flight tasks, resumability is session-scoped only.
package taskstore

import (
	"context"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Status is the lifecycle state of an upload task.
type Status string

// Task statuses. Completed and Error are terminal: no further automatic
// transitions occur, entries are removed only by the sweep.
const (
	StatusInitializing Status = "initializing"
	StatusUploading    Status = "uploading"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// Terminal reports whether the status allows no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Method is the transfer strategy chosen for a task. It is fixed once set.
type Method string

// Transfer methods.
const (
	MethodDirect  Method = "direct"
	MethodChunked Method = "chunked"
)

// ChunkRecord tracks the upload state of one chunk of a chunked task.
type ChunkRecord struct {
	Index    int
	Uploaded bool
	Ref      string
}

// Task is the state of one upload, owned exclusively by the Store.
// Callers only ever see copies.
type Task struct {
	Fingerprint  string
	Status       Status
	Progress     int
	Method       Method
	URL          string
	ObjectName   string
	Err          string
	Retries      int
	LastActivity time.Time
	FileSize     int64
	BatchID      string
	Chunks       []ChunkRecord
}

// UploadedChunks returns the number of chunks confirmed uploaded.
func (t Task) UploadedChunks() int {
	count := 0
	for _, c := range t.Chunks {
		if c.Uploaded {
			count++
		}
	}
	return count
}

// AllChunksUploaded reports whether every chunk record is confirmed.
func (t Task) AllChunksUploaded() bool {
	if len(t.Chunks) == 0 {
		return false
	}
	return t.UploadedChunks() == len(t.Chunks)
}

const watchBuffer = 16

// Store is a mutex-protected map from fingerprint to upload task.
// A fresh instance should be created per process (or per test).
type Store struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	watchers map[string][]chan Task
	logger   log.Logger
	now      func() time.Time
}

// NewStore creates an empty Store.
func NewStore(logger log.Logger) *Store {
	return &Store{
		tasks:    map[string]*Task{},
		watchers: map[string][]chan Task{},
		logger:   logger,
		now:      time.Now,
	}
}

// Claim atomically takes ownership of the task for the given fingerprint.
// It returns a snapshot of the task and whether the caller now owns the
// transfer. Ownership is granted when no task exists yet, when the existing
// task is in Error (fresh start, progress reset), or when it is Paused
// (resume, chunk records retained). For Initializing, Uploading and
// Completed tasks the caller must attach to the existing transfer instead.
func (s *Store) Claim(fingerprint string, fileSize int64) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[fingerprint]
	if !ok {
		task = &Task{
			Fingerprint:  fingerprint,
			Status:       StatusInitializing,
			FileSize:     fileSize,
			LastActivity: s.now(),
		}
		s.tasks[fingerprint] = task
		return *task, true
	}

	switch task.Status {
	case StatusError:
		*task = Task{
			Fingerprint:  fingerprint,
			Status:       StatusInitializing,
			FileSize:     fileSize,
			LastActivity: s.now(),
		}
		return s.snapshotLocked(task), true
	case StatusPaused:
		task.Status = StatusInitializing
		task.LastActivity = s.now()
		return s.snapshotLocked(task), true
	default:
		return s.snapshotLocked(task), false
	}
}

// Get returns a snapshot of the task for the fingerprint, if any.
func (s *Store) Get(fingerprint string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[fingerprint]
	if !ok {
		return Task{}, false
	}
	return s.snapshotLocked(task), true
}

// Progress returns the task's progress percentage, if the task exists.
func (s *Store) Progress(fingerprint string) (int, bool) {
	task, ok := s.Get(fingerprint)
	if !ok {
		return 0, false
	}
	return task.Progress, true
}

// Update applies mutate to the task under the store lock and notifies
// watchers. The store enforces the progress contract: progress never
// regresses, stays within 0..100, and only reaches 100 on Completed.
// Returns the resulting snapshot, or false if the task does not exist.
func (s *Store) Update(fingerprint string, mutate func(*Task)) (Task, bool) {
	s.mu.Lock()

	task, ok := s.tasks[fingerprint]
	if !ok {
		s.mu.Unlock()
		return Task{}, false
	}

	prevProgress := task.Progress
	mutate(task)

	if task.Progress < prevProgress {
		task.Progress = prevProgress
	}
	if task.Progress < 0 {
		task.Progress = 0
	}
	if task.Progress > 100 {
		task.Progress = 100
	}
	if task.Progress == 100 && task.Status != StatusCompleted {
		task.Progress = 99
	}
	task.LastActivity = s.now()

	snapshot := s.snapshotLocked(task)
	watchers := append([]chan Task(nil), s.watchers[fingerprint]...)
	s.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- snapshot:
		default:
			// Slow watcher, drop the update. The next one carries newer state.
		}
	}
	return snapshot, true
}

// Watch subscribes to task updates for the fingerprint. The returned cancel
// function must be called to release the subscription.
func (s *Store) Watch(fingerprint string) (<-chan Task, func()) {
	ch := make(chan Task, watchBuffer)

	s.mu.Lock()
	s.watchers[fingerprint] = append(s.watchers[fingerprint], ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		watchers := s.watchers[fingerprint]
		for i, w := range watchers {
			if w == ch {
				s.watchers[fingerprint] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		if len(s.watchers[fingerprint]) == 0 {
			delete(s.watchers, fingerprint)
		}
	}
	return ch, cancel
}

// Sweep removes terminal tasks whose last activity is older than the
// retention window and returns the number of removed entries.
func (s *Store) Sweep(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention)
	removed := 0
	for fingerprint, task := range s.tasks {
		if task.Status.Terminal() && task.LastActivity.Before(cutoff) {
			delete(s.tasks, fingerprint)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debugf("Task sweep removed %d entries, %d remain", removed, len(s.tasks))
	}
	return removed
}

// RunSweeper sweeps on the given interval until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(retention)
		}
	}
}

// Len returns the number of tracked tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Store) snapshotLocked(task *Task) Task {
	snapshot := *task
	if task.Chunks != nil {
		snapshot.Chunks = append([]ChunkRecord(nil), task.Chunks...)
	}
	return snapshot
}
