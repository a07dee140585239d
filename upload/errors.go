package upload

import "errors"

// ErrOffline is returned when the connectivity probe reports no network.
// The upload is not attempted and not retried automatically; the caller may
// re-invoke once connectivity is back, which resumes a paused chunked task.
var ErrOffline = errors.New("network is offline")

// errWentOffline marks a transfer attempt aborted by a negative probe
// between retries. It is never surfaced directly: the orchestrator turns it
// into a Paused task and returns ErrOffline.
var errWentOffline = errors.New("network went offline during transfer")
