package upload

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
)

// Config holds every tunable of the upload subsystem. All values are
// injected at startup; nothing is read from the environment at call time
// and there are no hardcoded fallback credentials.
type Config struct {
	// DirectUploadThreshold is the file size below which the whole file is
	// sent in one request. Independent of ChunkSize.
	DirectUploadThreshold int64

	// ChunkSize is the fixed chunk size of the chunked path.
	ChunkSize int64

	// Concurrency is the maximum number of chunk uploads in flight at once.
	Concurrency int

	// MaxRetries is the total attempt budget per network operation,
	// including the first attempt.
	MaxRetries int

	// RetryBaseDelay is the backoff delay after the first failed attempt;
	// it doubles on every subsequent failure up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryJitter    time.Duration
	RetryMaxDelay  time.Duration

	// RequestTimeout bounds any single boundary call.
	RequestTimeout time.Duration

	// Attach polling: a caller that finds an in-flight upload for the same
	// fingerprint polls the task with capped exponential backoff, giving up
	// after AttachPollMaxIterations.
	AttachPollBaseDelay     time.Duration
	AttachPollMaxDelay      time.Duration
	AttachPollMaxIterations int

	// Task sweep: terminal tasks older than TaskRetention are removed every
	// SweepInterval.
	SweepInterval time.Duration
	TaskRetention time.Duration
}

// DefaultConfig returns the canonical settings.
func DefaultConfig() Config {
	return Config{
		DirectUploadThreshold:   50 * 1024 * 1024,
		ChunkSize:               5 * 1024 * 1024,
		Concurrency:             4,
		MaxRetries:              3,
		RetryBaseDelay:          500 * time.Millisecond,
		RetryJitter:             100 * time.Millisecond,
		RetryMaxDelay:           10 * time.Second,
		RequestTimeout:          30 * time.Minute,
		AttachPollBaseDelay:     100 * time.Millisecond,
		AttachPollMaxDelay:      5 * time.Second,
		AttachPollMaxIterations: 1000,
		SweepInterval:           time.Hour,
		TaskRetention:           24 * time.Hour,
	}
}

// Environment variable names recognized by ConfigFromEnv.
const (
	envDirectThreshold = "UPLOAD_DIRECT_THRESHOLD"
	envChunkSize       = "UPLOAD_CHUNK_SIZE"
	envConcurrency     = "UPLOAD_CONCURRENCY"
	envMaxRetries      = "UPLOAD_MAX_RETRIES"
	envRetryBaseDelay  = "UPLOAD_RETRY_BASE_DELAY"
	envRequestTimeout  = "UPLOAD_REQUEST_TIMEOUT"
)

// ConfigFromEnv returns DefaultConfig overridden by any recognized
// environment variables. Sizes accept human-readable values ("5MB", "512KiB"),
// durations use Go syntax ("30m").
func ConfigFromEnv(envRepo env.Repository) (Config, error) {
	cfg := DefaultConfig()

	if value := envRepo.Get(envDirectThreshold); value != "" {
		size, err := units.RAMInBytes(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", envDirectThreshold, err)
		}
		cfg.DirectUploadThreshold = size
	}
	if value := envRepo.Get(envChunkSize); value != "" {
		size, err := units.RAMInBytes(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", envChunkSize, err)
		}
		cfg.ChunkSize = size
	}
	if value := envRepo.Get(envConcurrency); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", envConcurrency, err)
		}
		cfg.Concurrency = n
	}
	if value := envRepo.Get(envMaxRetries); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", envMaxRetries, err)
		}
		cfg.MaxRetries = n
	}
	if value := envRepo.Get(envRetryBaseDelay); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", envRetryBaseDelay, err)
		}
		cfg.RetryBaseDelay = d
	}
	if value := envRepo.Get(envRequestTimeout); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", envRequestTimeout, err)
		}
		cfg.RequestTimeout = d
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.DirectUploadThreshold < 0 {
		return fmt.Errorf("direct upload threshold must not be negative, got %d", c.DirectUploadThreshold)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}
