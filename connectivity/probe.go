// Package connectivity provides a best-effort network reachability check,
// consulted before starting an upload and between automatic retries.
package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

const defaultProbeTimeout = 3 * time.Second

// Checker reports whether the network looks reachable.
type Checker interface {
	// IsOnline performs a lightweight, side-effect-free reachability check.
	// It never returns an error: timeouts and transport failures count as
	// offline, any HTTP response counts as online.
	IsOnline(ctx context.Context) bool
}

// HTTPChecker probes reachability with a HEAD request against a fixed URL,
// typically the storage service base URL.
type HTTPChecker struct {
	probeURL   string
	timeout    time.Duration
	httpClient *http.Client
	logger     log.Logger
}

// NewHTTPChecker creates a Checker probing the given URL.
func NewHTTPChecker(probeURL string, logger log.Logger) *HTTPChecker {
	return &HTTPChecker{
		probeURL: probeURL,
		timeout:  defaultProbeTimeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSHandshakeTimeout: defaultProbeTimeout,
			},
		},
		logger: logger,
	}
}

// IsOnline implements Checker.
func (c *HTTPChecker) IsOnline(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.probeURL, nil)
	if err != nil {
		c.logger.Warnf("connectivity probe: create request: %s", err)
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debugf("connectivity probe: %s", err)
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debugf("connectivity probe: close body: %s", err)
		}
	}()

	// Any response means the network path works, even an error status.
	return true
}
