package transcribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

const defaultMaxRetries = 3

// statusError is a non-2xx response from the speech-to-text endpoint.
type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func (e *statusError) retryable() bool {
	return e.statusCode >= 500 || e.statusCode == http.StatusTooManyRequests
}

// backoffFunc returns the wait before the given retry attempt (1-based).
type backoffFunc func(attempt int) time.Duration

// jitteredBackoff is quadratic backoff with up to 50% jitter.
func jitteredBackoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Second
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// doWithRetry runs the request built by buildReq, retrying network errors,
// 5xx and 429 responses. buildReq is called per attempt so bodies can be
// replayed.
func doWithRetry(ctx context.Context, client *http.Client, maxRetries int, backoff backoffFunc,
	buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			logger.Warn("retrying transcription request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Warn("transcription request failed", "attempt", attempt+1, "err", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		serr := &statusError{statusCode: resp.StatusCode, body: string(body)}
		if !serr.retryable() {
			return nil, serr
		}
		lastErr = serr
		logger.Warn("transcription server error", "status", resp.StatusCode, "attempt", attempt+1)
	}

	return nil, fmt.Errorf("gave up after %d attempts: %w", maxRetries+1, lastErr)
}

// newHTTPClient returns a pooled client for the transcription endpoint.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
	}
}
