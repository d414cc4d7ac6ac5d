package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/rs/zerolog/log"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// RateLimitTransport retries HTTP 429 responses with bounded backoff. It
// honors Retry-After when present, otherwise doubles the delay starting at
// one second. After MaxRetries attempts it fails with domain.ErrRateLimited.
// Every adapter's HTTP client is built on this transport so rate-limit
// handling is uniform across providers.
type RateLimitTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	BaseDelay  time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient returns the shared retrying client given to provider SDKs.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &RateLimitTransport{},
	}
}

func (t *RateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	maxRetries := t.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	baseDelay := t.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	sleep := t.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := baseDelay

	for attempt := 1; ; attempt++ {
		attemptReq, err := cloneRequest(req)
		if err != nil {
			return nil, err
		}

		resp, err := base.RoundTrip(attemptReq)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if attempt >= maxRetries {
			return nil, fmt.Errorf("%w: gave up after %d attempts on %s", domain.ErrRateLimited, attempt, req.URL.Host)
		}

		wait := delay
		if retryAfter > 0 {
			wait = retryAfter
		} else {
			delay *= 2
		}

		log.Debug().
			Str("host", req.URL.Host).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Rate limited by provider, backing off")

		if err := sleep(req.Context(), wait); err != nil {
			return nil, err
		}
	}
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())

	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}

	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone.Body = body

	return clone, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(header); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}

	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
