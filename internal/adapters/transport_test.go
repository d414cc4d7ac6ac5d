package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(maxRetries int, slept *[]time.Duration) *http.Client {
	return &http.Client{
		Transport: &RateLimitTransport{
			MaxRetries: maxRetries,
			sleep: func(ctx context.Context, d time.Duration) error {
				*slept = append(*slept, d)
				return nil
			},
		},
	}
}

func TestRateLimitTransport_ExhaustsRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestClient(3, &slept)

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	assert.Equal(t, 3, attempts)
	// Doubling schedule starting at one second, one sleep between attempts.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestRateLimitTransport_HonorsRetryAfter(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestClient(3, &slept)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{7 * time.Second}, slept)
}

func TestRateLimitTransport_RecoversMidway(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestClient(3, &slept)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, attempts)
}

func TestRateLimitTransport_PassesThroughOtherStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestClient(3, &slept)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, slept)
}
