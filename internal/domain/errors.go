package domain

import "errors"

var (
	// ErrNotFound covers unknown connectors, integrations, jobs, alerts and
	// already-consumed OAuth states. Callers map it to a 404.
	ErrNotFound = errors.New("not found")

	// ErrNotConnected is returned when an operation requires a connected
	// integration but its status is disconnected, error or auth_failed.
	ErrNotConnected = errors.New("integration not connected")

	// ErrInvalidSignature marks untrusted inbound payloads. Never retried.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrAuthFailed marks rejected provider credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited is surfaced after bounded retries against HTTP 429 are
	// exhausted.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrDecryptionFailed means a stored credential blob is tampered,
	// truncated or encrypted under a different key. The credential is
	// unusable; the tenant has to reconnect.
	ErrDecryptionFailed = errors.New("credential decryption failed")

	// ErrConnectionFailed is a provider-side failure on connection test or
	// outbound call. Downgrades the integration to error status.
	ErrConnectionFailed = errors.New("provider connection failed")

	// ErrRefreshUnsupported is returned by API-key-only adapters.
	ErrRefreshUnsupported = errors.New("token refresh not supported")

	// ErrSyncInProgress guards against overlapping sync jobs for one
	// integration.
	ErrSyncInProgress = errors.New("sync job already in progress")
)
