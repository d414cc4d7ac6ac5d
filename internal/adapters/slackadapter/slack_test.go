package slackadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAuthError(t *testing.T) {
	authCodes := []string{"invalid_auth", "not_authed", "token_revoked", "token_expired", "account_inactive"}
	for _, code := range authCodes {
		assert.True(t, isAuthError(errors.New(code)), code)
	}

	assert.False(t, isAuthError(errors.New("ratelimited")))
	assert.False(t, isAuthError(errors.New("connection refused")))
}

func TestTestConnectionRequiresAccessToken(t *testing.T) {
	adapter := New(Dependencies{})

	err := adapter.TestConnection(context.Background(), domain.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}

func TestRefreshTokensWithoutOAuthConfig(t *testing.T) {
	adapter := New(Dependencies{})

	_, err := adapter.RefreshTokens(context.Background(), domain.Credentials{
		domain.CredentialKey_RefreshToken: "xoxr-refresh",
	})
	assert.ErrorIs(t, err, domain.ErrRefreshUnsupported)
}

func TestNormalizeWebhookEventUnwrapsEnvelope(t *testing.T) {
	adapter := New(Dependencies{})

	payload := []byte(`{"type":"event_callback","event_id":"Ev123","event_time":1700000000,"event":{"type":"message","text":"hi"}}`)

	event, err := adapter.NormalizeWebhookEvent("event_callback", payload)
	require.NoError(t, err)
	assert.Equal(t, "slack.message", event.Type)
	assert.Equal(t, "hi", event.Data["text"])
	assert.Equal(t, int64(1700000000), event.Timestamp.Unix())
}
