package slackadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/slack-go/slack"
	"golang.org/x/oauth2"
)

// Adapter connects Slack workspaces. Inbound sync pages over the workspace
// conversation list; webhooks arrive via the Events API envelope.
type Adapter struct {
	httpClient *http.Client
	oauth      *oauth2.Config
}

type Dependencies struct {
	HTTPClient  *http.Client
	OAuthConfig *oauth2.Config
}

func New(deps Dependencies) *Adapter {
	client := deps.HTTPClient
	if client == nil {
		client = adapters.NewHTTPClient()
	}

	return &Adapter{
		httpClient: client,
		oauth:      deps.OAuthConfig,
	}
}

func (a *Adapter) api(creds domain.Credentials) *slack.Client {
	return slack.New(creds[domain.CredentialKey_AccessToken], slack.OptionHTTPClient(a.httpClient))
}

func (a *Adapter) TestConnection(ctx context.Context, creds domain.Credentials) error {
	if creds[domain.CredentialKey_AccessToken] == "" {
		return fmt.Errorf("%w: missing access token", domain.ErrAuthFailed)
	}

	if _, err := a.api(creds).AuthTestContext(ctx); err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	return nil
}

// isAuthError matches the Slack API error codes that mean the token itself is
// bad, as opposed to a transport or rate-limit problem.
func isAuthError(err error) bool {
	switch err.Error() {
	case "invalid_auth", "not_authed", "token_revoked", "token_expired", "account_inactive":
		return true
	}
	return false
}

func (a *Adapter) RefreshTokens(ctx context.Context, creds domain.Credentials) (domain.Credentials, error) {
	refreshToken := creds[domain.CredentialKey_RefreshToken]
	if a.oauth == nil || refreshToken == "" {
		return nil, domain.ErrRefreshUnsupported
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	token, err := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}

	refreshed := domain.Credentials{
		domain.CredentialKey_AccessToken: token.AccessToken,
	}
	if token.RefreshToken != "" {
		refreshed[domain.CredentialKey_RefreshToken] = token.RefreshToken
	} else {
		refreshed[domain.CredentialKey_RefreshToken] = refreshToken
	}
	if !token.Expiry.IsZero() {
		refreshed[domain.CredentialKey_Expiry] = token.Expiry.UTC().Format(time.RFC3339)
	}

	return refreshed, nil
}

// eventEnvelope is the Events API callback wrapper.
type eventEnvelope struct {
	Type      string         `json:"type"`
	EventID   string         `json:"event_id"`
	EventTime int64          `json:"event_time"`
	Event     map[string]any `json:"event"`
}

func (a *Adapter) NormalizeWebhookEvent(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("failed to parse slack event payload: %w", err)
	}

	innerType, _ := envelope.Event["type"].(string)
	if innerType == "" {
		innerType = eventType
	}
	if innerType == "" {
		return domain.NormalizedEvent{}, fmt.Errorf("slack payload has no event type")
	}

	at := time.Now().UTC()
	if envelope.EventTime > 0 {
		at = time.Unix(envelope.EventTime, 0).UTC()
	}

	data := envelope.Event
	if data == nil {
		data = map[string]any{}
	}

	return domain.NormalizedEvent{
		Type:      "slack." + innerType,
		Data:      data,
		Timestamp: at,
	}, nil
}

func (a *Adapter) SyncInbound(ctx context.Context, creds domain.Credentials, cursor string) (adapters.SyncPage, error) {
	params := &slack.GetConversationsParameters{
		Cursor:          cursor,
		Limit:           100,
		ExcludeArchived: true,
	}

	channels, nextCursor, err := a.api(creds).GetConversationsContext(ctx, params)
	if err != nil {
		return adapters.SyncPage{}, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	items := make([]domain.SyncItem, 0, len(channels))
	for _, channel := range channels {
		items = append(items, domain.SyncItem{
			ID:   channel.ID,
			Type: "slack.channel",
			Data: map[string]any{
				"id":          channel.ID,
				"name":        channel.Name,
				"is_private":  channel.IsPrivate,
				"num_members": channel.NumMembers,
			},
			UpdatedAt: time.Now().UTC(),
		})
	}

	return adapters.SyncPage{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    nextCursor != "",
	}, nil
}

// PerformAction pushes data back into the workspace. Supported actions:
// post_message with {channel, text}.
func (a *Adapter) PerformAction(ctx context.Context, action string, creds domain.Credentials, data map[string]any) (map[string]any, error) {
	switch action {
	case "post_message":
		channel, _ := data["channel"].(string)
		text, _ := data["text"].(string)
		if channel == "" || text == "" {
			return nil, fmt.Errorf("post_message requires channel and text")
		}

		respChannel, ts, err := a.api(creds).PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
		if err != nil {
			if isAuthError(err) {
				return nil, fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		}

		return map[string]any{"channel": respChannel, "ts": ts}, nil
	default:
		return nil, fmt.Errorf("unsupported slack action %q", action)
	}
}

// RevokeTokens calls auth.revoke so the workspace token stops working on the
// provider side.
func (a *Adapter) RevokeTokens(ctx context.Context, creds domain.Credentials) error {
	if _, err := a.api(creds).SendAuthRevokeContext(ctx, ""); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	return nil
}
