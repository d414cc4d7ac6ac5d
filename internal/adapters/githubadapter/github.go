package githubadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Adapter connects GitHub accounts. Inbound sync pages over issues visible
// to the authenticated user; the cursor is the provider page number.
type Adapter struct {
	httpClient *http.Client
	oauth      *oauth2.Config
}

type Dependencies struct {
	HTTPClient  *http.Client
	OAuthConfig *oauth2.Config
}

func New(deps Dependencies) *Adapter {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = adapters.NewHTTPClient()
	}

	return &Adapter{
		httpClient: httpClient,
		oauth:      deps.OAuthConfig,
	}
}

func (a *Adapter) api(creds domain.Credentials) *github.Client {
	return github.NewClient(a.httpClient).WithAuthToken(creds[domain.CredentialKey_AccessToken])
}

func (a *Adapter) TestConnection(ctx context.Context, creds domain.Credentials) error {
	if creds[domain.CredentialKey_AccessToken] == "" {
		return fmt.Errorf("%w: missing access token", domain.ErrAuthFailed)
	}

	_, resp, err := a.api(creds).Users.Get(ctx, "")
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	return nil
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
		domain.CredentialKey_AccessToken:  token.AccessToken,
		domain.CredentialKey_RefreshToken: refreshToken,
	}
	if token.RefreshToken != "" {
		refreshed[domain.CredentialKey_RefreshToken] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		refreshed[domain.CredentialKey_Expiry] = token.Expiry.UTC().Format(time.RFC3339)
	}

	return refreshed, nil
}

func (a *Adapter) NormalizeWebhookEvent(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	data := map[string]any{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("failed to parse github event payload: %w", err)
	}

	if eventType == "" {
		return domain.NormalizedEvent{}, fmt.Errorf("github delivery has no event type header")
	}

	normalizedType := "github." + eventType
	if action, ok := data["action"].(string); ok && action != "" {
		normalizedType += "." + action
	}

	return domain.NormalizedEvent{
		Type:      normalizedType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (a *Adapter) SyncInbound(ctx context.Context, creds domain.Credentials, cursor string) (adapters.SyncPage, error) {
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return adapters.SyncPage{}, fmt.Errorf("invalid github sync cursor %q: %w", cursor, err)
		}
		page = parsed
	}

	opts := &github.IssueListOptions{
		Filter:      "all",
		State:       "all",
		ListOptions: github.ListOptions{Page: page, PerPage: 50},
	}

	issues, resp, err := a.api(creds).Issues.List(ctx, true, opts)
	if err != nil {
		return adapters.SyncPage{}, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	items := make([]domain.SyncItem, 0, len(issues))
	for _, issue := range issues {
		items = append(items, domain.SyncItem{
			ID:   strconv.FormatInt(issue.GetID(), 10),
			Type: "github.issue",
			Data: map[string]any{
				"number": issue.GetNumber(),
				"title":  issue.GetTitle(),
				"state":  issue.GetState(),
				"url":    issue.GetHTMLURL(),
			},
			UpdatedAt: issue.GetUpdatedAt().Time,
		})
	}

	nextCursor := cursor
	hasMore := resp.NextPage > 0
	if hasMore {
		nextCursor = strconv.Itoa(resp.NextPage)
	}

	return adapters.SyncPage{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
