package jiraadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"

	jira "github.com/andygrunwald/go-jira"
)

// Adapter connects Jira Cloud sites with email + API token. The sync cursor
// is the search offset, persisted as a decimal string.
type Adapter struct {
	transport http.RoundTripper
}

type Dependencies struct {
	Transport http.RoundTripper
}

func New(deps Dependencies) *Adapter {
	transport := deps.Transport
	if transport == nil {
		transport = &adapters.RateLimitTransport{}
	}

	return &Adapter{transport: transport}
}

func (a *Adapter) api(creds domain.Credentials) (*jira.Client, error) {
	baseURL := creds[domain.CredentialKey_BaseURL]
	if baseURL == "" {
		return nil, fmt.Errorf("%w: missing jira base url", domain.ErrAuthFailed)
	}

	tp := jira.BasicAuthTransport{
		Username:  creds[domain.CredentialKey_Email],
		Password:  creds[domain.CredentialKey_APIKey],
		Transport: a.transport,
	}

	client, err := jira.NewClient(tp.Client(), baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build jira client: %w", err)
	}

	return client, nil
}

func (a *Adapter) TestConnection(ctx context.Context, creds domain.Credentials) error {
	client, err := a.api(creds)
	if err != nil {
		return err
	}

	_, resp, err := client.User.GetSelfWithContext(ctx)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	return nil
}

func (a *Adapter) RefreshTokens(ctx context.Context, creds domain.Credentials) (domain.Credentials, error) {
	return nil, domain.ErrRefreshUnsupported
}

type webhookPayload struct {
	WebhookEvent string         `json:"webhookEvent"`
	Timestamp    int64          `json:"timestamp"`
	Issue        map[string]any `json:"issue"`
}

func (a *Adapter) NormalizeWebhookEvent(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("failed to parse jira event payload: %w", err)
	}

	normalizedType := event.WebhookEvent
	if normalizedType == "" {
		normalizedType = eventType
	}
	if normalizedType == "" {
		return domain.NormalizedEvent{}, fmt.Errorf("jira payload has no event type")
	}

	at := time.Now().UTC()
	if event.Timestamp > 0 {
		at = time.UnixMilli(event.Timestamp).UTC()
	}

	data := event.Issue
	if data == nil {
		data = map[string]any{}
	}

	return domain.NormalizedEvent{
		Type:      "jira." + normalizedType,
		Data:      data,
		Timestamp: at,
	}, nil
}

func (a *Adapter) SyncInbound(ctx context.Context, creds domain.Credentials, cursor string) (adapters.SyncPage, error) {
	client, err := a.api(creds)
	if err != nil {
		return adapters.SyncPage{}, err
	}

	startAt := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return adapters.SyncPage{}, fmt.Errorf("invalid jira sync cursor %q: %w", cursor, err)
		}
		startAt = parsed
	}

	opts := &jira.SearchOptions{StartAt: startAt, MaxResults: 50}

	issues, resp, err := client.Issue.SearchWithContext(ctx, "ORDER BY updated DESC", opts)
	if err != nil {
		return adapters.SyncPage{}, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	items := make([]domain.SyncItem, 0, len(issues))
	for _, issue := range issues {
		item := domain.SyncItem{
			ID:   issue.ID,
			Type: "jira.issue",
			Data: map[string]any{
				"key": issue.Key,
			},
		}

		if issue.Fields != nil {
			item.Data["summary"] = issue.Fields.Summary
			item.Data["status"] = ""
			if issue.Fields.Status != nil {
				item.Data["status"] = issue.Fields.Status.Name
			}
			item.UpdatedAt = time.Time(issue.Fields.Updated)
		}

		items = append(items, item)
	}

	next := startAt + len(issues)

	return adapters.SyncPage{
		Items:      items,
		NextCursor: strconv.Itoa(next),
		HasMore:    resp != nil && next < resp.Total,
	}, nil
}
