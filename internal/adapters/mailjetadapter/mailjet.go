package mailjetadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"
)

const defaultBaseURL = "https://api.mailjet.com"

// Adapter connects Mailjet accounts over the raw REST API, exercising the
// shared retrying HTTP client directly. Webhook-only inbound; no sync.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
}

type Dependencies struct {
	HTTPClient *http.Client
	BaseURL    string
}

func New(deps Dependencies) *Adapter {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = adapters.NewHTTPClient()
	}

	baseURL := deps.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{httpClient: httpClient, baseURL: baseURL}
}

func (a *Adapter) TestConnection(ctx context.Context, creds domain.Credentials) error {
	apiKey := creds[domain.CredentialKey_APIKey]
	if apiKey == "" {
		return fmt.Errorf("%w: missing api key", domain.ErrAuthFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v3/REST/apikey", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(apiKey, creds["api_secret"])

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrAuthFailed, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", domain.ErrConnectionFailed, resp.StatusCode)
	}
}

func (a *Adapter) RefreshTokens(ctx context.Context, creds domain.Credentials) (domain.Credentials, error) {
	return nil, domain.ErrRefreshUnsupported
}

type deliveryEvent struct {
	Event string `json:"event"`
	Time  int64  `json:"time"`
}

func (a *Adapter) NormalizeWebhookEvent(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	var event deliveryEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("failed to parse mailjet event payload: %w", err)
	}

	data := map[string]any{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("failed to parse mailjet event payload: %w", err)
	}

	normalizedType := event.Event
	if normalizedType == "" {
		normalizedType = eventType
	}
	if normalizedType == "" {
		return domain.NormalizedEvent{}, fmt.Errorf("mailjet payload has no event type")
	}

	at := time.Now().UTC()
	if event.Time > 0 {
		at = time.Unix(event.Time, 0).UTC()
	}

	return domain.NormalizedEvent{
		Type:      "mailjet." + normalizedType,
		Data:      data,
		Timestamp: at,
	}, nil
}
