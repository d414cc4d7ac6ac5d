package stripeadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Adapter connects Stripe accounts. API-key based; inbound sync pages over
// the account event feed with starting_after cursors.
type Adapter struct {
	httpClient *http.Client
}

type Dependencies struct {
	HTTPClient *http.Client
}

func New(deps Dependencies) *Adapter {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = adapters.NewHTTPClient()
	}

	return &Adapter{httpClient: httpClient}
}

func (a *Adapter) api(creds domain.Credentials) *client.API {
	sc := &client.API{}
	sc.Init(creds[domain.CredentialKey_APIKey], stripe.NewBackends(a.httpClient))
	return sc
}

func (a *Adapter) TestConnection(ctx context.Context, creds domain.Credentials) error {
	if creds[domain.CredentialKey_APIKey] == "" {
		return fmt.Errorf("%w: missing secret key", domain.ErrAuthFailed)
	}

	params := &stripe.BalanceParams{Params: stripe.Params{Context: ctx}}
	if _, err := a.api(creds).Balance.Get(params); err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	return nil
}

func (a *Adapter) RefreshTokens(ctx context.Context, creds domain.Credentials) (domain.Credentials, error) {
	return nil, domain.ErrRefreshUnsupported
}

type eventPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

func (a *Adapter) NormalizeWebhookEvent(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	var event eventPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("failed to parse stripe event payload: %w", err)
	}

	if event.Type == "" {
		event.Type = eventType
	}
	if event.Type == "" {
		return domain.NormalizedEvent{}, fmt.Errorf("stripe payload has no event type")
	}

	at := time.Now().UTC()
	if event.Created > 0 {
		at = time.Unix(event.Created, 0).UTC()
	}

	data := event.Data.Object
	if data == nil {
		data = map[string]any{}
	}

	return domain.NormalizedEvent{
		Type:      "stripe." + event.Type,
		Data:      data,
		Timestamp: at,
	}, nil
}

func (a *Adapter) SyncInbound(ctx context.Context, creds domain.Credentials, cursor string) (adapters.SyncPage, error) {
	params := &stripe.EventListParams{}
	params.Context = ctx
	params.Limit = stripe.Int64(50)
	if cursor != "" {
		params.StartingAfter = stripe.String(cursor)
	}

	iter := a.api(creds).Events.List(params)

	var items []domain.SyncItem
	var lastID string

	for iter.Next() {
		event := iter.Event()
		lastID = event.ID

		items = append(items, domain.SyncItem{
			ID:        event.ID,
			Type:      "stripe." + string(event.Type),
			Data:      event.Data.Object,
			UpdatedAt: time.Unix(event.Created, 0).UTC(),
			IsNew:     true,
		})
	}

	if err := iter.Err(); err != nil {
		return adapters.SyncPage{}, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	nextCursor := cursor
	if lastID != "" {
		nextCursor = lastID
	}

	return adapters.SyncPage{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    iter.Meta() != nil && iter.Meta().HasMore,
	}, nil
}
