package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/internal/domain"
)

// SyncPage is one page of an inbound sync. NextCursor is the opaque resume
// position covering everything up to and including this page.
type SyncPage struct {
	Items      []domain.SyncItem
	NextCursor string
	HasMore    bool
}

// Adapter is the per-provider capability contract. NormalizeWebhookEvent is
// pure and deterministic; everything else may do I/O and takes a context.
type Adapter interface {
	TestConnection(ctx context.Context, creds domain.Credentials) error
	RefreshTokens(ctx context.Context, creds domain.Credentials) (domain.Credentials, error)
	NormalizeWebhookEvent(eventType string, payload []byte) (domain.NormalizedEvent, error)
}

// InboundSyncer is implemented by adapters that support paged inbound sync.
type InboundSyncer interface {
	SyncInbound(ctx context.Context, creds domain.Credentials, cursor string) (SyncPage, error)
}

// OutboundActor is implemented by adapters that can push data back to the
// provider.
type OutboundActor interface {
	PerformAction(ctx context.Context, action string, creds domain.Credentials, data map[string]any) (map[string]any, error)
}

// TokenRevoker is implemented by adapters that can revoke tokens on the
// provider side during disconnect. Revocation is best-effort.
type TokenRevoker interface {
	RevokeTokens(ctx context.Context, creds domain.Credentials) error
}

// Registry maps connector ids to their adapters. Populated once at startup.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(connectorID string, adapter Adapter) {
	r.adapters[connectorID] = adapter
}

func (r *Registry) Get(connectorID string) (Adapter, bool) {
	adapter, ok := r.adapters[connectorID]
	return adapter, ok
}

// SyncerFor returns the adapter's inbound syncer when it has one.
func (r *Registry) SyncerFor(connectorID string) (InboundSyncer, bool) {
	adapter, ok := r.adapters[connectorID]
	if !ok {
		return nil, false
	}

	syncer, ok := adapter.(InboundSyncer)
	return syncer, ok
}

// ActorFor returns the adapter's outbound actor when it has one.
func (r *Registry) ActorFor(connectorID string) (OutboundActor, bool) {
	adapter, ok := r.adapters[connectorID]
	if !ok {
		return nil, false
	}

	actor, ok := adapter.(OutboundActor)
	return actor, ok
}

// RevokerFor returns the adapter's token revoker when it has one.
func (r *Registry) RevokerFor(connectorID string) (TokenRevoker, bool) {
	adapter, ok := r.adapters[connectorID]
	if !ok {
		return nil, false
	}

	revoker, ok := adapter.(TokenRevoker)
	return revoker, ok
}

// PassthroughNormalize wraps a raw payload without provider-specific
// interpretation. Used when no adapter is registered for a connector.
func PassthroughNormalize(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	data := map[string]any{}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return domain.NormalizedEvent{}, fmt.Errorf("payload is not a JSON object: %w", err)
		}
	}

	if eventType == "" {
		eventType = "event"
	}

	return domain.NormalizedEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}
