package events

import (
	"context"
	"sync"

	"github.com/hivedesk/hivedesk/internal/domain"
)

// MemoryPublisher collects published events in memory. Used in tests and in
// single-process deployments without Redis.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []domain.OutboundEvent
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) PublishEvent(ctx context.Context, event domain.OutboundEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a snapshot of everything published so far.
func (p *MemoryPublisher) Events() []domain.OutboundEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OutboundEvent, len(p.events))
	copy(out, p.events)
	return out
}
