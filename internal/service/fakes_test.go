package service

import (
	"context"
	"sync"

	"ticket-service/internal/models"
	"ticket-service/internal/store/storetest"
)

func newMemStore() *storetest.Store {
	return storetest.New()
}

// fakePublisher records notification events
type fakePublisher struct {
	mu        sync.Mutex
	issued    []*models.TicketIssuedEvent
	cancelled []*models.TicketCancelledEvent
}

func (p *fakePublisher) PublishTicketIssued(ctx context.Context, event *models.TicketIssuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued = append(p.issued, event)
	return nil
}

func (p *fakePublisher) PublishTicketCancelled(ctx context.Context, event *models.TicketCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, event)
	return nil
}

func (p *fakePublisher) issuedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.issued)
}
