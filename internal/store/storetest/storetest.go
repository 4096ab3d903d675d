// Package storetest provides an in-memory store.TicketStore for unit
// tests that should not depend on Postgres. Mutations take the same
// one-row-at-a-time conditional-update shape as the SQL implementation
// so concurrency properties exercised against it hold for the real one.
package storetest

import (
	"context"
	"sync"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/store"
)

// Store is an in-memory TicketStore
type Store struct {
	mu sync.Mutex

	events      map[int64]*models.Event
	ticketTypes map[int64]*models.TicketType
	attendees   map[string]*models.Attendee
	tickets     map[int64]*models.Ticket
	txns        map[int64]*models.Transaction
	processed   map[string]*models.ProcessedWebhookEvent

	nextTicketID int64
	nextTxnID    int64
}

var _ store.TicketStore = (*Store)(nil)

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		events:      make(map[int64]*models.Event),
		ticketTypes: make(map[int64]*models.TicketType),
		attendees:   make(map[string]*models.Attendee),
		tickets:     make(map[int64]*models.Ticket),
		txns:        make(map[int64]*models.Transaction),
		processed:   make(map[string]*models.ProcessedWebhookEvent),
	}
}

// AddEvent seeds an event
func (m *Store) AddEvent(e *models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
}

// AddTicketType seeds a ticket type
func (m *Store) AddTicketType(tt *models.TicketType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticketTypes[tt.ID] = tt
}

func (m *Store) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Store) GetTicketType(ctx context.Context, id int64) (*models.TicketType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tt, ok := m.ticketTypes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tt
	return &cp, nil
}

func (m *Store) ListTicketTypes(ctx context.Context) ([]models.TicketType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TicketType, 0, len(m.ticketTypes))
	for _, tt := range m.ticketTypes {
		out = append(out, *tt)
	}
	return out, nil
}

func (m *Store) ReserveCapacity(ctx context.Context, ticketTypeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tt, ok := m.ticketTypes[ticketTypeID]
	if !ok {
		return false, store.ErrNotFound
	}
	if tt.Quantity != nil && tt.QuantitySold >= *tt.Quantity {
		return false, nil
	}
	tt.QuantitySold++
	return true, nil
}

func (m *Store) ReleaseCapacity(ctx context.Context, ticketTypeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tt, ok := m.ticketTypes[ticketTypeID]; ok && tt.QuantitySold > 0 {
		tt.QuantitySold--
	}
	return nil
}

func (m *Store) CreateAttendee(ctx context.Context, a *models.Attendee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	cp := *a
	m.attendees[a.ID] = &cp
	return nil
}

func (m *Store) GetAttendee(ctx context.Context, id string) (*models.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attendees[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Store) CreateTicket(ctx context.Context, t *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTicketID++
	t.ID = m.nextTicketID
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *Store) GetTicketByID(ctx context.Context, id int64) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Store) GetTicketByToken(ctx context.Context, token string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Store) MarkTicketIssued(ctx context.Context, id int64, qrCode []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Status != models.TicketStatusPending {
		return false, nil
	}
	t.Status = models.TicketStatusIssued
	t.QRCode = qrCode
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *Store) MarkTicketCancelled(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return false, nil
	}
	if t.Status != models.TicketStatusPending && t.Status != models.TicketStatusIssued {
		return false, nil
	}
	t.Status = models.TicketStatusCancelled
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *Store) MarkTicketUsed(ctx context.Context, id int64, at time.Time, meta models.CheckinMeta) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Status != models.TicketStatusIssued {
		return false, nil
	}
	t.Status = models.TicketStatusUsed
	t.CheckedInAt = &at
	t.CheckinGateID = meta.GateID
	t.CheckinOperator = meta.OperatorID
	t.CheckinNotes = meta.Notes
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *Store) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxnID++
	t.ID = m.nextTxnID
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.txns[t.ID] = &cp
	return nil
}

func (m *Store) GetTransactionByIntentID(ctx context.Context, intentID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txns {
		if t.PaymentIntentID == intentID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Store) GetTransactionByTicketID(ctx context.Context, ticketID int64) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txns {
		if t.TicketID == ticketID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Store) SetTransactionIntent(ctx context.Context, id int64, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.txns[id]; ok {
		t.PaymentIntentID = intentID
		t.UpdatedAt = time.Now()
	}
	return nil
}

func (m *Store) UpdateTransactionStatus(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.txns[id]; ok {
		t.Status = status
		t.UpdatedAt = time.Now()
	}
	return nil
}

func (m *Store) IsWebhookEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *Store) MarkWebhookEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[eventID]; ok {
		return nil
	}
	m.processed[eventID] = &models.ProcessedWebhookEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	return nil
}

// WithinTx runs fn against the same store. The in-memory fake does not
// emulate rollback; tests that need partial-failure behavior assert on
// the SQL implementation's contract instead.
func (m *Store) WithinTx(ctx context.Context, fn func(store.TicketStore) error) error {
	return fn(m)
}
