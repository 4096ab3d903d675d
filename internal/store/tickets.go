package store

import (
	"context"
	"database/sql"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateAttendee creates a new attendee
func (s *Store) CreateAttendee(ctx context.Context, a *models.Attendee) error {
	query := `
		INSERT INTO attendees (id, event_id, name, email, phone)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	return sqlx.GetContext(ctx, s.ext, &a.CreatedAt, query,
		a.ID, a.EventID, a.Name, a.Email, a.Phone)
}

// GetAttendee retrieves an attendee by ID
func (s *Store) GetAttendee(ctx context.Context, id string) (*models.Attendee, error) {
	var attendee models.Attendee
	err := sqlx.GetContext(ctx, s.ext, &attendee, "SELECT * FROM attendees WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &attendee, nil
}

// CreateTicket creates a new ticket
func (s *Store) CreateTicket(ctx context.Context, t *models.Ticket) error {
	query := `
		INSERT INTO tickets (token, event_id, ticket_type_id, attendee_id, status, qr_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	row := s.ext.QueryRowxContext(ctx, query,
		t.Token, t.EventID, t.TicketTypeID, t.AttendeeID, t.Status, t.QRCode)
	return row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// GetTicketByID retrieves a ticket by ID
func (s *Store) GetTicketByID(ctx context.Context, id int64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := sqlx.GetContext(ctx, s.ext, &ticket, "SELECT * FROM tickets WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTicketByToken retrieves a ticket by its opaque token
func (s *Store) GetTicketByToken(ctx context.Context, tok string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := sqlx.GetContext(ctx, s.ext, &ticket, "SELECT * FROM tickets WHERE token = $1", tok)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// MarkTicketIssued transitions a ticket pending -> issued and stores the
// QR artifact. Returns false when the ticket was not in pending.
func (s *Store) MarkTicketIssued(ctx context.Context, id int64, qrCode []byte) (bool, error) {
	res, err := s.ext.ExecContext(ctx,
		`UPDATE tickets
		 SET status = $1, qr_code = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		models.TicketStatusIssued, qrCode, id, models.TicketStatusPending)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// MarkTicketCancelled transitions a ticket pending|issued -> cancelled.
// Returns false when the ticket was already terminal.
func (s *Store) MarkTicketCancelled(ctx context.Context, id int64) (bool, error) {
	res, err := s.ext.ExecContext(ctx,
		`UPDATE tickets
		 SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status IN ($3, $4)`,
		models.TicketStatusCancelled, id, models.TicketStatusPending, models.TicketStatusIssued)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// MarkTicketUsed transitions a ticket issued -> used, stamping the
// check-in time and metadata. The status guard in the WHERE clause
// closes the race between two near-simultaneous scans of the same
// token: exactly one wins.
func (s *Store) MarkTicketUsed(ctx context.Context, id int64, at time.Time, meta models.CheckinMeta) (bool, error) {
	res, err := s.ext.ExecContext(ctx,
		`UPDATE tickets
		 SET status = $1, checked_in_at = $2, checkin_gate_id = $3,
		     checkin_operator = $4, checkin_notes = $5, updated_at = NOW()
		 WHERE id = $6 AND status = $7`,
		models.TicketStatusUsed, at, meta.GateID, meta.OperatorID, meta.Notes,
		id, models.TicketStatusIssued)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// CreateTransaction creates a new payment transaction record
func (s *Store) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (ticket_id, amount, currency, status, payment_intent_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	row := s.ext.QueryRowxContext(ctx, query,
		t.TicketID, t.Amount, t.Currency, t.Status, t.PaymentIntentID)
	return row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// GetTransactionByIntentID retrieves a transaction by its provider
// payment-intent reference
func (s *Store) GetTransactionByIntentID(ctx context.Context, intentID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := sqlx.GetContext(ctx, s.ext, &tx,
		"SELECT * FROM transactions WHERE payment_intent_id = $1", intentID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransactionByTicketID retrieves the transaction for a ticket
func (s *Store) GetTransactionByTicketID(ctx context.Context, ticketID int64) (*models.Transaction, error) {
	var tx models.Transaction
	err := sqlx.GetContext(ctx, s.ext, &tx,
		"SELECT * FROM transactions WHERE ticket_id = $1", ticketID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// SetTransactionIntent stores the provider payment-intent reference
func (s *Store) SetTransactionIntent(ctx context.Context, id int64, intentID string) error {
	_, err := s.ext.ExecContext(ctx,
		"UPDATE transactions SET payment_intent_id = $1, updated_at = NOW() WHERE id = $2",
		intentID, id)
	return err
}

// UpdateTransactionStatus updates transaction status
func (s *Store) UpdateTransactionStatus(ctx context.Context, id int64, status string) error {
	_, err := s.ext.ExecContext(ctx,
		"UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// IsWebhookEventProcessed checks the idempotency ledger for a provider
// event id
func (s *Store) IsWebhookEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.ext, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_webhook_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkWebhookEventProcessed records a provider event id in the
// idempotency ledger. The unique constraint on event_id is the second
// line of defense behind the application-level check.
func (s *Store) MarkWebhookEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.ext.ExecContext(ctx,
		"INSERT INTO processed_webhook_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
