package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event represents a ticketed event
type Event struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Venue     string    `db:"venue" json:"venue"`
	StartsAt  time.Time `db:"starts_at" json:"starts_at"`
	EndsAt    time.Time `db:"ends_at" json:"ends_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Attendee represents a registered attendee
type Attendee struct {
	ID        string    `db:"id" json:"id"`
	EventID   int64     `db:"event_id" json:"event_id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TicketType represents a sellable ticket category for an event.
// Quantity nil means unlimited capacity.
type TicketType struct {
	ID           int64           `db:"id" json:"id"`
	EventID      int64           `db:"event_id" json:"event_id"`
	Name         string          `db:"name" json:"name"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Currency     string          `db:"currency" json:"currency"`
	Quantity     *int            `db:"quantity" json:"quantity,omitempty"`
	QuantitySold int             `db:"quantity_sold" json:"quantity_sold"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// IsFree reports whether the ticket type requires no payment.
func (tt *TicketType) IsFree() bool {
	return tt.Price.IsZero()
}

// PriceMinorUnits returns the price in the smallest currency unit,
// e.g. cents for USD, as payment providers expect.
func (tt *TicketType) PriceMinorUnits() int64 {
	return tt.Price.Shift(2).IntPart()
}

// Ticket represents a single admission ticket
type Ticket struct {
	ID              int64      `db:"id" json:"id"`
	Token           string     `db:"token" json:"token"`
	EventID         int64      `db:"event_id" json:"event_id"`
	TicketTypeID    int64      `db:"ticket_type_id" json:"ticket_type_id"`
	AttendeeID      string     `db:"attendee_id" json:"attendee_id"`
	Status          string     `db:"status" json:"status"`
	QRCode          []byte     `db:"qr_code" json:"qr_code,omitempty"`
	CheckedInAt     *time.Time `db:"checked_in_at" json:"checked_in_at,omitempty"`
	CheckinGateID   string     `db:"checkin_gate_id" json:"checkin_gate_id,omitempty"`
	CheckinOperator string     `db:"checkin_operator" json:"checkin_operator,omitempty"`
	CheckinNotes    string     `db:"checkin_notes" json:"checkin_notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Transaction represents the payment for a single ticket (1:1)
type Transaction struct {
	ID              int64     `db:"id" json:"id"`
	TicketID        int64     `db:"ticket_id" json:"ticket_id"`
	Amount          int64     `db:"amount" json:"amount"`
	Currency        string    `db:"currency" json:"currency"`
	Status          string    `db:"status" json:"status"`
	PaymentIntentID string    `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Ticket statuses
const (
	TicketStatusPending   = "pending"
	TicketStatusIssued    = "issued"
	TicketStatusCancelled = "cancelled"
	TicketStatusUsed      = "used"
)

// Transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// ProcessedWebhookEvent is the idempotency ledger for provider webhooks.
// A row exists iff the event's effects have been durably applied.
type ProcessedWebhookEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// CheckinMeta carries optional metadata attached at check-in time
type CheckinMeta struct {
	GateID     string `json:"gate_id,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
}
