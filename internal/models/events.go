package models

import "time"

// Notification event types published to the broker
const (
	EventTypeTicketIssued    = "TICKET_ISSUED"
	EventTypeTicketCancelled = "TICKET_CANCELLED"
	EventTypeEventReminder   = "EVENT_REMINDER"
)

// BaseEvent contains common fields for all broker events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// TicketIssuedEvent published when a ticket reaches issued, so the
// notification worker can send the ticket email without blocking the
// state transition
type TicketIssuedEvent struct {
	BaseEvent
	TicketID      int64  `json:"ticket_id"`
	Token         string `json:"token"`
	AttendeeID    string `json:"attendee_id"`
	AttendeeEmail string `json:"attendee_email"`
	AttendeeName  string `json:"attendee_name"`
	EventName     string `json:"event_name"`
	QRCode        []byte `json:"qr_code"`
}

// TicketCancelledEvent published when a ticket is cancelled
type TicketCancelledEvent struct {
	BaseEvent
	TicketID   int64  `json:"ticket_id"`
	AttendeeID string `json:"attendee_id"`
	Reason     string `json:"reason"`
}

// EventReminderEvent published ahead of an event's start time
type EventReminderEvent struct {
	BaseEvent
	TicketID      int64     `json:"ticket_id"`
	AttendeeEmail string    `json:"attendee_email"`
	EventName     string    `json:"event_name"`
	StartsAt      time.Time `json:"starts_at"`
}
