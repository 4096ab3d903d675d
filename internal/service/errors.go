package service

import (
	"errors"
	"fmt"
	"time"
)

// Capacity errors
var (
	// ErrSoldOut is returned when a ticket type has no remaining capacity.
	ErrSoldOut = errors.New("ticket type sold out")

	// ErrUnknownTicketType is returned when the ticket type does not exist.
	ErrUnknownTicketType = errors.New("unknown ticket type")
)

// Reconciler errors
var (
	// ErrTransactionNotFound indicates a webhook referenced a payment
	// intent with no stored transaction. This is a data-integrity
	// problem, not a retryable condition.
	ErrTransactionNotFound = errors.New("no transaction for payment intent")

	// ErrMalformedEvent indicates a webhook body that verified but
	// could not be decoded. Retrying will not fix it.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// InvalidTransitionError is returned when a state-machine operation is
// attempted from a state the transition table does not allow. It
// indicates an integration bug rather than a user mistake.
type InvalidTransitionError struct {
	TicketID int64
	From     string
	To       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid ticket transition %s -> %s (ticket %d)", e.From, e.To, e.TicketID)
}

// Check-in rejection reasons
const (
	CheckInMalformedToken   = "MALFORMED_TOKEN"
	CheckInNotFound         = "NOT_FOUND"
	CheckInPaymentPending   = "PAYMENT_PENDING"
	CheckInCancelled        = "CANCELLED"
	CheckInAlreadyCheckedIn = "ALREADY_CHECKED_IN"
	CheckInTooEarly         = "TOO_EARLY"
	CheckInEventEnded       = "EVENT_ENDED"
)

// CheckInError is a business-rule rejection from the check-in gate. It
// carries enough context for gate staff to act without contacting
// support: who checked in and when for double scans, the event start
// time for early arrivals.
type CheckInError struct {
	Reason        string
	CheckedInAt   *time.Time
	AttendeeName  string
	EventStartsAt *time.Time
	EventEndsAt   *time.Time
}

func (e *CheckInError) Error() string {
	return fmt.Sprintf("check-in rejected: %s", e.Reason)
}

// Is allows errors.Is matching against another CheckInError by reason.
func (e *CheckInError) Is(target error) bool {
	var other *CheckInError
	if errors.As(target, &other) {
		return e.Reason == other.Reason
	}
	return false
}
