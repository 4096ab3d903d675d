package service

import (
	"context"
	"errors"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/token"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// AdmissionSummary is returned on successful check-in (and by the
// read-only probe) so gate staff can see who they admitted.
type AdmissionSummary struct {
	Ticket   *models.Ticket   `json:"ticket"`
	Attendee *models.Attendee `json:"attendee"`
	Event    *models.Event    `json:"event"`
}

// CheckInGate decides whether a presented token may be admitted. It is
// a consumer of the state machine, never an owner of ticket state: the
// only mutation it performs goes through TicketStateMachine.MarkUsed.
type CheckInGate struct {
	store       store.TicketStore
	lifecycle   *TicketStateMachine
	opensBefore time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewCheckInGate creates a check-in gate. opensBefore is how long
// before event start check-in opens.
func NewCheckInGate(st store.TicketStore, lifecycle *TicketStateMachine, opensBefore time.Duration) *CheckInGate {
	return &CheckInGate{
		store:       st,
		lifecycle:   lifecycle,
		opensBefore: opensBefore,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// Admit validates the token and, if every rule passes, marks the ticket
// used. Of two concurrent scans of the same token exactly one is
// admitted; the other receives AlreadyCheckedIn.
func (g *CheckInGate) Admit(ctx context.Context, tok string, meta models.CheckinMeta) (*AdmissionSummary, error) {
	ctx, span := util.StartSpan(ctx, "CheckInGate.Admit")
	defer span.End()

	summary, err := g.evaluate(ctx, tok)
	if err != nil {
		g.observe(err)
		return nil, err
	}

	ticket, err := g.lifecycle.MarkUsed(ctx, summary.Ticket.ID, meta)
	if err != nil {
		// A concurrent scan may have won between evaluation and the
		// conditional write; report it as a double check-in rather
		// than an integrity error.
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) && invalid.From == models.TicketStatusUsed {
			current, readErr := g.store.GetTicketByID(ctx, summary.Ticket.ID)
			if readErr == nil {
				err = g.alreadyCheckedIn(current, summary.Attendee)
			}
		}
		g.observe(err)
		return nil, err
	}

	summary.Ticket = ticket
	util.CheckinsTotal.WithLabelValues("admitted").Inc()
	g.logger.Info("ticket admitted",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("gate", meta.GateID),
		zap.String("operator", meta.OperatorID))
	return summary, nil
}

// Probe evaluates the admission rules without mutating anything. Used
// by scanners to show eligibility before committing a scan.
func (g *CheckInGate) Probe(ctx context.Context, tok string) (*AdmissionSummary, error) {
	ctx, span := util.StartSpan(ctx, "CheckInGate.Probe")
	defer span.End()

	return g.evaluate(ctx, tok)
}

// evaluate runs the admission rules in order; the first failing rule
// wins. Syntax and existence precede status checks so a scanner cannot
// distinguish more than it operationally needs to, and AlreadyCheckedIn
// is distinguishable from never-issued so staff can resolve double
// scans on the spot.
func (g *CheckInGate) evaluate(ctx context.Context, tok string) (*AdmissionSummary, error) {
	if !token.ValidateSyntax(tok) {
		return nil, &CheckInError{Reason: CheckInMalformedToken}
	}

	ticket, err := g.store.GetTicketByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &CheckInError{Reason: CheckInNotFound}
		}
		return nil, err
	}

	attendee, err := g.store.GetAttendee(ctx, ticket.AttendeeID)
	if err != nil {
		return nil, err
	}

	switch ticket.Status {
	case models.TicketStatusPending:
		return nil, &CheckInError{Reason: CheckInPaymentPending}
	case models.TicketStatusCancelled:
		return nil, &CheckInError{Reason: CheckInCancelled}
	case models.TicketStatusUsed:
		return nil, g.alreadyCheckedIn(ticket, attendee)
	}

	event, err := g.store.GetEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	if opensAt := event.StartsAt.Add(-g.opensBefore); now.Before(opensAt) {
		return nil, &CheckInError{
			Reason:        CheckInTooEarly,
			EventStartsAt: &event.StartsAt,
		}
	}
	if now.After(event.EndsAt) {
		return nil, &CheckInError{
			Reason:      CheckInEventEnded,
			EventEndsAt: &event.EndsAt,
		}
	}

	return &AdmissionSummary{Ticket: ticket, Attendee: attendee, Event: event}, nil
}

func (g *CheckInGate) alreadyCheckedIn(ticket *models.Ticket, attendee *models.Attendee) *CheckInError {
	e := &CheckInError{
		Reason:      CheckInAlreadyCheckedIn,
		CheckedInAt: ticket.CheckedInAt,
	}
	if attendee != nil {
		e.AttendeeName = attendee.Name
	}
	return e
}

func (g *CheckInGate) observe(err error) {
	var rejection *CheckInError
	if errors.As(err, &rejection) {
		// Business-rule rejections are expected; info-level audit only.
		util.CheckinsTotal.WithLabelValues(rejection.Reason).Inc()
		g.logger.Info("check-in rejected", zap.String("reason", rejection.Reason))
		return
	}
	util.CheckinsTotal.WithLabelValues("error").Inc()
	g.logger.Error("check-in failed", zap.Error(err))
}
