package service

import (
	"context"
	"fmt"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/qr"
	"ticket-service/internal/store"
	"ticket-service/internal/token"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationPublisher is the slice of the broker the state machine
// needs. Publish failures are logged, never propagated into ticket
// state.
type NotificationPublisher interface {
	PublishTicketIssued(ctx context.Context, event *models.TicketIssuedEvent) error
	PublishTicketCancelled(ctx context.Context, event *models.TicketCancelledEvent) error
}

// TicketStateMachine owns ticket status transitions and the invariants
// gating each one:
//
//	pending   -> issued, cancelled
//	issued    -> used, cancelled
//	cancelled -> (terminal)
//	used      -> (terminal)
//
// All other components mutate ticket status only through this type.
type TicketStateMachine struct {
	store     store.TicketStore
	ledger    *CapacityLedger
	publisher NotificationPublisher
	logger    *zap.Logger
}

// NewTicketStateMachine creates a new ticket state machine
func NewTicketStateMachine(st store.TicketStore, ledger *CapacityLedger, publisher NotificationPublisher) *TicketStateMachine {
	return &TicketStateMachine{
		store:     st,
		ledger:    ledger,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// WithStore returns a copy of the state machine bound to st, so
// transitions can participate in a caller-owned transaction (the
// webhook reconciler's unit of work).
func (sm *TicketStateMachine) WithStore(st store.TicketStore) *TicketStateMachine {
	c := *sm
	c.store = st
	c.ledger = sm.ledger.WithStore(st)
	return &c
}

// CreatePending creates a ticket awaiting payment. The caller must hold
// a successful capacity reservation for the ticket type.
func (sm *TicketStateMachine) CreatePending(ctx context.Context, tt *models.TicketType, attendeeID string) (*models.Ticket, error) {
	ctx, span := util.StartSpan(ctx, "TicketStateMachine.CreatePending")
	defer span.End()

	ticket := &models.Ticket{
		Token:        token.Generate(),
		EventID:      tt.EventID,
		TicketTypeID: tt.ID,
		AttendeeID:   attendeeID,
		Status:       models.TicketStatusPending,
	}
	if err := sm.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	sm.logger.Info("ticket created",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("status", ticket.Status))
	return ticket, nil
}

// CreateIssuedDirectly creates a ticket for a free ticket type: the QR
// artifact is generated and the ticket is issued in one step.
func (sm *TicketStateMachine) CreateIssuedDirectly(ctx context.Context, tt *models.TicketType, attendeeID string) (*models.Ticket, error) {
	ctx, span := util.StartSpan(ctx, "TicketStateMachine.CreateIssuedDirectly")
	defer span.End()

	tok := token.Generate()
	qrCode, err := qr.Encode(tok)
	if err != nil {
		return nil, err
	}

	ticket := &models.Ticket{
		Token:        tok,
		EventID:      tt.EventID,
		TicketTypeID: tt.ID,
		AttendeeID:   attendeeID,
		Status:       models.TicketStatusIssued,
		QRCode:       qrCode,
	}
	if err := sm.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	util.TicketsIssuedTotal.Inc()
	sm.logger.Info("ticket issued directly", zap.Int64("ticket_id", ticket.ID))

	sm.notifyIssued(ctx, ticket)
	return ticket, nil
}

// MarkIssued transitions a pending ticket to issued, generating its QR
// artifact and signalling the notifier. Calling it on an already-issued
// or used ticket returns the current state without re-notifying or
// regenerating anything, which makes webhook redelivery safe. A
// cancelled ticket cannot be issued.
func (sm *TicketStateMachine) MarkIssued(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	ctx, span := util.StartSpan(ctx, "TicketStateMachine.MarkIssued")
	defer span.End()

	ticket, err := sm.store.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	switch ticket.Status {
	case models.TicketStatusIssued, models.TicketStatusUsed:
		// Already issued; redelivery no-op.
		return ticket, nil
	case models.TicketStatusCancelled:
		return nil, sm.rejectTransition(ticket, models.TicketStatusIssued)
	}

	qrCode, err := qr.Encode(ticket.Token)
	if err != nil {
		return nil, err
	}

	ok, err := sm.store.MarkTicketIssued(ctx, ticketID, qrCode)
	if err != nil {
		return nil, fmt.Errorf("failed to issue ticket: %w", err)
	}
	if !ok {
		// Lost a race with a concurrent writer; report what won.
		return sm.store.GetTicketByID(ctx, ticketID)
	}

	ticket.Status = models.TicketStatusIssued
	ticket.QRCode = qrCode

	util.TicketsIssuedTotal.Inc()
	sm.logger.Info("ticket issued", zap.Int64("ticket_id", ticketID))

	sm.notifyIssued(ctx, ticket)
	return ticket, nil
}

// MarkCancelled transitions a pending or issued ticket to cancelled and
// releases its capacity reservation. A no-op when the ticket is already
// cancelled; rejected when the ticket has been used.
func (sm *TicketStateMachine) MarkCancelled(ctx context.Context, ticketID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "TicketStateMachine.MarkCancelled")
	defer span.End()

	ticket, err := sm.store.GetTicketByID(ctx, ticketID)
	if err != nil {
		return err
	}

	switch ticket.Status {
	case models.TicketStatusCancelled:
		return nil
	case models.TicketStatusUsed:
		return sm.rejectTransition(ticket, models.TicketStatusCancelled)
	}

	ok, err := sm.store.MarkTicketCancelled(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("failed to cancel ticket: %w", err)
	}
	if !ok {
		// Concurrent transition beat us; cancelled is fine, used is not.
		current, err := sm.store.GetTicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Status == models.TicketStatusCancelled {
			return nil
		}
		return sm.rejectTransition(current, models.TicketStatusCancelled)
	}

	if err := sm.ledger.Release(ctx, ticket.TicketTypeID); err != nil {
		return err
	}

	util.TicketsCancelledTotal.WithLabelValues(reason).Inc()
	sm.logger.Info("ticket cancelled",
		zap.Int64("ticket_id", ticketID),
		zap.String("reason", reason))

	sm.notifyCancelled(ctx, ticket, reason)
	return nil
}

// MarkUsed transitions an issued ticket to used, stamping the check-in
// time and metadata. This is the only mutator the check-in gate may
// invoke. The conditional write ensures that of two concurrent scans of
// the same token exactly one succeeds.
func (sm *TicketStateMachine) MarkUsed(ctx context.Context, ticketID int64, meta models.CheckinMeta) (*models.Ticket, error) {
	ctx, span := util.StartSpan(ctx, "TicketStateMachine.MarkUsed")
	defer span.End()

	ticket, err := sm.store.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.TicketStatusIssued {
		return nil, sm.rejectTransition(ticket, models.TicketStatusUsed)
	}

	now := time.Now().UTC()
	ok, err := sm.store.MarkTicketUsed(ctx, ticketID, now, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to mark ticket used: %w", err)
	}
	if !ok {
		// Lost the race at write time.
		current, err := sm.store.GetTicketByID(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		return nil, sm.rejectTransition(current, models.TicketStatusUsed)
	}

	ticket.Status = models.TicketStatusUsed
	ticket.CheckedInAt = &now
	ticket.CheckinGateID = meta.GateID
	ticket.CheckinOperator = meta.OperatorID
	ticket.CheckinNotes = meta.Notes

	sm.logger.Info("ticket used",
		zap.Int64("ticket_id", ticketID),
		zap.String("gate", meta.GateID))
	return ticket, nil
}

// rejectTransition logs an invalid transition at high severity and
// returns the typed error. These are integration bugs, not user-facing
// conditions, and are logged distinctly from business-rule rejections.
func (sm *TicketStateMachine) rejectTransition(ticket *models.Ticket, to string) error {
	util.InvalidTransitionsTotal.Inc()
	err := &InvalidTransitionError{
		TicketID: ticket.ID,
		From:     ticket.Status,
		To:       to,
	}
	sm.logger.Error("invalid ticket transition",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("from", ticket.Status),
		zap.String("to", to))
	return err
}

func (sm *TicketStateMachine) notifyIssued(ctx context.Context, ticket *models.Ticket) {
	if sm.publisher == nil {
		return
	}

	attendee, err := sm.store.GetAttendee(ctx, ticket.AttendeeID)
	if err != nil {
		sm.logger.Error("failed to load attendee for notification",
			zap.String("attendee_id", ticket.AttendeeID),
			zap.Error(err))
		return
	}
	event, err := sm.store.GetEvent(ctx, ticket.EventID)
	if err != nil {
		sm.logger.Error("failed to load event for notification",
			zap.Int64("event_id", ticket.EventID),
			zap.Error(err))
		return
	}

	msg := &models.TicketIssuedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeTicketIssued,
			Timestamp: time.Now(),
		},
		TicketID:      ticket.ID,
		Token:         ticket.Token,
		AttendeeID:    attendee.ID,
		AttendeeEmail: attendee.Email,
		AttendeeName:  attendee.Name,
		EventName:     event.Name,
		QRCode:        ticket.QRCode,
	}
	if err := sm.publisher.PublishTicketIssued(ctx, msg); err != nil {
		sm.logger.Error("failed to publish TicketIssued event",
			zap.Int64("ticket_id", ticket.ID),
			zap.Error(err))
	}
}

func (sm *TicketStateMachine) notifyCancelled(ctx context.Context, ticket *models.Ticket, reason string) {
	if sm.publisher == nil {
		return
	}

	msg := &models.TicketCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeTicketCancelled,
			Timestamp: time.Now(),
		},
		TicketID:   ticket.ID,
		AttendeeID: ticket.AttendeeID,
		Reason:     reason,
	}
	if err := sm.publisher.PublishTicketCancelled(ctx, msg); err != nil {
		sm.logger.Error("failed to publish TicketCancelled event",
			zap.Int64("ticket_id", ticket.ID),
			zap.Error(err))
	}
}
