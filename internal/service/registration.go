package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrGatewayUnavailable wraps transient payment-provider failures so
// the HTTP layer can tell the caller to retry. The ticket stays pending
// with no transaction committed; it is never cancelled for a transient
// error.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// RegistrationService orchestrates a registration: reserve capacity,
// create the attendee and ticket, and for paid types create the payment
// intent the caller completes client-side.
type RegistrationService struct {
	store     store.TicketStore
	ledger    *CapacityLedger
	lifecycle *TicketStateMachine
	gateway   gateway.Gateway
	logger    *zap.Logger
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(st store.TicketStore, ledger *CapacityLedger, lifecycle *TicketStateMachine, gw gateway.Gateway) *RegistrationService {
	return &RegistrationService{
		store:     st,
		ledger:    ledger,
		lifecycle: lifecycle,
		gateway:   gw,
		logger:    util.GetLogger(),
	}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	TicketTypeID int64  `json:"ticket_type_id" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Phone        string `json:"phone"`
}

// RegisterResponse represents the outcome of a registration. For free
// ticket types the ticket is issued immediately; for paid types the
// caller completes payment with the client secret.
type RegisterResponse struct {
	Ticket          *models.Ticket `json:"ticket,omitempty"`
	QRCode          []byte         `json:"qr_code,omitempty"`
	TicketID        int64          `json:"ticket_id,omitempty"`
	ClientSecret    string         `json:"client_secret,omitempty"`
	RequiresPayment bool           `json:"requires_payment"`
}

// Register handles one registration request end to end.
func (rs *RegistrationService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	ctx, span := util.StartSpan(ctx, "RegistrationService.Register")
	defer span.End()

	tt, err := rs.store.GetTicketType(ctx, req.TicketTypeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.RegistrationsTotal.WithLabelValues("unknown_type").Inc()
			return nil, ErrUnknownTicketType
		}
		return nil, err
	}

	if err := rs.ledger.Reserve(ctx, tt.ID); err != nil {
		util.RegistrationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// Everything past the reservation compensates on failure so an
	// aborted registration cannot strand a capacity unit.
	attendee := &models.Attendee{
		ID:      uuid.New().String(),
		EventID: tt.EventID,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
	}
	if err := rs.store.CreateAttendee(ctx, attendee); err != nil {
		rs.compensateReservation(ctx, tt.ID)
		util.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to create attendee: %w", err)
	}

	if tt.IsFree() {
		return rs.registerFree(ctx, tt, attendee)
	}
	return rs.registerPaid(ctx, tt, attendee)
}

func (rs *RegistrationService) registerFree(ctx context.Context, tt *models.TicketType, attendee *models.Attendee) (*RegisterResponse, error) {
	ticket, err := rs.lifecycle.CreateIssuedDirectly(ctx, tt, attendee.ID)
	if err != nil {
		rs.compensateReservation(ctx, tt.ID)
		util.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	util.RegistrationsTotal.WithLabelValues("free").Inc()
	return &RegisterResponse{
		Ticket: ticket,
		QRCode: ticket.QRCode,
	}, nil
}

func (rs *RegistrationService) registerPaid(ctx context.Context, tt *models.TicketType, attendee *models.Attendee) (*RegisterResponse, error) {
	ticket, err := rs.lifecycle.CreatePending(ctx, tt, attendee.ID)
	if err != nil {
		rs.compensateReservation(ctx, tt.ID)
		util.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	start := time.Now()
	intent, err := rs.gateway.CreateIntent(ctx, tt.PriceMinorUnits(), tt.Currency, map[string]string{
		"ticket_id":   fmt.Sprintf("%d", ticket.ID),
		"attendee_id": attendee.ID,
	})
	util.PaymentIntentLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		// Transient failure: the ticket stays pending with no
		// transaction committed, so a retried payment or a later
		// cancellation path can still resolve it.
		util.RegistrationsTotal.WithLabelValues("gateway_error").Inc()
		rs.logger.Warn("payment intent creation failed",
			zap.Int64("ticket_id", ticket.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	txn := &models.Transaction{
		TicketID:        ticket.ID,
		Amount:          tt.PriceMinorUnits(),
		Currency:        tt.Currency,
		Status:          models.TransactionStatusPending,
		PaymentIntentID: intent.ID,
	}
	if err := rs.store.CreateTransaction(ctx, txn); err != nil {
		util.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	util.RegistrationsTotal.WithLabelValues("paid").Inc()
	rs.logger.Info("registration pending payment",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("intent_id", intent.ID))

	return &RegisterResponse{
		TicketID:        ticket.ID,
		ClientSecret:    intent.ClientSecret,
		RequiresPayment: true,
	}, nil
}

// compensateReservation rolls back a capacity reservation after a
// failure between the reserve and the durable ticket create.
func (rs *RegistrationService) compensateReservation(ctx context.Context, ticketTypeID int64) {
	if err := rs.ledger.Release(ctx, ticketTypeID); err != nil {
		rs.logger.Error("failed to compensate reservation",
			zap.Int64("ticket_type_id", ticketTypeID),
			zap.Error(err))
	}
}
