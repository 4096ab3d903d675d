package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/store/storetest"
)

type registrationFixture struct {
	store   *storetest.Store
	gateway *gateway.MockGateway
	svc     *RegistrationService
	tt      *models.TicketType
}

func newRegistrationFixture(t *testing.T, price decimal.Decimal, quantity *int) *registrationFixture {
	t.Helper()

	st := newMemStore()
	_, tt := seedEventAndType(st, quantity)
	tt.Price = price
	st.AddTicketType(tt)

	gw := gateway.NewMockGateway()
	ledger := NewCapacityLedger(st, nil)
	sm := NewTicketStateMachine(st, ledger, &fakePublisher{})
	return &registrationFixture{
		store:   st,
		gateway: gw,
		svc:     NewRegistrationService(st, ledger, sm, gw),
		tt:      tt,
	}
}

func registerReq(ticketTypeID int64) *RegisterRequest {
	return &RegisterRequest{
		TicketTypeID: ticketTypeID,
		Name:         "Grace Hopper",
		Email:        "grace@example.com",
	}
}

func TestRegisterFreeTicketIssuedImmediately(t *testing.T) {
	f := newRegistrationFixture(t, decimal.Zero, intPtr(10))
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, registerReq(f.tt.ID))
	require.NoError(t, err)

	assert.False(t, resp.RequiresPayment)
	require.NotNil(t, resp.Ticket)
	assert.Equal(t, models.TicketStatusIssued, resp.Ticket.Status)
	assert.NotEmpty(t, resp.QRCode)
	assert.Empty(t, resp.ClientSecret)

	attendee, err := f.store.GetAttendee(ctx, resp.Ticket.AttendeeID)
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", attendee.Email)

	// No transaction for a free ticket.
	_, err = f.store.GetTransactionByTicketID(ctx, resp.Ticket.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegisterPaidTicketPendingWithIntent(t *testing.T) {
	f := newRegistrationFixture(t, decimal.NewFromFloat(25.00), intPtr(10))
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, registerReq(f.tt.ID))
	require.NoError(t, err)

	assert.True(t, resp.RequiresPayment)
	assert.NotEmpty(t, resp.ClientSecret)
	assert.Nil(t, resp.Ticket)

	ticket, err := f.store.GetTicketByID(ctx, resp.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, ticket.Status)
	assert.Empty(t, ticket.QRCode)

	txn, err := f.store.GetTransactionByTicketID(ctx, resp.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, txn.Status)
	assert.Equal(t, int64(2500), txn.Amount)
	require.Len(t, f.gateway.Intents(), 1)
	assert.Equal(t, f.gateway.Intents()[0].ID, txn.PaymentIntentID)
}

func TestRegisterUnknownTicketType(t *testing.T) {
	f := newRegistrationFixture(t, decimal.Zero, nil)

	_, err := f.svc.Register(context.Background(), registerReq(999))
	assert.ErrorIs(t, err, ErrUnknownTicketType)
}

func TestRegisterSoldOut(t *testing.T) {
	f := newRegistrationFixture(t, decimal.Zero, intPtr(1))
	ctx := context.Background()

	_, err := f.svc.Register(ctx, registerReq(f.tt.ID))
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, registerReq(f.tt.ID))
	assert.ErrorIs(t, err, ErrSoldOut)
}

// A transient gateway failure must leave the ticket pending with no
// transaction: the reservation stands and the client can retry payment
// later, while reconciliation or cancellation can still resolve it.
func TestRegisterGatewayFailureLeavesPendingTicket(t *testing.T) {
	f := newRegistrationFixture(t, decimal.NewFromFloat(25.00), intPtr(10))
	f.gateway.Err = errors.New("connection refused")
	ctx := context.Background()

	_, err := f.svc.Register(ctx, registerReq(f.tt.ID))
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	tt, err := f.store.GetTicketType(ctx, f.tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tt.QuantitySold)

	ticket, err := f.store.GetTicketByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, ticket.Status)

	_, err = f.store.GetTransactionByTicketID(ctx, ticket.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
