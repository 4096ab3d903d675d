package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
)

const testWebhookSecret = "whsec_test"

func signedDelivery(t *testing.T, eventID, eventType, intentID string) ([]byte, string) {
	t.Helper()
	body := []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"data":{"object":{"id":%q,"amount":2500,"currency":"usd","status":"succeeded"}}}`,
		eventID, eventType, intentID))
	header := gateway.SignatureHeaderValue(body, testWebhookSecret, time.Now().Unix())
	return body, header
}

type reconcilerFixture struct {
	*lifecycleFixture
	reconciler *WebhookReconciler
}

func newReconcilerFixture(t *testing.T, quantity *int) *reconcilerFixture {
	t.Helper()
	f := newLifecycleFixture(t, quantity)
	return &reconcilerFixture{
		lifecycleFixture: f,
		reconciler:       NewWebhookReconciler(f.store, f.sm, testWebhookSecret, 5*time.Minute),
	}
}

// pendingPaidTicket sets up a pending ticket with a transaction awaiting
// the given payment intent, the state a registration leaves behind.
func (f *reconcilerFixture) pendingPaidTicket(t *testing.T, intentID string) *models.Ticket {
	t.Helper()
	ticket := f.pendingTicket(t)
	txn := &models.Transaction{
		TicketID:        ticket.ID,
		Amount:          2500,
		Currency:        "usd",
		Status:          models.TransactionStatusPending,
		PaymentIntentID: intentID,
	}
	require.NoError(t, f.store.CreateTransaction(context.Background(), txn))
	return ticket
}

func TestProcessDeliveryPaymentSucceeded(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()
	ticket := f.pendingPaidTicket(t, "pi_123")

	body, header := signedDelivery(t, "evt_1", gateway.EventPaymentSucceeded, "pi_123")
	require.NoError(t, f.reconciler.ProcessDelivery(ctx, body, header))

	stored, err := f.store.GetTicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusIssued, stored.Status)
	assert.NotEmpty(t, stored.QRCode)

	txn, err := f.store.GetTransactionByTicketID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)

	processed, err := f.store.IsWebhookEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, f.publisher.issuedCount())
}

// Redelivery of the same event must be acknowledged with no further
// effects: one issuance, one notification, one idempotency record.
func TestProcessDeliveryRedeliveryIsIdempotent(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()
	ticket := f.pendingPaidTicket(t, "pi_dup")

	body, header := signedDelivery(t, "evt_dup", gateway.EventPaymentSucceeded, "pi_dup")
	for i := 0; i < 3; i++ {
		require.NoError(t, f.reconciler.ProcessDelivery(ctx, body, header))
	}

	stored, err := f.store.GetTicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusIssued, stored.Status)
	assert.Equal(t, 1, f.publisher.issuedCount())
}

// A distinct event id for the same intent must also not re-issue; the
// state machine's issued-is-terminal-for-issue handling absorbs it.
func TestProcessDeliveryDistinctEventSameIntent(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ctx := context.Background()
	f.pendingPaidTicket(t, "pi_twice")

	body1, header1 := signedDelivery(t, "evt_a", gateway.EventPaymentSucceeded, "pi_twice")
	require.NoError(t, f.reconciler.ProcessDelivery(ctx, body1, header1))

	body2, header2 := signedDelivery(t, "evt_b", gateway.EventPaymentSucceeded, "pi_twice")
	require.NoError(t, f.reconciler.ProcessDelivery(ctx, body2, header2))

	assert.Equal(t, 1, f.publisher.issuedCount())
}

func TestProcessDeliveryPaymentFailed(t *testing.T) {
	f := newReconcilerFixture(t, intPtr(5))
	ctx := context.Background()

	ledger := NewCapacityLedger(f.store, nil)
	require.NoError(t, ledger.Reserve(ctx, f.tt.ID))
	ticket := f.pendingPaidTicket(t, "pi_fail")

	body, header := signedDelivery(t, "evt_f", gateway.EventPaymentFailed, "pi_fail")
	require.NoError(t, f.reconciler.ProcessDelivery(ctx, body, header))

	stored, err := f.store.GetTicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusCancelled, stored.Status)

	txn, err := f.store.GetTransactionByTicketID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txn.Status)

	// The failed payment's capacity unit goes back to the pool and is
	// available to the next registration.
	tt, err := f.store.GetTicketType(ctx, f.tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, tt.QuantitySold)
	assert.Len(t, f.publisher.cancelled, 1)
	assert.NoError(t, ledger.Reserve(ctx, f.tt.ID))
}

func TestProcessDeliveryRejectsBadSignature(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	ticket := f.pendingPaidTicket(t, "pi_sig")

	body, _ := signedDelivery(t, "evt_s", gateway.EventPaymentSucceeded, "pi_sig")
	wrong := gateway.SignatureHeaderValue(body, "whsec_other", time.Now().Unix())

	err := f.reconciler.ProcessDelivery(context.Background(), body, wrong)
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	stored, err := f.store.GetTicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, stored.Status)
}

func TestProcessDeliveryRejectsStaleTimestamp(t *testing.T) {
	f := newReconcilerFixture(t, nil)

	body := []byte(`{"id":"evt_old","type":"payment_intent.succeeded","data":{"object":{"id":"pi_old"}}}`)
	stale := time.Now().Add(-time.Hour).Unix()
	header := gateway.SignatureHeaderValue(body, testWebhookSecret, stale)

	err := f.reconciler.ProcessDelivery(context.Background(), body, header)
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestProcessDeliveryMalformedBody(t *testing.T) {
	f := newReconcilerFixture(t, nil)

	body := []byte(`{"not":"an event"`)
	header := gateway.SignatureHeaderValue(body, testWebhookSecret, time.Now().Unix())

	err := f.reconciler.ProcessDelivery(context.Background(), body, header)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestProcessDeliveryIgnoresUnknownEventTypes(t *testing.T) {
	f := newReconcilerFixture(t, nil)

	body, header := signedDelivery(t, "evt_x", "charge.refunded", "pi_x")
	assert.NoError(t, f.reconciler.ProcessDelivery(context.Background(), body, header))

	processed, err := f.store.IsWebhookEventProcessed(context.Background(), "evt_x")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessDeliveryUnknownIntent(t *testing.T) {
	f := newReconcilerFixture(t, nil)

	body, header := signedDelivery(t, "evt_m", gateway.EventPaymentSucceeded, "pi_missing")
	err := f.reconciler.ProcessDelivery(context.Background(), body, header)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	// The event must stay unprocessed so a retry after the transaction
	// appears can still apply it.
	processed, perr := f.store.IsWebhookEventProcessed(context.Background(), "evt_m")
	require.NoError(t, perr)
	assert.False(t, processed)
}
