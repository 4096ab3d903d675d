package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-service/internal/models"
	"ticket-service/internal/store/storetest"
)

type lifecycleFixture struct {
	store     *storetest.Store
	publisher *fakePublisher
	sm        *TicketStateMachine
	tt        *models.TicketType
	attendee  *models.Attendee
}

func newLifecycleFixture(t *testing.T, quantity *int) *lifecycleFixture {
	t.Helper()

	st := newMemStore()
	_, tt := seedEventAndType(st, quantity)

	attendee := &models.Attendee{
		ID:      "att-1",
		EventID: tt.EventID,
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
	}
	require.NoError(t, st.CreateAttendee(context.Background(), attendee))

	publisher := &fakePublisher{}
	ledger := NewCapacityLedger(st, nil)
	return &lifecycleFixture{
		store:     st,
		publisher: publisher,
		sm:        NewTicketStateMachine(st, ledger, publisher),
		tt:        tt,
		attendee:  attendee,
	}
}

func (f *lifecycleFixture) pendingTicket(t *testing.T) *models.Ticket {
	t.Helper()
	ticket, err := f.sm.CreatePending(context.Background(), f.tt, f.attendee.ID)
	require.NoError(t, err)
	require.Equal(t, models.TicketStatusPending, ticket.Status)
	require.NotEmpty(t, ticket.Token)
	return ticket
}

func TestMarkIssuedFromPending(t *testing.T) {
	f := newLifecycleFixture(t, nil)
	ticket := f.pendingTicket(t)

	issued, err := f.sm.MarkIssued(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusIssued, issued.Status)
	assert.NotEmpty(t, issued.QRCode)
	assert.Equal(t, 1, f.publisher.issuedCount())

	ev := f.publisher.issued[0]
	assert.Equal(t, ticket.ID, ev.TicketID)
	assert.Equal(t, ticket.Token, ev.Token)
	assert.Equal(t, f.attendee.Email, ev.AttendeeEmail)
}

func TestMarkIssuedIsIdempotent(t *testing.T) {
	f := newLifecycleFixture(t, nil)
	ticket := f.pendingTicket(t)

	_, err := f.sm.MarkIssued(context.Background(), ticket.ID)
	require.NoError(t, err)

	// A second issue call must not regenerate anything or re-notify.
	again, err := f.sm.MarkIssued(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusIssued, again.Status)
	assert.Equal(t, 1, f.publisher.issuedCount())
}

func TestMarkIssuedFromCancelledRejected(t *testing.T) {
	f := newLifecycleFixture(t, nil)
	ticket := f.pendingTicket(t)
	ctx := context.Background()

	require.NoError(t, f.sm.MarkCancelled(ctx, ticket.ID, "payment_failed"))

	_, err := f.sm.MarkIssued(ctx, ticket.ID)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.TicketStatusCancelled, invalid.From)
	assert.Equal(t, models.TicketStatusIssued, invalid.To)
}

func TestMarkCancelledReleasesCapacityOnce(t *testing.T) {
	f := newLifecycleFixture(t, intPtr(5))
	ctx := context.Background()

	ledger := NewCapacityLedger(f.store, nil)
	require.NoError(t, ledger.Reserve(ctx, f.tt.ID))
	ticket := f.pendingTicket(t)

	require.NoError(t, f.sm.MarkCancelled(ctx, ticket.ID, "payment_failed"))
	stored, err := f.store.GetTicketType(ctx, f.tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.QuantitySold)
	assert.Len(t, f.publisher.cancelled, 1)
	assert.Equal(t, "payment_failed", f.publisher.cancelled[0].Reason)

	// Cancelling a cancelled ticket is a no-op; the sold counter must
	// not go below the true value.
	require.NoError(t, f.sm.MarkCancelled(ctx, ticket.ID, "payment_failed"))
	stored, err = f.store.GetTicketType(ctx, f.tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.QuantitySold)
	assert.Len(t, f.publisher.cancelled, 1)
}

func TestMarkCancelledFromUsedRejected(t *testing.T) {
	f := newLifecycleFixture(t, nil)
	ticket := f.pendingTicket(t)
	ctx := context.Background()

	_, err := f.sm.MarkIssued(ctx, ticket.ID)
	require.NoError(t, err)
	_, err = f.sm.MarkUsed(ctx, ticket.ID, models.CheckinMeta{})
	require.NoError(t, err)

	err = f.sm.MarkCancelled(ctx, ticket.ID, "operator")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.TicketStatusUsed, invalid.From)
}

func TestMarkUsedStampsCheckinMetadata(t *testing.T) {
	f := newLifecycleFixture(t, nil)
	ticket := f.pendingTicket(t)
	ctx := context.Background()

	_, err := f.sm.MarkIssued(ctx, ticket.ID)
	require.NoError(t, err)

	meta := models.CheckinMeta{GateID: "gate-a", OperatorID: "op-7", Notes: "vip"}
	used, err := f.sm.MarkUsed(ctx, ticket.ID, meta)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusUsed, used.Status)
	require.NotNil(t, used.CheckedInAt)
	assert.WithinDuration(t, time.Now(), *used.CheckedInAt, 5*time.Second)
	assert.Equal(t, "gate-a", used.CheckinGateID)
	assert.Equal(t, "op-7", used.CheckinOperator)
	assert.Equal(t, "vip", used.CheckinNotes)
}

func TestMarkUsedRejectsNonIssued(t *testing.T) {
	ctx := context.Background()

	for _, from := range []string{models.TicketStatusPending, models.TicketStatusCancelled, models.TicketStatusUsed} {
		from := from
		t.Run(from, func(t *testing.T) {
			f := newLifecycleFixture(t, nil)
			ticket := f.pendingTicket(t)

			switch from {
			case models.TicketStatusCancelled:
				require.NoError(t, f.sm.MarkCancelled(ctx, ticket.ID, "test"))
			case models.TicketStatusUsed:
				_, err := f.sm.MarkIssued(ctx, ticket.ID)
				require.NoError(t, err)
				_, err = f.sm.MarkUsed(ctx, ticket.ID, models.CheckinMeta{})
				require.NoError(t, err)
			}

			_, err := f.sm.MarkUsed(ctx, ticket.ID, models.CheckinMeta{})
			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, from, invalid.From)
			assert.Equal(t, models.TicketStatusUsed, invalid.To)
		})
	}
}

func TestCreateIssuedDirectly(t *testing.T) {
	f := newLifecycleFixture(t, nil)

	ticket, err := f.sm.CreateIssuedDirectly(context.Background(), f.tt, f.attendee.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusIssued, ticket.Status)
	assert.NotEmpty(t, ticket.QRCode)
	assert.Equal(t, 1, f.publisher.issuedCount())
}
